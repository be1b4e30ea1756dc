// Package ui shows camera frames with detected faces drawn on top.
package ui

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/facekit/internal/face"
)

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	textColor = color.RGBA{R: 255, G: 255, B: 0, A: 255}
)

// Window manages the preview display
type Window struct {
	window     *gocv.Window
	name       string
	lastFrame  time.Time
	frameCount int
	fps        float64
}

// NewWindow creates a new preview window
func NewWindow(name string) *Window {
	window := gocv.NewWindow(name)
	// Force window to appear on macOS
	window.ResizeWindow(1280, 720)
	window.MoveWindow(100, 100)
	return &Window{
		window:    window,
		name:      name,
		lastFrame: time.Now(),
	}
}

// Overlay is what gets drawn for one face
type Overlay struct {
	Region face.Region
	Label  string
}

// Show draws the overlays and the FPS counter onto frame and displays it
func (w *Window) Show(frame *gocv.Mat, overlays []Overlay) {
	w.frameCount++
	now := time.Now()

	// Calculate FPS every second
	elapsed := now.Sub(w.lastFrame)
	if elapsed >= time.Second {
		w.fps = float64(w.frameCount) / elapsed.Seconds()
		w.frameCount = 0
		w.lastFrame = now
	}

	for _, o := range overlays {
		rect := image.Rect(int(o.Region.Left), int(o.Region.Top), int(o.Region.Right), int(o.Region.Bottom))
		gocv.Rectangle(frame, rect, boxColor, 2)
		if o.Label != "" {
			gocv.PutText(frame, o.Label, image.Pt(rect.Min.X, rect.Min.Y-6),
				gocv.FontHersheyPlain, 1.2, textColor, 1)
		}
	}

	fpsText := fmt.Sprintf("FPS: %.1f  Faces: %d", w.fps, len(overlays))
	gocv.PutText(frame, fpsText, image.Pt(10, 30),
		gocv.FontHersheyPlain, 2, boxColor, 2)

	w.window.IMShow(*frame)
}

// WaitKey waits for key press, returns key code or -1
func (w *Window) WaitKey(delayMs int) int {
	return w.window.WaitKey(delayMs)
}

// FPS returns current frames per second
func (w *Window) FPS() float64 {
	return w.fps
}

// Close closes the window
func (w *Window) Close() error {
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
