// Package landmark predicts the 106-point facial landmark layout for a
// detected face region.
package landmark

import (
	"fmt"
	"math"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/model"
)

const (
	inputSize  = 192
	inputMean  = 127.5
	inputStd   = 128.0
	cropFactor = 1.5 // crop side relative to the longer region edge
)

// IO names the graph input and output of the landmark network
var IO = inference.IO{
	Inputs:  []string{"data"},
	Outputs: []string{"fc1"},
}

// Predictor detects 106 facial landmarks using insightface's 2d106det model
type Predictor struct {
	handle *model.RunnerHandle
}

// Load loads the landmark network of the bundle
func Load(b *model.Bundle, loader inference.Loader) (*Predictor, error) {
	h, err := model.AcquireRunner(b, model.RoleLandmarks, loader, IO)
	if err != nil {
		return nil, err
	}
	return New(h), nil
}

// New wraps a loaded landmark handle
func New(h *model.RunnerHandle) *Predictor {
	return &Predictor{handle: h}
}

// Handle exposes the lifecycle of the landmark network
func (p *Predictor) Handle() model.Releaser {
	return p.handle
}

// Predict extracts the landmarks of the face inside region. The region is
// clamped to the image first; every returned point lies inside the image.
func (p *Predictor) Predict(img *imagebuf.Buffer, region face.Region) (face.Landmarks, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: %s", face.ErrModelNotLoaded, model.RoleLandmarks)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}

	box := face.Rect(region.Left, region.Top, region.Right, region.Bottom).Clamp(img.Width(), img.Height())
	if box.Empty() {
		return nil, fmt.Errorf("%w: %.1f,%.1f,%.1f,%.1f outside %dx%d image",
			face.ErrInvalidRegion, region.Left, region.Top, region.Right, region.Bottom, img.Width(), img.Height())
	}

	// Calculate crop parameters (1.5x expansion like insightface)
	center := box.Center()
	scale := float32(inputSize) / (max(box.Width(), box.Height()) * cropFactor)

	m := imagebuf.ScaleTranslate(float64(scale), float64(center.X), float64(center.Y), inputSize/2, inputSize/2)
	crop := imagebuf.Warp(img, m, inputSize, inputSize)

	input, err := inference.NewTensor(imagebuf.ToCHW(crop, imagebuf.Uniform(inputMean, inputStd)), 1, 3, inputSize, inputSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", face.ErrInference, model.RoleLandmarks, err)
	}

	outputs, err := model.Run(p.handle, 1, input)
	if err != nil {
		return nil, err
	}
	output := outputs[0].Data
	if len(output) < face.NumLandmarks*2 {
		return nil, fmt.Errorf("%w: %s: expected %d values, got %d",
			face.ErrInference, model.RoleLandmarks, face.NumLandmarks*2, len(output))
	}
	for i, v := range output[:face.NumLandmarks*2] {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: %s: non-finite output at %d", face.ErrInference, model.RoleLandmarks, i)
		}
	}

	return postprocess(output, center, scale, img.Width(), img.Height()), nil
}

// postprocess transforms landmarks from model output to original image coordinates
func postprocess(output []float32, center face.Point, scale float32, width, height int) face.Landmarks {
	landmarks := make(face.Landmarks, face.NumLandmarks)
	halfSize := float32(inputSize) / 2
	maxX, maxY := float32(width-1), float32(height-1)

	for i := range landmarks {
		// Model output is in range [-1, 1], transform to [0, inputSize]
		x := (output[i*2] + 1) * halfSize
		y := (output[i*2+1] + 1) * halfSize

		landmarks[i] = face.Point{
			X: clamp((x-halfSize)/scale+center.X, 0, maxX),
			Y: clamp((y-halfSize)/scale+center.Y, 0, maxY),
		}
	}

	return landmarks
}

// Close releases predictor resources
func (p *Predictor) Close() error {
	return p.handle.Release()
}

func clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
