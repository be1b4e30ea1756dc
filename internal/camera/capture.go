// Package camera reads frames from a video device and converts OpenCV
// matrices into image buffers.
package camera

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
)

// Capture manages webcam capture
type Capture struct {
	webcam    *gocv.VideoCapture
	frame     gocv.Mat
	deviceID  int
	targetFPS int
	width     int
	height    int
	mu        sync.Mutex
}

// NewCapture creates a new camera capture from device with default 720p resolution
func NewCapture(deviceID int, targetFPS int) (*Capture, error) {
	return NewCaptureWithResolution(deviceID, targetFPS, 1280, 720)
}

// NewCaptureWithResolution creates a new camera capture with specified resolution
func NewCaptureWithResolution(deviceID int, targetFPS int, width, height int) (*Capture, error) {
	webcam, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	// Set camera properties
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	webcam.Set(gocv.VideoCaptureFPS, float64(targetFPS))

	// Get actual dimensions (camera may not support requested resolution)
	actualWidth := int(webcam.Get(gocv.VideoCaptureFrameWidth))
	actualHeight := int(webcam.Get(gocv.VideoCaptureFrameHeight))

	return &Capture{
		webcam:    webcam,
		frame:     gocv.NewMat(),
		deviceID:  deviceID,
		targetFPS: targetFPS,
		width:     actualWidth,
		height:    actualHeight,
	}, nil
}

// Frame captures the next frame as an RGB buffer
func (c *Capture) Frame() (*imagebuf.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam == nil {
		return nil, fmt.Errorf("camera %d is closed", c.deviceID)
	}
	if !c.webcam.Read(&c.frame) || c.frame.Empty() {
		return nil, fmt.Errorf("failed to read frame from camera %d", c.deviceID)
	}
	return FromMat(c.frame)
}

// Mat returns the most recently read frame in OpenCV BGR layout. It is owned
// by the capture and overwritten by the next Frame call.
func (c *Capture) Mat() *gocv.Mat {
	return &c.frame
}

// Width returns frame width
func (c *Capture) Width() int {
	return c.width
}

// Height returns frame height
func (c *Capture) Height() int {
	return c.height
}

// Close releases the camera
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.webcam != nil {
		err := c.webcam.Close()
		c.webcam = nil
		c.frame.Close()
		return err
	}
	return nil
}

// FromMat copies an 8-bit OpenCV matrix into a buffer. OpenCV stores color
// as BGR, so 3-channel matrices keep that layout.
func FromMat(mat gocv.Mat) (*imagebuf.Buffer, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty matrix", face.ErrInvalidImage)
	}

	switch mat.Type() {
	case gocv.MatTypeCV8UC1:
		return imagebuf.FromPixels(mat.Cols(), mat.Rows(), imagebuf.LayoutGray, mat.ToBytes())
	case gocv.MatTypeCV8UC3:
		return imagebuf.FromPixels(mat.Cols(), mat.Rows(), imagebuf.LayoutBGR, mat.ToBytes())
	case gocv.MatTypeCV8UC4:
		bgr := gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(mat, &bgr, gocv.ColorBGRAToBGR)
		return imagebuf.FromPixels(bgr.Cols(), bgr.Rows(), imagebuf.LayoutBGR, bgr.ToBytes())
	}
	return nil, fmt.Errorf("%w: unsupported matrix type %v", face.ErrInvalidImage, mat.Type())
}

// DecodeBytes decodes an encoded image with OpenCV
func DecodeBytes(data []byte) (*imagebuf.Buffer, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrInvalidImage, err)
	}
	defer mat.Close()
	return FromMat(mat)
}
