// Package detector locates faces in an image buffer. Regions are always
// reported in the pixel frame of the buffer passed in.
package detector

import (
	"fmt"
	"strings"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
)

// Algorithm selects the detection method
type Algorithm int

const (
	// AlgorithmFast is the pixel-intensity cascade: cheap, less accurate
	AlgorithmFast Algorithm = iota + 1
	// AlgorithmCNN is the SCRFD network: accurate, heavier
	AlgorithmCNN
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmFast:
		return "fast"
	case AlgorithmCNN:
		return "cnn"
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// ParseAlgorithm maps "fast"/"hog"/"cascade" and "cnn"/"scrfd" to an Algorithm
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fast", "hog", "cascade":
		return AlgorithmFast, nil
	case "cnn", "scrfd":
		return AlgorithmCNN, nil
	}
	return 0, fmt.Errorf("unknown detection algorithm %q (use fast or cnn)", name)
}

// Detector finds face regions in an image
type Detector interface {
	Detect(img *imagebuf.Buffer) ([]face.Region, error)
	Close() error
}

// Config holds detection parameters for both algorithms
type Config struct {
	// cascade
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	MinQuality   float32

	// scrfd
	InputSize     int
	ConfThreshold float32
	NMSThreshold  float32
}

// DefaultConfig returns the detection defaults
func DefaultConfig() Config {
	return Config{
		MinSize:       20,
		MaxSize:       1000,
		ShiftFactor:   0.1,
		ScaleFactor:   1.1,
		IoUThreshold:  0.2,
		MinQuality:    5.0,
		InputSize:     640,
		ConfThreshold: 0.5,
		NMSThreshold:  0.4,
	}
}
