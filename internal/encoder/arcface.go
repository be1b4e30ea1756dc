// Package encoder maps an aligned face to a 512-dimensional identity
// encoding with ArcFace and compares encodings.
package encoder

import (
	"fmt"
	"math"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/model"
)

// Dimensions is the length of every encoding
const Dimensions = 512

// IO names the graph input and output of the ArcFace network
var IO = inference.IO{
	Inputs:  []string{"input.1"},
	Outputs: []string{"683"}, // output node name from model
}

// Encoding is an L2-normalized identity vector
type Encoding []float32

// ArcFaceEncoder extracts face encodings using ArcFace
type ArcFaceEncoder struct {
	handle *model.RunnerHandle
}

// Load loads the encoder network of the bundle
func Load(b *model.Bundle, loader inference.Loader) (*ArcFaceEncoder, error) {
	h, err := model.AcquireRunner(b, model.RoleEncoder, loader, IO)
	if err != nil {
		return nil, err
	}
	return New(h), nil
}

// New wraps a loaded encoder handle
func New(h *model.RunnerHandle) *ArcFaceEncoder {
	return &ArcFaceEncoder{handle: h}
}

// Handle exposes the lifecycle of the encoder network
func (e *ArcFaceEncoder) Handle() model.Releaser {
	return e.handle
}

// Encode aligns the face described by landmarks and computes its encoding
func (e *ArcFaceEncoder) Encode(img *imagebuf.Buffer, landmarks face.Landmarks) (Encoding, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: %s", face.ErrModelNotLoaded, model.RoleEncoder)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if !landmarks.Valid() {
		return nil, fmt.Errorf("%w: want %d finite points, got %d", face.ErrInvalidLandmarks, face.NumLandmarks, len(landmarks))
	}

	aligned, _ := Align(img, landmarks)

	// Normalize: (x - 127.5) / 127.5
	input, err := inference.NewTensor(imagebuf.ToCHW(aligned, imagebuf.Uniform(127.5, 127.5)), 1, 3, alignedSize, alignedSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", face.ErrInference, model.RoleEncoder, err)
	}

	outputs, err := model.Run(e.handle, 1, input)
	if err != nil {
		return nil, err
	}
	if len(outputs[0].Data) < Dimensions {
		return nil, fmt.Errorf("%w: %s: expected %d values, got %d",
			face.ErrInference, model.RoleEncoder, Dimensions, len(outputs[0].Data))
	}

	return normalize(outputs[0].Data[:Dimensions]), nil
}

// normalize L2-normalizes the encoding
func normalize(data []float32) Encoding {
	var norm float64
	for _, v := range data {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)

	if norm < 1e-10 {
		norm = 1
	}

	enc := make(Encoding, len(data))
	for i, v := range data {
		enc[i] = float32(float64(v) / norm)
	}
	return enc
}

// Close releases encoder resources
func (e *ArcFaceEncoder) Close() error {
	return e.handle.Release()
}
