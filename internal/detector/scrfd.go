package detector

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/model"
)

var (
	featureStrides = []int{8, 16, 32}

	// SCRFDIO names the graph inputs and outputs the detector binds
	SCRFDIO = inference.IO{
		Inputs: []string{"input.1"},
		Outputs: []string{
			"score_8", "score_16", "score_32",
			"bbox_8", "bbox_16", "bbox_32",
		},
	}
)

const numAnchors = 2 // anchors per position

// SCRFD implements the SCRFD face detector
type SCRFD struct {
	handle        *model.RunnerHandle
	inputSize     int
	confThreshold float32
	nmsThreshold  float32
}

// LoadSCRFD loads the detector network of the bundle
func LoadSCRFD(b *model.Bundle, loader inference.Loader, config Config) (*SCRFD, error) {
	h, err := model.AcquireRunner(b, model.RoleDetector, loader, SCRFDIO)
	if err != nil {
		return nil, err
	}
	return NewSCRFD(h, config), nil
}

// NewSCRFD wraps a loaded detector handle
func NewSCRFD(h *model.RunnerHandle, config Config) *SCRFD {
	return &SCRFD{
		handle:        h,
		inputSize:     config.InputSize,
		confThreshold: config.ConfThreshold,
		nmsThreshold:  config.NMSThreshold,
	}
}

// Handle exposes the lifecycle of the detector network
func (s *SCRFD) Handle() model.Releaser {
	return s.handle
}

// Detect finds faces in an image
func (s *SCRFD) Detect(img *imagebuf.Buffer) ([]face.Region, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: %s", face.ErrModelNotLoaded, model.RoleDetector)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}

	// Preprocess: letterbox and normalize
	blob, scale := s.preprocess(img)
	input, err := inference.NewTensor(blob, 1, 3, int64(s.inputSize), int64(s.inputSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", face.ErrInference, model.RoleDetector, err)
	}

	outputs, err := model.Run(s.handle, len(SCRFDIO.Outputs), input)
	if err != nil {
		return nil, err
	}

	regions, err := s.postprocess(outputs, scale, img.Width(), img.Height())
	if err != nil {
		return nil, err
	}

	return nms(regions, s.nmsThreshold), nil
}

// preprocess resizes the image into the top-left corner of a square input,
// padding the rest, and returns the NCHW blob and the applied scale
func (s *SCRFD) preprocess(img *imagebuf.Buffer) ([]float32, float32) {
	width, height := img.Width(), img.Height()
	scale := float32(s.inputSize) / float32(max(width, height))

	newWidth := max(1, int(float32(width)*scale))
	newHeight := max(1, int(float32(height)*scale))

	resized := resize.Resize(uint(newWidth), uint(newHeight), img, resize.Bilinear)

	// Zero padding normalizes to -127.5/128
	padded := image.NewRGBA(image.Rect(0, 0, s.inputSize, s.inputSize))
	draw.Copy(padded, image.Point{}, resized, resized.Bounds(), draw.Src, nil)

	return imagebuf.ToCHW(padded, imagebuf.Uniform(127.5, 128.0)), scale
}

// postprocess decodes the score and distance maps of every stride into
// source-image regions
func (s *SCRFD) postprocess(outputs []inference.Tensor, scale float32, origWidth, origHeight int) ([]face.Region, error) {
	regions := []face.Region{}

	for level, stride := range featureStrides {
		fmHeight := s.inputSize / stride
		fmWidth := s.inputSize / stride
		anchors := fmHeight * fmWidth * numAnchors

		scoreData := outputs[level].Data
		bboxData := outputs[level+len(featureStrides)].Data
		if len(scoreData) < anchors || len(bboxData) < anchors*4 {
			return nil, fmt.Errorf("%w: %s: stride %d output too short", face.ErrInference, model.RoleDetector, stride)
		}

		anchorIdx := 0
		for y := 0; y < fmHeight; y++ {
			for x := 0; x < fmWidth; x++ {
				for a := 0; a < numAnchors; a++ {
					score := scoreData[anchorIdx]

					if score > s.confThreshold {
						// Anchor center
						cx := float32(x * stride)
						cy := float32(y * stride)

						// Decode bbox (distance to edges)
						bboxIdx := anchorIdx * 4
						x1 := (cx - bboxData[bboxIdx]*float32(stride)) / scale
						y1 := (cy - bboxData[bboxIdx+1]*float32(stride)) / scale
						x2 := (cx + bboxData[bboxIdx+2]*float32(stride)) / scale
						y2 := (cy + bboxData[bboxIdx+3]*float32(stride)) / scale

						r := face.Rect(x1, y1, x2, y2).Clamp(origWidth, origHeight)
						r.Score = score
						if !r.Empty() {
							regions = append(regions, r)
						}
					}
					anchorIdx++
				}
			}
		}
	}

	return regions, nil
}

// Close releases detector resources
func (s *SCRFD) Close() error {
	return s.handle.Release()
}
