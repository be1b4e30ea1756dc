package detector

import (
	"fmt"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/model"
)

// Classifier is the unpacked cascade. *pigo.Pigo satisfies it and its
// methods only read the cascade tree, so one classifier serves concurrent calls.
type Classifier interface {
	RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection
	ClusterDetections(detections []pigo.Detection, iouThreshold float64) []pigo.Detection
}

// Cascade implements the fast detector on a pigo cascade. The cascade scans
// the image at every scale itself, so detections are already in source pixels.
type Cascade struct {
	handle *model.Handle[Classifier]
	config Config
}

// LoadCascade reads and unpacks the cascade file of the bundle
func LoadCascade(b *model.Bundle, config Config) (*Cascade, error) {
	h, err := model.Acquire(b, model.RoleCascade, openCascade, nil)
	if err != nil {
		return nil, err
	}
	return &Cascade{handle: h, config: config}, nil
}

// NewCascade wraps an already unpacked classifier
func NewCascade(c Classifier, config Config) *Cascade {
	return &Cascade{
		handle: model.NewHandle[Classifier](model.RoleCascade, "", c, nil),
		config: config,
	}
}

func openCascade(path string) (c Classifier, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Unpack indexes the packet without bounds checks.
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("malformed cascade: %v", r)
		}
	}()

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return classifier, nil
}

// Handle exposes the lifecycle of the cascade
func (c *Cascade) Handle() model.Releaser {
	return c.handle
}

// Detect runs the cascade over the grayscale image
func (c *Cascade) Detect(img *imagebuf.Buffer) ([]face.Region, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: %s", face.ErrModelNotLoaded, model.RoleCascade)
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}

	regions := []face.Region{}
	cols, rows := img.Width(), img.Height()
	if min(cols, rows) < c.config.MinSize {
		// Smaller than the smallest window the cascade evaluates.
		if c.handle.Released() {
			return nil, fmt.Errorf("%w: %s handle", face.ErrUseAfterRelease, model.RoleCascade)
		}
		return regions, nil
	}

	params := pigo.CascadeParams{
		MinSize:     c.config.MinSize,
		MaxSize:     min(c.config.MaxSize, max(cols, rows)),
		ShiftFactor: c.config.ShiftFactor,
		ScaleFactor: c.config.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: img.Gray(),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	var dets []pigo.Detection
	err := c.handle.Do(func(classifier Classifier) error {
		dets = classifier.RunCascade(params, 0.0)
		dets = classifier.ClusterDetections(dets, c.config.IoUThreshold)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, det := range dets {
		if det.Q < c.config.MinQuality {
			continue
		}
		half := float32(det.Scale) / 2
		regions = append(regions, face.Region{
			Left:   float32(det.Col) - half,
			Top:    float32(det.Row) - half,
			Right:  float32(det.Col) + half,
			Bottom: float32(det.Row) + half,
			Score:  det.Q,
		})
	}
	return regions, nil
}

// Close releases the cascade
func (c *Cascade) Close() error {
	return c.handle.Release()
}
