// Package attribute predicts per-face attributes (age, gender, emotion and
// head pose) from a face crop. All four share one classifier core and differ
// only in crop size, normalization and output decoding.
package attribute

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/model"
)

// Kind discriminates the value carried by a Prediction
type Kind int

const (
	KindLabel  Kind = iota + 1 // categorical label (gender, emotion)
	KindBucket                 // age range
	KindAngles                 // head pose
)

func (k Kind) String() string {
	switch k {
	case KindLabel:
		return "label"
	case KindBucket:
		return "bucket"
	case KindAngles:
		return "angles"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Angles is a head orientation in degrees
type Angles struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// Prediction is the result of one classifier. Index and Label refer to the
// classifier's fixed table; Angles is set only for KindAngles.
type Prediction struct {
	Role       model.Role `json:"-"`
	Kind       Kind       `json:"-"`
	Index      int        `json:"index"`
	Label      string     `json:"label,omitempty"`
	Confidence float32    `json:"confidence"`
	Angles     *Angles    `json:"angles,omitempty"`
}

func (p Prediction) String() string {
	if p.Kind == KindAngles && p.Angles != nil {
		return fmt.Sprintf("yaw=%.1f pitch=%.1f roll=%.1f", p.Angles.Yaw, p.Angles.Pitch, p.Angles.Roll)
	}
	return fmt.Sprintf("%s (%.2f)", p.Label, p.Confidence)
}

// LandmarkMargin is the fraction of the landmark extent added on each side
// when the crop is derived from landmarks
const LandmarkMargin = 0.2

// variant describes one classifier
type variant struct {
	role   model.Role
	io     inference.IO
	size   int
	gray   bool
	norm   imagebuf.Normalization
	kind   Kind
	labels []string
	decode func(c *Classifier, outputs []inference.Tensor) (Prediction, error)
}

// Classifier runs one attribute network over face crops
type Classifier struct {
	handle *model.RunnerHandle
	v      variant
}

var variants = map[model.Role]variant{}

func register(v variant) {
	variants[v.role] = v
}

// Load loads the network for an attribute role of the bundle
func Load(b *model.Bundle, loader inference.Loader, role model.Role) (*Classifier, error) {
	v, ok := variants[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an attribute role", face.ErrModelLoad, role)
	}
	h, err := model.AcquireRunner(b, role, loader, v.io)
	if err != nil {
		return nil, err
	}
	return &Classifier{handle: h, v: v}, nil
}

// IOFor returns the graph names bound for an attribute role
func IOFor(role model.Role) (inference.IO, bool) {
	v, ok := variants[role]
	return v.io, ok
}

// Role returns the attribute this classifier predicts
func (c *Classifier) Role() model.Role {
	return c.v.role
}

// Labels returns the fixed output table; empty for head pose
func (c *Classifier) Labels() []string {
	return c.v.labels
}

// Handle exposes the lifecycle of the network
func (c *Classifier) Handle() model.Releaser {
	return c.handle
}

// Predict classifies the face inside region. When landmarks are given the
// crop is their bounding box widened by LandmarkMargin, otherwise the region.
// Landmarks that collapse to a point fall back to the region.
func (c *Classifier) Predict(img *imagebuf.Buffer, region face.Region, landmarks *face.Landmarks) (Prediction, error) {
	if c == nil {
		return Prediction{}, face.ErrModelNotLoaded
	}
	if err := img.Validate(); err != nil {
		return Prediction{}, err
	}

	box := face.Rect(region.Left, region.Top, region.Right, region.Bottom)
	if landmarks != nil {
		if !landmarks.Valid() {
			return Prediction{}, fmt.Errorf("%w: want %d finite points, got %d", face.ErrInvalidLandmarks, face.NumLandmarks, len(*landmarks))
		}
		if lb := landmarks.Bounds(); !lb.Empty() {
			box = lb.Expand(LandmarkMargin)
		}
	}

	rect := cropRect(box.Clamp(img.Width(), img.Height()))
	if rect.Empty() {
		return Prediction{}, fmt.Errorf("%w: %.1f,%.1f,%.1f,%.1f outside %dx%d image",
			face.ErrInvalidRegion, box.Left, box.Top, box.Right, box.Bottom, img.Width(), img.Height())
	}

	input, err := c.preprocess(img, rect)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %s: %v", face.ErrInference, c.v.role, err)
	}

	outputs, err := model.Run(c.handle, len(c.v.io.Outputs), input)
	if err != nil {
		return Prediction{}, err
	}

	p, err := c.v.decode(c, outputs)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %s: %v", face.ErrInference, c.v.role, err)
	}
	p.Role = c.v.role
	p.Kind = c.v.kind
	return p, nil
}

// preprocess crops and resizes the face and lays it out as NCHW
func (c *Classifier) preprocess(img image.Image, rect image.Rectangle) (inference.Tensor, error) {
	crop := imaging.Resize(imaging.Crop(img, rect), c.v.size, c.v.size, imaging.Linear)

	if c.v.gray {
		data := imagebuf.ToGrayCHW(crop, c.v.norm.Mean[0], c.v.norm.Std[0])
		return inference.NewTensor(data, 1, 1, int64(c.v.size), int64(c.v.size))
	}
	data := imagebuf.ToCHW(crop, c.v.norm)
	return inference.NewTensor(data, 1, 3, int64(c.v.size), int64(c.v.size))
}

// Close releases classifier resources
func (c *Classifier) Close() error {
	return c.handle.Release()
}

// cropRect rounds a clamped region outwards to whole pixels
func cropRect(r face.Region) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(float64(r.Left))),
		int(math.Floor(float64(r.Top))),
		int(math.Ceil(float64(r.Right))),
		int(math.Ceil(float64(r.Bottom))),
	)
}

// decodeTable picks the most probable entry of a single probability or logit vector
func decodeTable(c *Classifier, outputs []inference.Tensor) (Prediction, error) {
	scores := outputs[0].Data
	if len(scores) < len(c.v.labels) {
		return Prediction{}, fmt.Errorf("expected %d scores, got %d", len(c.v.labels), len(scores))
	}
	probs := probabilities(scores[:len(c.v.labels)])
	best := argmax(probs)
	return Prediction{
		Index:      best,
		Label:      c.v.labels[best],
		Confidence: probs[best],
	}, nil
}

// probabilities returns scores unchanged when they already form a
// distribution and their softmax otherwise
func probabilities(scores []float32) []float32 {
	var sum float32
	distribution := true
	for _, s := range scores {
		if s < 0 || s > 1 {
			distribution = false
			break
		}
		sum += s
	}
	if distribution && math.Abs(float64(sum)-1) < 1e-3 {
		return scores
	}
	return softmax(scores)
}

func softmax(x []float32) []float32 {
	peak := x[argmax(x)]
	out := make([]float32, len(x))
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func argmax(x []float32) int {
	best := 0
	for i, v := range x {
		if v > x[best] {
			best = i
		}
	}
	return best
}
