package detector

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/inference/inferencetest"
	"github.com/dudu/facekit/internal/model"
)

type fakeClassifier struct {
	detections []pigo.Detection
	params     []pigo.CascadeParams
}

func (f *fakeClassifier) RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection {
	f.params = append(f.params, cp)
	return f.detections
}

func (f *fakeClassifier) ClusterDetections(dets []pigo.Detection, iou float64) []pigo.Detection {
	return dets
}

func uniform(t *testing.T, w, h int, v byte) *imagebuf.Buffer {
	t.Helper()
	img, err := imagebuf.FromPixels(w, h, imagebuf.LayoutRGB, bytes.Repeat([]byte{v}, w*h*3))
	if err != nil {
		t.Fatalf("FromPixels() error: %v", err)
	}
	return img
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in   string
		want Algorithm
		err  bool
	}{
		{in: "fast", want: AlgorithmFast},
		{in: "HOG", want: AlgorithmFast},
		{in: " cnn ", want: AlgorithmCNN},
		{in: "scrfd", want: AlgorithmCNN},
		{in: "mtcnn", err: true},
	}
	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseAlgorithm(%q) error = %v, wantErr %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCascadeRegions(t *testing.T) {
	fc := &fakeClassifier{detections: []pigo.Detection{
		{Row: 50, Col: 40, Scale: 20, Q: 10},
		{Row: 10, Col: 10, Scale: 30, Q: 12}, // extends past the top-left corner
		{Row: 60, Col: 60, Scale: 20, Q: 1},  // below quality
	}}
	c := NewCascade(fc, DefaultConfig())

	regions, err := c.Detect(uniform(t, 100, 80, 128))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("Detect() returned %d regions, want 2", len(regions))
	}

	want := face.Region{Left: 30, Top: 40, Right: 50, Bottom: 60, Score: 10}
	if regions[0] != want {
		t.Errorf("regions[0] = %+v, want %+v", regions[0], want)
	}
	if regions[1].Left != -5 || regions[1].Top != -5 {
		t.Errorf("regions[1] = %+v, want unclamped edges at -5", regions[1])
	}

	if len(fc.params) != 1 {
		t.Fatalf("RunCascade called %d times, want 1", len(fc.params))
	}
	p := fc.params[0]
	if p.Rows != 80 || p.Cols != 100 || p.Dim != 100 || len(p.Pixels) != 8000 {
		t.Errorf("cascade image params = %dx%d dim %d len %d", p.Cols, p.Rows, p.Dim, len(p.Pixels))
	}
	if p.MaxSize != 100 {
		t.Errorf("MaxSize = %d, want image extent 100", p.MaxSize)
	}
}

func TestCascadeLifecycle(t *testing.T) {
	c := NewCascade(&fakeClassifier{}, DefaultConfig())
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if _, err := c.Detect(uniform(t, 64, 64, 0)); !errors.Is(err, face.ErrUseAfterRelease) {
		t.Errorf("Detect() after Close error = %v, want ErrUseAfterRelease", err)
	}
	if _, err := c.Detect(uniform(t, 8, 8, 0)); !errors.Is(err, face.ErrUseAfterRelease) {
		t.Errorf("Detect(small) after Close error = %v, want ErrUseAfterRelease", err)
	}

	var nilCascade *Cascade
	if _, err := nilCascade.Detect(uniform(t, 64, 64, 0)); !errors.Is(err, face.ErrModelNotLoaded) {
		t.Errorf("nil Detect() error = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoadCascadeMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, model.DefaultFiles[model.RoleCascade]), []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := model.OpenBundle(dir, nil)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}
	if _, err := LoadCascade(b, DefaultConfig()); !errors.Is(err, face.ErrModelLoad) {
		t.Errorf("LoadCascade() error = %v, want ErrModelLoad", err)
	}
}

// scrfdOutputs builds score and bbox maps for a 64x64 input with the given
// stride-8 anchors set
func scrfdOutputs(scores map[int]float32, boxes map[int][4]float32) func([]inference.Tensor) ([]inference.Tensor, error) {
	return func([]inference.Tensor) ([]inference.Tensor, error) {
		out := make([]inference.Tensor, 6)
		for level, stride := range featureStrides {
			n := (64 / stride) * (64 / stride) * numAnchors
			score := make([]float32, n)
			bbox := make([]float32, n*4)
			if level == 0 {
				for idx, s := range scores {
					score[idx] = s
				}
				for idx, b := range boxes {
					copy(bbox[idx*4:], b[:])
				}
			}
			out[level] = inference.Tensor{Shape: []int64{int64(n), 1}, Data: score}
			out[level+3] = inference.Tensor{Shape: []int64{int64(n), 4}, Data: bbox}
		}
		return out, nil
	}
}

func testSCRFD(fn func([]inference.Tensor) ([]inference.Tensor, error)) (*SCRFD, *inferencetest.Runner) {
	r := &inferencetest.Runner{Fn: fn}
	cfg := DefaultConfig()
	cfg.InputSize = 64
	return NewSCRFD(model.NewHandle[inference.Runner](model.RoleDetector, "", r, func(r inference.Runner) error { return r.Destroy() }), cfg), r
}

func TestSCRFDDecode(t *testing.T) {
	// Anchor (x=2, y=1) of stride 8 sits at (16, 8) in the 64x64 input.
	idx := (1*8 + 2) * numAnchors
	s, r := testSCRFD(scrfdOutputs(
		map[int]float32{idx: 0.9, idx + 1: 0.8},
		map[int][4]float32{idx: {1, 1, 1, 1}, idx + 1: {1, 1, 1, 0.9}},
	))

	// 32x16 image letterboxed at scale 2
	regions, err := s.Detect(uniform(t, 32, 16, 200))
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("Detect() returned %d regions, want 1 after NMS: %+v", len(regions), regions)
	}
	want := face.Region{Left: 4, Top: 0, Right: 12, Bottom: 8, Score: 0.9}
	if regions[0] != want {
		t.Errorf("region = %+v, want %+v", regions[0], want)
	}

	in := r.LastInputs()
	if len(in) != 1 || len(in[0].Shape) != 4 || in[0].Shape[2] != 64 || in[0].Shape[3] != 64 {
		t.Fatalf("input tensor = %v", in)
	}
	// Bottom-right of the letterbox is padding
	last := in[0].Data[64*64-1]
	if want := float32(-127.5 / 128.0); last != want {
		t.Errorf("padding value = %v, want %v", last, want)
	}
}

func TestEmptyImageHasNoFaces(t *testing.T) {
	img := uniform(t, 10, 10, 90)

	fc := &fakeClassifier{}
	regions, err := NewCascade(fc, DefaultConfig()).Detect(img)
	if err != nil {
		t.Fatalf("cascade Detect() error: %v", err)
	}
	if regions == nil || len(regions) != 0 {
		t.Errorf("cascade Detect() = %v, want empty slice", regions)
	}

	s, _ := testSCRFD(scrfdOutputs(nil, nil))
	regions, err = s.Detect(img)
	if err != nil {
		t.Fatalf("scrfd Detect() error: %v", err)
	}
	if regions == nil || len(regions) != 0 {
		t.Errorf("scrfd Detect() = %v, want empty slice", regions)
	}
}

func TestSCRFDErrors(t *testing.T) {
	s, _ := testSCRFD(func([]inference.Tensor) ([]inference.Tensor, error) {
		return nil, errors.New("device lost")
	})
	if _, err := s.Detect(uniform(t, 20, 20, 0)); !errors.Is(err, face.ErrInference) {
		t.Errorf("Detect() error = %v, want ErrInference", err)
	}

	s, _ = testSCRFD(func([]inference.Tensor) ([]inference.Tensor, error) {
		return make([]inference.Tensor, 6), nil
	})
	if _, err := s.Detect(uniform(t, 20, 20, 0)); !errors.Is(err, face.ErrInference) {
		t.Errorf("Detect(short outputs) error = %v, want ErrInference", err)
	}

	if _, err := s.Detect(&imagebuf.Buffer{}); !errors.Is(err, face.ErrInvalidImage) {
		t.Errorf("Detect(zero buffer) error = %v, want ErrInvalidImage", err)
	}
}

func TestLoadSCRFD(t *testing.T) {
	dir := inferencetest.Bundle(t, model.DefaultFiles[model.RoleDetector])
	b, err := model.OpenBundle(dir, nil)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}

	runner := &inferencetest.Runner{}
	loader := inferencetest.NewLoader().Set(model.DefaultFiles[model.RoleDetector], runner)
	s, err := LoadSCRFD(b, loader, DefaultConfig())
	if err != nil {
		t.Fatalf("LoadSCRFD() error: %v", err)
	}
	if got := loader.IO(model.DefaultFiles[model.RoleDetector]); len(got.Outputs) != 6 || got.Inputs[0] != "input.1" {
		t.Errorf("requested IO = %+v", got)
	}

	s.Close()
	s.Close()
	if runner.Destroyed() != 1 {
		t.Errorf("runner destroyed %d times, want 1", runner.Destroyed())
	}
}

func TestNMS(t *testing.T) {
	regions := []face.Region{
		{Left: 0, Top: 0, Right: 10, Bottom: 10, Score: 0.6},
		{Left: 1, Top: 1, Right: 11, Bottom: 11, Score: 0.9},
		{Left: 50, Top: 50, Right: 60, Bottom: 60, Score: 0.7},
	}
	got := nms(regions, 0.4)
	if len(got) != 2 {
		t.Fatalf("nms() kept %d, want 2", len(got))
	}
	if got[0].Score != 0.9 || got[1].Score != 0.7 {
		t.Errorf("nms() = %+v, want scores 0.9, 0.7", got)
	}
}
