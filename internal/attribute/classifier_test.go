package attribute

import (
	"errors"
	"math"
	"testing"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/inference/inferencetest"
	"github.com/dudu/facekit/internal/model"
)

func handle(role model.Role, r *inferencetest.Runner) *model.RunnerHandle {
	return model.NewHandle[inference.Runner](role, "", r, func(r inference.Runner) error { return r.Destroy() })
}

func testImage(t *testing.T) *imagebuf.Buffer {
	t.Helper()
	pix := make([]byte, 100*80*3)
	for i := range pix {
		pix[i] = byte(i % 199)
	}
	img, err := imagebuf.FromPixels(100, 80, imagebuf.LayoutRGB, pix)
	if err != nil {
		t.Fatalf("FromPixels() error: %v", err)
	}
	return img
}

func gridLandmarks(left, top, right, bottom float32) *face.Landmarks {
	lm := make(face.Landmarks, face.NumLandmarks)
	for i := range lm {
		fx := float32(i%10) / 9
		fy := float32(i/10) / 10
		lm[i] = face.Point{X: left + fx*(right-left), Y: top + fy*(bottom-top)}
	}
	return &lm
}

func near(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func TestPredictTables(t *testing.T) {
	region := face.Region{Left: 20, Top: 10, Right: 70, Bottom: 70}

	tests := []struct {
		name      string
		newFn     func(*model.RunnerHandle) *Classifier
		role      model.Role
		out       []float32
		kind      Kind
		wantLabel string
		wantConf  float32
		inShape   []int64
	}{
		{
			name:      "age probabilities",
			newFn:     NewAge,
			role:      model.RoleAge,
			out:       []float32{0.05, 0.05, 0.05, 0.1, 0.6, 0.05, 0.05, 0.05},
			kind:      KindBucket,
			wantLabel: "25-32",
			wantConf:  0.6,
			inShape:   []int64{1, 3, 224, 224},
		},
		{
			name:      "gender logits",
			newFn:     NewGender,
			role:      model.RoleGender,
			out:       []float32{0, float32(math.Log(3))},
			kind:      KindLabel,
			wantLabel: "female",
			wantConf:  0.75,
			inShape:   []int64{1, 3, 224, 224},
		},
		{
			name:      "emotion logits",
			newFn:     NewEmotion,
			role:      model.RoleEmotion,
			out:       []float32{1, 2, 9, 0, -1, 0, 0, 0},
			kind:      KindLabel,
			wantLabel: "surprise",
			inShape:   []int64{1, 1, 64, 64},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := inferencetest.Constant(tt.out)
			c := tt.newFn(handle(tt.role, r))

			p, err := c.Predict(testImage(t), region, nil)
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			if p.Role != tt.role || p.Kind != tt.kind {
				t.Errorf("Predict() role/kind = %v/%v, want %v/%v", p.Role, p.Kind, tt.role, tt.kind)
			}
			if p.Label != tt.wantLabel {
				t.Errorf("Predict() label = %q, want %q", p.Label, tt.wantLabel)
			}
			if c.Labels()[p.Index] != p.Label {
				t.Errorf("Index %d does not match label %q", p.Index, p.Label)
			}
			if tt.wantConf != 0 && !near(p.Confidence, tt.wantConf) {
				t.Errorf("Predict() confidence = %v, want %v", p.Confidence, tt.wantConf)
			}

			in := r.LastInputs()[0]
			for i := range tt.inShape {
				if in.Shape[i] != tt.inShape[i] {
					t.Fatalf("input shape = %v, want %v", in.Shape, tt.inShape)
				}
			}
		})
	}
}

func TestPredictHeadPose(t *testing.T) {
	c := NewHeadPose(handle(model.RoleHeadPose, inferencetest.Constant([]float32{10}, []float32{-5}, []float32{2.5})))
	p, err := c.Predict(testImage(t), face.Region{Left: 0, Top: 0, Right: 50, Bottom: 50}, nil)
	if err != nil {
		t.Fatalf("Predict() error: %v", err)
	}
	if p.Kind != KindAngles || p.Angles == nil {
		t.Fatalf("Predict() = %+v, want angles", p)
	}
	if *p.Angles != (Angles{Yaw: 10, Pitch: -5, Roll: 2.5}) {
		t.Errorf("Angles = %+v", *p.Angles)
	}

	uniform := make([]float32, poseBins)
	c = NewHeadPose(handle(model.RoleHeadPose, inferencetest.Constant(uniform, uniform, uniform)))
	p, err = c.Predict(testImage(t), face.Region{Left: 0, Top: 0, Right: 50, Bottom: 50}, nil)
	if err != nil {
		t.Fatalf("Predict(bins) error: %v", err)
	}
	// expectation of a uniform distribution over bins 0..65 is 32.5
	if math.Abs(float64(p.Angles.Yaw)-(32.5*poseBinWidth+poseOffset)) > 0.01 {
		t.Errorf("Yaw = %v, want %v", p.Angles.Yaw, 32.5*poseBinWidth+poseOffset)
	}

	bad := NewHeadPose(handle(model.RoleHeadPose, inferencetest.Constant([]float32{1, 2}, []float32{0}, []float32{0})))
	if _, err := bad.Predict(testImage(t), face.Region{Left: 0, Top: 0, Right: 50, Bottom: 50}, nil); !errors.Is(err, face.ErrInference) {
		t.Errorf("Predict(bad output) error = %v, want ErrInference", err)
	}
}

func TestPredictCropSources(t *testing.T) {
	out := []float32{0.9, 0.1}
	img := testImage(t)
	outside := face.Region{Left: 200, Top: 200, Right: 260, Bottom: 260}

	tests := []struct {
		name      string
		region    face.Region
		landmarks *face.Landmarks
		wantErr   error
	}{
		{name: "region only", region: face.Region{Left: 10, Top: 10, Right: 60, Bottom: 60}},
		{name: "region overhanging", region: face.Region{Left: 60, Top: 40, Right: 140, Bottom: 120}},
		{name: "landmarks override region", region: outside, landmarks: gridLandmarks(30, 20, 60, 60)},
		{name: "region outside", region: outside, wantErr: face.ErrInvalidRegion},
		{name: "degenerate region", region: face.Region{Left: 10, Top: 10, Right: 10, Bottom: 50}, wantErr: face.ErrInvalidRegion},
		{name: "short landmarks", region: face.Region{Left: 10, Top: 10, Right: 60, Bottom: 60}, landmarks: &face.Landmarks{{X: 1, Y: 1}}, wantErr: face.ErrInvalidLandmarks},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := inferencetest.Constant(out)
			c := NewGender(handle(model.RoleGender, r))

			p, err := c.Predict(img, tt.region, tt.landmarks)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Predict() error = %v, want %v", err, tt.wantErr)
				}
				if r.Calls() != 0 {
					t.Errorf("runner called %d times on invalid input", r.Calls())
				}
				return
			}
			if err != nil {
				t.Fatalf("Predict() error: %v", err)
			}
			if p.Label != "male" {
				t.Errorf("Predict() label = %q, want male", p.Label)
			}
		})
	}
}

func TestClassifierLifecycle(t *testing.T) {
	r := inferencetest.Constant([]float32{0.5, 0.5})
	c := NewGender(handle(model.RoleGender, r))
	c.Close()
	c.Close()
	if r.Destroyed() != 1 {
		t.Errorf("runner destroyed %d times, want 1", r.Destroyed())
	}
	_, err := c.Predict(testImage(t), face.Region{Left: 0, Top: 0, Right: 40, Bottom: 40}, nil)
	if !errors.Is(err, face.ErrUseAfterRelease) {
		t.Errorf("Predict() after Close error = %v, want ErrUseAfterRelease", err)
	}

	var missing *Classifier
	if _, err := missing.Predict(testImage(t), face.Region{Left: 0, Top: 0, Right: 40, Bottom: 40}, nil); !errors.Is(err, face.ErrModelNotLoaded) {
		t.Errorf("nil Predict() error = %v, want ErrModelNotLoaded", err)
	}
}

func TestLoad(t *testing.T) {
	dir := inferencetest.Bundle(t, model.DefaultFiles[model.RoleEmotion])
	b, err := model.OpenBundle(dir, nil)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}
	loader := inferencetest.NewLoader().Set(model.DefaultFiles[model.RoleEmotion], &inferencetest.Runner{})

	c, err := Load(b, loader, model.RoleEmotion)
	if err != nil {
		t.Fatalf("Load(emotion) error: %v", err)
	}
	defer c.Close()
	if c.Role() != model.RoleEmotion {
		t.Errorf("Role() = %v", c.Role())
	}
	if io := loader.IO(model.DefaultFiles[model.RoleEmotion]); io.Inputs[0] != "Input3" {
		t.Errorf("requested IO = %+v", io)
	}

	if _, err := Load(b, loader, model.RoleAge); !errors.Is(err, face.ErrModelLoad) {
		t.Errorf("Load(missing age) error = %v, want ErrModelLoad", err)
	}
	if _, err := Load(b, loader, model.RoleEncoder); !errors.Is(err, face.ErrModelLoad) {
		t.Errorf("Load(encoder) error = %v, want ErrModelLoad", err)
	}
}
