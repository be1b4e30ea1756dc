package encoder

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

// templateLandmarks places the alignment points of a 106-point set on the
// template scaled by s and shifted by (dx, dy)
func templateLandmarks(s, dx, dy float32) face.Landmarks {
	lm := make(face.Landmarks, face.NumLandmarks)
	for i := range lm {
		lm[i] = face.Point{X: 56*s + dx, Y: 70*s + dy}
	}
	at := func(p face.Point) face.Point { return face.Point{X: p.X*s + dx, Y: p.Y*s + dy} }
	for _, i := range face.RightEyeIndices {
		lm[i] = at(arcfaceDst[0])
	}
	for _, i := range face.LeftEyeIndices {
		lm[i] = at(arcfaceDst[1])
	}
	lm[86] = at(arcfaceDst[2])
	lm[52] = at(arcfaceDst[3])
	lm[61] = at(arcfaceDst[4])
	return lm
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestEstimateSimilarityTransform(t *testing.T) {
	src := templateLandmarks(2, 10, 20).FivePoint().Points()
	m := estimateSimilarityTransform(src, arcfaceDst)

	want := [6]float64{0.5, 0, -5, 0, 0.5, -10}
	for i := range want {
		if !near(m[i], want[i], 1e-3) {
			t.Errorf("m[%d] = %v, want %v (m = %v)", i, m[i], want[i], m)
		}
	}

	// A rotation by 90 degrees must be recovered with the right sign
	var rotated [5]face.Point
	for i, p := range arcfaceDst {
		rotated[i] = face.Point{X: -p.Y, Y: p.X}
	}
	m = estimateSimilarityTransform(rotated, arcfaceDst)
	for i, p := range rotated {
		x := m[0]*float64(p.X) + m[1]*float64(p.Y) + m[2]
		y := m[3]*float64(p.X) + m[4]*float64(p.Y) + m[5]
		if !near(x, float64(arcfaceDst[i].X), 1e-3) || !near(y, float64(arcfaceDst[i].Y), 1e-3) {
			t.Errorf("point %d maps to (%v, %v), want %+v", i, x, y, arcfaceDst[i])
		}
	}
}

func testEncoder(out []float32) (*ArcFaceEncoder, *inferencetest.Runner) {
	r := inferencetest.Constant(out)
	h := model.NewHandle[inference.Runner](model.RoleEncoder, "", r, func(r inference.Runner) error { return r.Destroy() })
	return New(h), r
}

func testImage(t *testing.T) *imagebuf.Buffer {
	t.Helper()
	pix := make([]byte, 200*200*3)
	for i := range pix {
		pix[i] = byte(i * 7)
	}
	img, err := imagebuf.FromPixels(200, 200, imagebuf.LayoutRGB, pix)
	if err != nil {
		t.Fatalf("FromPixels() error: %v", err)
	}
	return img
}

func TestEncode(t *testing.T) {
	out := make([]float32, Dimensions)
	out[0], out[1] = 3, 4
	e, r := testEncoder(out)

	enc, err := e.Encode(testImage(t), templateLandmarks(1.2, 30, 25))
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if len(enc) != Dimensions {
		t.Fatalf("Encode() length = %d, want %d", len(enc), Dimensions)
	}
	if !near(float64(enc[0]), 0.6, 1e-6) || !near(float64(enc[1]), 0.8, 1e-6) {
		t.Errorf("Encode() = [%v %v ...], want [0.6 0.8 ...]", enc[0], enc[1])
	}

	in := r.LastInputs()
	if in[0].Size() != 3*alignedSize*alignedSize {
		t.Errorf("input tensor size = %d", in[0].Size())
	}
	for _, v := range in[0].Data {
		if v < -1 || v > 1 {
			t.Fatalf("input value %v outside [-1, 1]", v)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	e, r := testEncoder(make([]float32, Dimensions))
	img := testImage(t)

	for _, lm := range []face.Landmarks{nil, make(face.Landmarks, 5), make(face.Landmarks, face.NumLandmarks+1)} {
		if _, err := e.Encode(img, lm); !errors.Is(err, face.ErrInvalidLandmarks) {
			t.Errorf("Encode(%d points) error = %v, want ErrInvalidLandmarks", len(lm), err)
		}
	}
	nan := templateLandmarks(1, 0, 0)
	nan[3].X = float32(math.NaN())
	if _, err := e.Encode(img, nan); !errors.Is(err, face.ErrInvalidLandmarks) {
		t.Errorf("Encode(NaN) error = %v, want ErrInvalidLandmarks", err)
	}
	if r.Calls() != 0 {
		t.Errorf("runner called %d times for invalid landmarks", r.Calls())
	}

	short, _ := testEncoder(make([]float32, 128))
	if _, err := short.Encode(img, templateLandmarks(1, 0, 0)); !errors.Is(err, face.ErrInference) {
		t.Errorf("Encode(short output) error = %v, want ErrInference", err)
	}

	var missing *ArcFaceEncoder
	if _, err := missing.Encode(img, templateLandmarks(1, 0, 0)); !errors.Is(err, face.ErrModelNotLoaded) {
		t.Errorf("nil Encode() error = %v, want ErrModelNotLoaded", err)
	}
}

func TestCompare(t *testing.T) {
	a := normalize([]float32{1, 2, 3, 4})
	b := normalize([]float32{4, 3, 2, 1})

	d, err := Compare(a, a)
	if err != nil || d != 0 {
		t.Errorf("Compare(a, a) = %v, %v, want 0", d, err)
	}

	ab, _ := Compare(a, b)
	ba, _ := Compare(b, a)
	if ab != ba {
		t.Errorf("Compare not symmetric: %v vs %v", ab, ba)
	}
	if ab <= 0 {
		t.Errorf("Compare(a, b) = %v, want > 0", ab)
	}

	if _, err := Compare(a, a[:3]); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Compare(mismatch) error = %v, want ErrDimensionMismatch", err)
	}

	ok, err := Matches(a, b, ab+0.01)
	if err != nil || !ok {
		t.Errorf("Matches(threshold above distance) = %v, %v", ok, err)
	}
	ok, _ = Matches(a, b, ab)
	if ok {
		t.Error("Matches(threshold equal to distance) = true")
	}

	if s := CosineSimilarity(a, a); !near(float64(s), 1, 1e-5) {
		t.Errorf("CosineSimilarity(a, a) = %v, want 1", s)
	}
}
