package encoder

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is the distance under which two encodings are considered
// the same identity
const DefaultThreshold = 1.0

// ErrDimensionMismatch is returned when comparing encodings of different length
var ErrDimensionMismatch = errors.New("encoding dimensions differ")

// Distance returns the Euclidean distance between two equal length vectors
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Compare returns the Euclidean distance between two encodings. It is zero
// for identical encodings and symmetric.
func Compare(a, b Encoding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	return Distance(a, b), nil
}

// Matches reports whether two encodings are closer than threshold
func Matches(a, b Encoding, threshold float64) (bool, error) {
	d, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return d < threshold, nil
}

// CosineSimilarity computes cosine similarity between two encodings.
// Since encodings are L2-normalized, the dot product is the cosine.
func CosineSimilarity(a, b Encoding) float32 {
	var dot float32
	for i := range min(len(a), len(b)) {
		dot += a[i] * b[i]
	}
	return dot
}
