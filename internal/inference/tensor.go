// Package inference adapts the native ONNX Runtime engine to the pipeline:
// environment lifetime, sessions and the Runner contract every stage
// evaluates through.
package inference

import "fmt"

// Tensor is a dense float32 tensor in row-major order
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor pairs data with a shape, checking that the element counts agree
func NewTensor(data []float32, shape ...int64) (Tensor, error) {
	size := int64(1)
	for _, dim := range shape {
		size *= dim
	}
	if size != int64(len(data)) {
		return Tensor{}, fmt.Errorf("shape %v needs %d elements, got %d", shape, size, len(data))
	}
	return Tensor{Shape: shape, Data: data}, nil
}

// Size returns the element count implied by the shape
func (t Tensor) Size() int {
	size := 1
	for _, dim := range t.Shape {
		size *= int(dim)
	}
	return size
}

// IO names the graph inputs and outputs a stage binds to
type IO struct {
	Inputs  []string
	Outputs []string
}

// Runner evaluates one loaded network. Implementations must not mutate state
// during Run so a single Runner can serve concurrent callers.
type Runner interface {
	Run(inputs []Tensor) ([]Tensor, error)
	Destroy() error
}

// Loader opens a Runner for a model file, validating it against the expected IO
type Loader interface {
	Load(path string, io IO) (Runner, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(path string, io IO) (Runner, error)

// Load calls f(path, io)
func (f LoaderFunc) Load(path string, io IO) (Runner, error) {
	return f(path, io)
}
