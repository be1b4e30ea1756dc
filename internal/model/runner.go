package model

import (
	"fmt"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/inference"
)

// RunnerHandle is the handle family for roles evaluated through the inference engine
type RunnerHandle = Handle[inference.Runner]

// AcquireRunner loads an inference runner for role, validated against io
func AcquireRunner(b *Bundle, role Role, loader inference.Loader, io inference.IO) (*RunnerHandle, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: %s: no inference loader", face.ErrModelLoad, role)
	}
	return Acquire(b, role,
		func(path string) (inference.Runner, error) {
			return loader.Load(path, io)
		},
		func(r inference.Runner) error {
			return r.Destroy()
		},
	)
}

// Run evaluates the runner behind h and checks the output count. Native
// failures are reported as face.ErrInference; lifecycle errors pass through.
func Run(h *RunnerHandle, outputs int, inputs ...inference.Tensor) ([]inference.Tensor, error) {
	var result []inference.Tensor
	err := h.Do(func(r inference.Runner) error {
		out, err := r.Run(inputs)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", face.ErrInference, h.Role(), err)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(result) < outputs {
		return nil, fmt.Errorf("%w: %s: expected %d outputs, got %d", face.ErrInference, h.Role(), outputs, len(result))
	}
	return result, nil
}
