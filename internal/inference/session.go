package inference

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envRefs int
	envMu   sync.Mutex
)

// Initialize sets up the ONNX Runtime environment. Every successful call must
// be paired with Shutdown; the environment is destroyed with the last one.
func Initialize(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs > 0 {
		envRefs++
		return nil
	}

	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	envRefs = 1
	return nil
}

// Shutdown drops one environment reference
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}

	return ort.DestroyEnvironment()
}

// Session wraps an ONNX Runtime inference session and implements Runner.
// onnxruntime allows concurrent Run calls on one session.
type Session struct {
	session     *ort.DynamicAdvancedSession
	modelPath   string
	inputNames  []string
	outputNames []string
}

// NewSession creates a new inference session from an ONNX model. The
// environment must already be initialized.
func NewSession(modelPath string, io IO, threads int) (*Session, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		io.Inputs,
		io.Outputs,
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}

	return &Session{
		session:     session,
		modelPath:   modelPath,
		inputNames:  io.Inputs,
		outputNames: io.Outputs,
	}, nil
}

// Run executes inference. Output tensors are allocated by onnxruntime and
// copied out before they are destroyed.
func (s *Session) Run(inputs []Tensor) ([]Tensor, error) {
	if len(inputs) != len(s.inputNames) {
		return nil, fmt.Errorf("%s expects %d inputs, got %d", s.modelPath, len(s.inputNames), len(inputs))
	}

	in := make([]ort.Value, len(inputs))
	defer func() {
		for _, v := range in {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	for i, t := range inputs {
		tensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %s: %w", s.inputNames[i], err)
		}
		in[i] = tensor
	}

	out := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range out {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run(in, out); err != nil {
		return nil, err
	}

	results := make([]Tensor, len(out))
	for i, v := range out {
		tensor, ok := v.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %s is not a float32 tensor", s.outputNames[i])
		}
		data := tensor.GetData()
		results[i] = Tensor{
			Shape: append([]int64(nil), tensor.GetShape()...),
			Data:  append([]float32(nil), data...),
		}
	}
	return results, nil
}

// Destroy releases session resources and its environment reference
func (s *Session) Destroy() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	if shutdownErr := Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}
