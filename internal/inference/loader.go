package inference

import (
	"errors"
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXLoader opens model files as onnxruntime sessions. Each loaded session
// holds a reference on the shared environment until it is destroyed.
type ONNXLoader struct {
	LibraryPath string
	Threads     int
}

// Load validates the graph IO names and creates a session
func (l ONNXLoader) Load(path string, io IO) (Runner, error) {
	if err := Initialize(l.LibraryPath); err != nil {
		return nil, err
	}

	if err := checkGraph(path, io); err != nil {
		return nil, errors.Join(err, Shutdown())
	}

	session, err := NewSession(path, io, l.Threads)
	if err != nil {
		return nil, errors.Join(err, Shutdown())
	}
	return session, nil
}

// checkGraph verifies that every expected input and output exists in the model
func checkGraph(path string, io IO) error {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("failed to read model info for %s: %w", path, err)
	}
	if err := requireNames("input", io.Inputs, inputs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := requireNames("output", io.Outputs, outputs); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func requireNames(kind string, want []string, have []ort.InputOutputInfo) error {
	names := make([]string, len(have))
	for i, info := range have {
		names[i] = info.Name
	}
	return MissingNames(kind, want, names)
}

// MissingNames reports the first wanted name absent from have
func MissingNames(kind string, want, have []string) error {
	present := make(map[string]struct{}, len(have))
	for _, name := range have {
		present[name] = struct{}{}
	}
	for _, name := range want {
		if _, ok := present[name]; !ok {
			return fmt.Errorf("model has no %s named %q (has %v)", kind, name, have)
		}
	}
	return nil
}
