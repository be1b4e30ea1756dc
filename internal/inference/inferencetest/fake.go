// Package inferencetest provides in-memory runners and loaders for testing
// stages without the native engine.
package inferencetest

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dudu/facekit/internal/inference"
)

// Runner is a scripted inference.Runner
type Runner struct {
	Fn func(inputs []inference.Tensor) ([]inference.Tensor, error)
	// OnDestroy, when set, runs on every Destroy call
	OnDestroy func()

	mu        sync.Mutex
	calls     int
	destroyed int
	lastIn    []inference.Tensor
}

// Run records the call and delegates to Fn
func (r *Runner) Run(inputs []inference.Tensor) ([]inference.Tensor, error) {
	r.mu.Lock()
	r.calls++
	r.lastIn = inputs
	r.mu.Unlock()

	if r.Fn == nil {
		return nil, errors.New("fake runner has no function")
	}
	return r.Fn(inputs)
}

// Destroy counts teardown calls
func (r *Runner) Destroy() error {
	r.mu.Lock()
	r.destroyed++
	r.mu.Unlock()

	if r.OnDestroy != nil {
		r.OnDestroy()
	}
	return nil
}

// Calls returns the number of Run calls
func (r *Runner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Destroyed returns the number of Destroy calls
func (r *Runner) Destroyed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// LastInputs returns the inputs of the most recent Run call
func (r *Runner) LastInputs() []inference.Tensor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastIn
}

// Constant returns a runner that always produces the given outputs
func Constant(outputs ...[]float32) *Runner {
	return &Runner{Fn: func([]inference.Tensor) ([]inference.Tensor, error) {
		out := make([]inference.Tensor, len(outputs))
		for i, data := range outputs {
			out[i] = inference.Tensor{
				Shape: []int64{1, int64(len(data))},
				Data:  append([]float32(nil), data...),
			}
		}
		return out, nil
	}}
}

// Loader serves runners by model file base name and records the order of loads
type Loader struct {
	mu      sync.Mutex
	runners map[string]*Runner
	errs    map[string]error
	loads   []string
	ios     map[string]inference.IO
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{
		runners: make(map[string]*Runner),
		errs:    make(map[string]error),
		ios:     make(map[string]inference.IO),
	}
}

// Set registers the runner served for a model file name
func (l *Loader) Set(name string, r *Runner) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runners[name] = r
	return l
}

// Fail makes loads of a model file name fail with err
func (l *Loader) Fail(name string, err error) *Loader {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[name] = err
	return l
}

// Load implements inference.Loader
func (l *Loader) Load(path string, io inference.IO) (inference.Runner, error) {
	name := filepath.Base(path)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.loads = append(l.loads, name)
	l.ios[name] = io
	if err, ok := l.errs[name]; ok {
		return nil, err
	}
	r, ok := l.runners[name]
	if !ok {
		return nil, errors.New("no fake runner for " + name)
	}
	return r, nil
}

// Loads returns how many times a model file name was loaded
func (l *Loader) Loads(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, loaded := range l.loads {
		if loaded == name {
			n++
		}
	}
	return n
}

// IO returns the IO requested for the last load of a model file name
func (l *Loader) IO(name string) inference.IO {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ios[name]
}

// Bundle creates a temporary bundle directory holding placeholder files
func Bundle(t testing.TB, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("model"), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}
