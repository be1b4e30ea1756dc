// Command modelcheck inspects a model bundle: which roles resolve, the graph
// inputs and outputs of each ONNX file, whether they carry the names the
// pipeline binds, and whether each stage loads and releases cleanly.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tsawler/go-metal/checkpoints"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dudu/facekit/internal/attribute"
	"github.com/dudu/facekit/internal/config"
	"github.com/dudu/facekit/internal/detector"
	"github.com/dudu/facekit/internal/encoder"
	"github.com/dudu/facekit/internal/inference"
	"github.com/dudu/facekit/internal/landmark"
	"github.com/dudu/facekit/internal/model"
)

func main() {
	cfg := config.Load()
	lib := flag.String("lib", cfg.ORTLibrary, "Path to the onnxruntime shared library")
	metal := flag.Bool("metal", false, "Also try importing each ONNX file with go-metal and list its layers")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: modelcheck [options] [bundle-dir]\n\n")
		fmt.Fprintf(os.Stderr, "Checks every model role in the bundle (default %s).\n\n", cfg.ModelsDir)
		flag.PrintDefaults()
	}
	flag.Parse()

	dir := cfg.ModelsDir
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	if err := run(dir, *lib, *metal); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, lib string, metal bool) error {
	bundle, err := model.OpenBundle(dir, nil)
	if err != nil {
		return err
	}
	fmt.Printf("Bundle: %s\n", bundle.Dir())

	if err := inference.Initialize(lib); err != nil {
		return err
	}
	defer inference.Shutdown()

	var failed []model.Role
	for _, role := range model.Roles {
		fmt.Printf("\n[%s] %s\n", role, bundle.Path(role))
		if err := checkRole(bundle, role, lib, metal); err != nil {
			fmt.Printf("  FAIL: %v\n", err)
			// attribute classifiers are optional
			if !role.Attribute() {
				failed = append(failed, role)
			}
			continue
		}
		fmt.Println("  OK")
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d required role(s) unusable: %v", len(failed), failed)
	}
	return nil
}

func checkRole(b *model.Bundle, role model.Role, lib string, metal bool) error {
	path, err := b.Resolve(role)
	if err != nil {
		return err
	}

	loader := inference.ONNXLoader{LibraryPath: lib}
	if role == model.RoleCascade {
		return checkLifecycle(b, role, loader)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return fmt.Errorf("failed to get model info: %w", err)
	}
	fmt.Printf("  Inputs (%d):\n", len(inputs))
	for _, info := range inputs {
		fmt.Printf("    %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}
	fmt.Printf("  Outputs (%d):\n", len(outputs))
	for _, info := range outputs {
		fmt.Printf("    %s: shape=%v, type=%v\n", info.Name, info.Dimensions, info.DataType)
	}

	if metal {
		listLayers(path)
	}

	if want, ok := expectedIO(role); ok {
		if err := inference.MissingNames("input", want.Inputs, names(inputs)); err != nil {
			return err
		}
		if err := inference.MissingNames("output", want.Outputs, names(outputs)); err != nil {
			return err
		}
	}
	return checkLifecycle(b, role, loader)
}

// stage is a loaded pipeline stage
type stage interface {
	Handle() model.Releaser
	Close() error
}

// loadStage loads role through the same constructor the pipeline uses
func loadStage(b *model.Bundle, role model.Role, loader inference.Loader) (stage, error) {
	switch role {
	case model.RoleCascade:
		c, err := detector.LoadCascade(b, detector.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return c, nil
	case model.RoleDetector:
		s, err := detector.LoadSCRFD(b, loader, detector.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return s, nil
	case model.RoleLandmarks:
		p, err := landmark.Load(b, loader)
		if err != nil {
			return nil, err
		}
		return p, nil
	case model.RoleEncoder:
		e, err := encoder.Load(b, loader)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
	c, err := attribute.Load(b, loader, role)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// checkLifecycle loads the stage for role, closes it and verifies its handle
// went from live to released
func checkLifecycle(b *model.Bundle, role model.Role, loader inference.Loader) error {
	s, err := loadStage(b, role, loader)
	if err != nil {
		return err
	}
	h := s.Handle()
	if h.Role() != role {
		s.Close()
		return fmt.Errorf("loaded a %s handle for %s", h.Role(), role)
	}
	if h.Released() {
		return fmt.Errorf("%s handle released before close", role)
	}
	if err := s.Close(); err != nil {
		return err
	}
	if !h.Released() {
		return fmt.Errorf("%s handle still live after close", role)
	}
	fmt.Println("  Load/release: ok")
	return nil
}

// listLayers reports what go-metal makes of the graph. Most face models use
// operators it does not support, so failure is informational.
func listLayers(path string) {
	importer := checkpoints.NewONNXImporter()
	checkpoint, err := importer.ImportFromONNX(path)
	if err != nil {
		fmt.Printf("  go-metal: not importable: %v\n", err)
		return
	}
	fmt.Printf("  go-metal: %d layers, %d weight tensors\n",
		len(checkpoint.ModelSpec.Layers), len(checkpoint.Weights))
	for i, layer := range checkpoint.ModelSpec.Layers {
		fmt.Printf("    %d: %s (%s)\n", i+1, layer.Name, layer.Type)
	}
}

func expectedIO(role model.Role) (inference.IO, bool) {
	switch role {
	case model.RoleDetector:
		return detector.SCRFDIO, true
	case model.RoleLandmarks:
		return landmark.IO, true
	case model.RoleEncoder:
		return encoder.IO, true
	}
	return attribute.IOFor(role)
}

func names(infos []ort.InputOutputInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out
}
