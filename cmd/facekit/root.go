package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dudu/facekit/internal/config"
	"github.com/dudu/facekit/internal/detector"
	"github.com/dudu/facekit/internal/gallery"
	"github.com/dudu/facekit/internal/logging"
	"github.com/dudu/facekit/internal/model"
	"github.com/dudu/facekit/internal/pipeline"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg starts from defaults and the environment; flags override it
	cfg = config.Load()

	algorithmName string
	algorithm     detector.Algorithm
	decoderName   string

	log *logrus.Logger
	// pipe and db are opened on demand by subcommands and closed after them
	pipe *pipeline.Pipeline
	db   *gallery.Store

	// pipelineOptions are appended to every pipeline the CLI opens
	pipelineOptions []pipeline.Option
)

var rootCmd = &cobra.Command{
	Use:          "facekit",
	Short:        "Face detection, landmarks, encodings and attributes from ONNX models",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		log, err = logging.New(cfg.LogLevel)
		if err != nil {
			return err
		}

		if _, ok := decoders[decoderName]; !ok {
			return fmt.Errorf("unknown decoder %q (use go or opencv)", decoderName)
		}

		algorithm, err = detector.ParseAlgorithm(algorithmName)
		return err
	},
}

// teardown releases whatever the command opened. Cobra skips post-run hooks
// when a command fails, so this runs from execute instead.
func teardown() {
	if pipe != nil {
		if err := pipe.Close(); err != nil && log != nil {
			log.WithError(err).Warn("Failed to release models")
		}
		pipe = nil
	}
	if db != nil {
		// The command context may already be cancelled (Ctrl+C)
		db.Close(context.Background())
		db = nil
	}
}

// openPipeline opens the model bundle with the given roles preloaded
func openPipeline(preload ...model.Role) (*pipeline.Pipeline, error) {
	if pipe != nil {
		return pipe, nil
	}

	files, err := model.ParseFiles(cfg.ModelFiles)
	if err != nil {
		return nil, fmt.Errorf("invalid model file override: %w", err)
	}

	opts := append([]pipeline.Option{pipeline.WithLogger(logrus.NewEntry(log))}, pipelineOptions...)
	p, err := pipeline.Open(pipeline.Config{
		ModelsDir:   cfg.ModelsDir,
		Files:       files,
		Preload:     preload,
		LibraryPath: cfg.ORTLibrary,
		Threads:     cfg.Threads,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open models: %w", err)
	}
	pipe = p
	return p, nil
}

// detectorRole is the model role behind the selected algorithm
func detectorRole() model.Role {
	if algorithm == detector.AlgorithmFast {
		return model.RoleCascade
	}
	return model.RoleDetector
}

// openGallery connects to the identity database
func openGallery(ctx context.Context) (*gallery.Store, error) {
	if db != nil {
		return db, nil
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured (use --db or FACEKIT_DATABASE_URL)")
	}

	s, err := gallery.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db = s
	return s, nil
}

// execute runs the command line and releases everything it opened, whether
// or not the command succeeded
func execute(ctx context.Context, args []string) error {
	defer teardown()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	defaultAlgorithm := detector.AlgorithmFast.String()
	if cfg.DetectCNN {
		defaultAlgorithm = detector.AlgorithmCNN.String()
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ModelsDir, "models", cfg.ModelsDir, "Model bundle directory")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "PostgreSQL connection string for the identity gallery")
	flags.StringVar(&cfg.ORTLibrary, "ort-lib", cfg.ORTLibrary, "Path to the onnxruntime shared library")
	flags.IntVar(&cfg.Threads, "threads", cfg.Threads, "Intra-op threads per model (0 = runtime default)")
	flags.StringVarP(&algorithmName, "algorithm", "a", defaultAlgorithm, "Detection algorithm: fast or cnn")
	flags.StringVar(&decoderName, "decoder", "go", "Image decoder: go (EXIF aware) or opencv")
	flags.StringToStringVar(&cfg.ModelFiles, "model-file", cfg.ModelFiles, "Bundle file override per role, e.g. detector=scrfd_2.5g.onnx")
}
