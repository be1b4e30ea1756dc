// Package config resolves runtime settings: built-in defaults, overridden
// by FACEKIT_* environment variables, overridden again by command flags.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds every runtime setting
type Config struct {
	ModelsDir      string  // model bundle directory
	LogLevel       string  // logrus level name
	DetectCNN      bool    // use the SCRFD network instead of the cascade
	MatchThreshold float64 // encoding distance under which faces match
	ORTLibrary     string  // onnxruntime shared library
	DatabaseURL    string  // PostgreSQL (pgvector) gallery; empty disables it
	Workers        int     // batch concurrency
	Threads        int     // intra-op threads per session, 0 lets the runtime decide
	CameraID       int
	// ModelFiles overrides bundle file names, keyed by role name
	ModelFiles map[string]string
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		ModelsDir:      "models",
		LogLevel:       "info",
		DetectCNN:      true,
		MatchThreshold: 1.0,
		ORTLibrary:     DefaultLibraryPath(),
		Workers:        runtime.NumCPU(),
	}
}

// Load returns the defaults overridden by the environment
func Load() Config {
	c := Default()
	c.readEnv()
	return c
}

func (c *Config) readEnv() {
	readEnvString("FACEKIT_MODELS_DIR", &c.ModelsDir)
	readEnvString("FACEKIT_LOG_LEVEL", &c.LogLevel)
	readEnvBool("FACEKIT_DETECT_CNN", &c.DetectCNN)
	readEnvFloat("FACEKIT_MATCH_THRESHOLD", &c.MatchThreshold)
	readEnvString("FACEKIT_ORT_LIB", &c.ORTLibrary)
	readEnvString("FACEKIT_DATABASE_URL", &c.DatabaseURL)
	readEnvInt("FACEKIT_WORKERS", &c.Workers)
	readEnvInt("FACEKIT_THREADS", &c.Threads)
	readEnvInt("FACEKIT_CAMERA", &c.CameraID)
	readEnvMap("FACEKIT_MODEL_FILES", &c.ModelFiles)
}

// DefaultLibraryPath returns where the onnxruntime library is expected on this platform
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "lib/libonnxruntime.dylib"
	case "windows":
		return "lib/onnxruntime.dll"
	}
	return "lib/libonnxruntime.so"
}

func readEnvString(name string, value *string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	*value = v
}

func readEnvBool(name string, value *bool) {
	v := strings.ToLower(os.Getenv(name))
	if v == "true" || v == "1" || v == "yes" || v == "on" {
		*value = true
	} else if v == "false" || v == "0" || v == "no" || v == "off" {
		*value = false
	}
}

func readEnvFloat(name string, value *float64) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return
	}
	*value = f
}

func readEnvInt(name string, value *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	f, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*value = f
}

// readEnvMap reads "key=value,key=value". Entries without a key or value are skipped.
func readEnvMap(name string, value *map[string]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			continue
		}
		m[key] = val
	}
	if len(m) > 0 {
		*value = m
	}
}
