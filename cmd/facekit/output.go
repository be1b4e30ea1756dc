package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dudu/facekit/internal/camera"
	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/imagebuf"
	"github.com/dudu/facekit/internal/imageio"
	"github.com/dudu/facekit/internal/pipeline"
)

// decoders are the --decoder choices
var decoders = map[string]func([]byte) (*imagebuf.Buffer, error){
	"go":     imageio.DecodeBytes,
	"opencv": camera.DecodeBytes,
}

// decodeImage reads and decodes path with the selected decoder
func decodeImage(path string) (*imagebuf.Buffer, error) {
	decode, ok := decoders[decoderName]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q", decoderName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", face.ErrInvalidImage, err)
	}
	img, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// imageExts are the file extensions batch picks up
var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
}

// result is one JSON line of command output
type result struct {
	File  string          `json:"file"`
	Faces []pipeline.Face `json:"faces"`
	Error string          `json:"error,omitempty"`
}

// regionsResult is the output of detect
type regionsResult struct {
	File    string        `json:"file"`
	Regions []face.Region `json:"regions"`
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// primaryFace returns the largest face, the one a single-face command acts on
func primaryFace(faces []pipeline.Face) (pipeline.Face, bool) {
	if len(faces) == 0 {
		return pipeline.Face{}, false
	}
	best := 0
	for i := range faces {
		if faces[i].Region.Area() > faces[best].Region.Area() {
			best = i
		}
	}
	return faces[best], true
}

// listImages returns the image files under dir in lexical order
func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
