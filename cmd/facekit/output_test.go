package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dudu/facekit/internal/face"
	"github.com/dudu/facekit/internal/model"
	"github.com/dudu/facekit/internal/pipeline"
)

func TestPrimaryFace(t *testing.T) {
	if _, ok := primaryFace(nil); ok {
		t.Error("primaryFace(nil) reported a face")
	}

	faces := []pipeline.Face{
		{Region: face.Rect(0, 0, 10, 10)},
		{Region: face.Rect(0, 0, 30, 20)},
		{Region: face.Rect(5, 5, 20, 20)},
	}
	f, ok := primaryFace(faces)
	if !ok || f.Region != faces[1].Region {
		t.Errorf("primaryFace() = %+v, want the 30x20 region", f.Region)
	}
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", "sub/c.jpeg"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := listImages(dir)
	if err != nil {
		t.Fatalf("listImages() error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "sub", "c.jpeg"),
	}
	if len(files) != len(want) {
		t.Fatalf("listImages() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, files[i], want[i])
		}
	}

	if _, err := listImages(filepath.Join(dir, "missing")); err == nil {
		t.Error("listImages() on a missing directory succeeded")
	}
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		list    string
		want    []model.Role
		wantErr bool
	}{
		{"", nil, false},
		{"age, gender", []model.Role{model.RoleAge, model.RoleGender}, false},
		{"headpose,emotion", []model.Role{model.RoleHeadPose, model.RoleEmotion}, false},
		{"encoder", nil, true},
		{"height", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.list, func(t *testing.T) {
			got, err := parseAttributes(tt.list)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAttributes(%q) error = %v, wantErr %v", tt.list, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseAttributes(%q) = %v, want %v", tt.list, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("role %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	r := result{File: "x.png", Faces: []pipeline.Face{{Region: face.Rect(1, 2, 3, 4)}}}
	if err := writeJSON(&buf, r); err != nil {
		t.Fatal(err)
	}
	line := buf.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Errorf("writeJSON() did not write a single line: %q", line)
	}
	if !strings.Contains(line, `"file":"x.png"`) || strings.Contains(line, `"error"`) {
		t.Errorf("unexpected JSON: %s", line)
	}
}
