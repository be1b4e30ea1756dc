package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dudu/facekit/internal/face"
)

// Bundle is a model directory resolved once. Individual role files are only
// checked when the role is first resolved.
type Bundle struct {
	dir   string
	files map[Role]string
}

// OpenBundle resolves dir to an absolute directory. overrides replaces the
// conventional file name for selected roles.
func OpenBundle(dir string, overrides map[Role]string) (*Bundle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %s: %v", face.ErrModelLoad, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %s: %v", face.ErrModelLoad, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: bundle %s is not a directory", face.ErrModelLoad, dir)
	}

	files := make(map[Role]string, len(DefaultFiles))
	for role, name := range DefaultFiles {
		files[role] = name
	}
	for role, name := range overrides {
		if name != "" {
			files[role] = name
		}
	}
	return &Bundle{dir: abs, files: files}, nil
}

// Dir returns the absolute bundle directory
func (b *Bundle) Dir() string {
	return b.dir
}

// Path returns the conventional path for a role without checking it
func (b *Bundle) Path(role Role) string {
	return filepath.Join(b.dir, b.files[role])
}

// Resolve returns the path of the role's resource, failing with ErrModelLoad
// if it is absent, empty or not a regular file
func (b *Bundle) Resolve(role Role) (string, error) {
	name, ok := b.files[role]
	if !ok {
		return "", fmt.Errorf("%w: %s: no file convention for role", face.ErrModelLoad, role)
	}
	path := filepath.Join(b.dir, name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s: required file %s not found", face.ErrModelLoad, role, path)
		}
		return "", fmt.Errorf("%w: %s: %v", face.ErrModelLoad, role, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s: %s is not a regular file", face.ErrModelLoad, role, path)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s: %s is empty", face.ErrModelLoad, role, path)
	}
	return path, nil
}

// Available lists the roles whose resources currently resolve
func (b *Bundle) Available() []Role {
	var roles []Role
	for _, role := range Roles {
		if _, err := b.Resolve(role); err == nil {
			roles = append(roles, role)
		}
	}
	return roles
}
