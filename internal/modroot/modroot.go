// Package modroot locates the enclosing Go module and decides which files
// belong to the project, so instrumentation stays inside the user's own code.
package modroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// ErrNotFound is reported when no go.mod exists above the start path.
var ErrNotFound = errors.New("go.mod not found")

// Root describes the enclosing module.
type Root struct {
	Dir        string
	ModulePath string
}

// Find walks up from startPath to the nearest directory containing go.mod
// and parses the module path out of it.
func Find(startPath string) (*Root, error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", startPath, err)
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	dir := abs
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if info, err := os.Stat(goModPath); err == nil && !info.IsDir() {
			data, err := os.ReadFile(goModPath)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", goModPath, err)
			}
			mf, err := modfile.ParseLax(goModPath, data, nil)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", goModPath, err)
			}
			if mf.Module == nil {
				return nil, fmt.Errorf("parse %s: no module directive", goModPath)
			}
			return &Root{Dir: dir, ModulePath: mf.Module.Mod.Path}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w (searched upward from %s)", ErrNotFound, abs)
		}
		dir = parent
	}
}

// Contains reports whether path is a project source file: inside the module
// root and not under vendored or generated trees.
func (r *Root) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.Dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "vendor" || part == "testdata" || strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}
