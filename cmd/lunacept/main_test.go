package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/LorewalkerZhou/lunacept/internal/modroot"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollectGoFiles(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"go.mod":                 "module example.com/demo\n\ngo 1.24\n",
		"main.go":                "package main\n",
		"main_test.go":           "package main\n",
		"notes.txt":              "not source\n",
		"internal/app/app.go":    "package app\n",
		"vendor/dep/dep.go":      "package dep\n",
		"pkg/testdata/fx.go":     "package fx\n",
		".hidden/skipped.go":     "package skipped\n",
		"internal/app/README.md": "docs\n",
	})
	root := &modroot.Root{Dir: dir, ModulePath: "example.com/demo"}

	files, err := collectGoFiles([]string{dir}, root, false, quietLogger())
	if err != nil {
		t.Fatalf("collectGoFiles: %v", err)
	}
	sort.Strings(files)
	want := []string{
		filepath.Join(dir, "internal", "app", "app.go"),
		filepath.Join(dir, "main.go"),
	}
	if diff := cmp.Diff(want, files); diff != "" {
		t.Errorf("collected files mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectGoFilesIncludesTests(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"go.mod":       "module example.com/demo\n\ngo 1.24\n",
		"main.go":      "package main\n",
		"main_test.go": "package main\n",
	})
	root := &modroot.Root{Dir: dir, ModulePath: "example.com/demo"}

	files, err := collectGoFiles([]string{dir}, root, true, quietLogger())
	if err != nil {
		t.Fatalf("collectGoFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %v, want main.go and main_test.go", files)
	}
}

func TestCollectGoFilesSingleFileArgument(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"go.mod":  "module example.com/demo\n\ngo 1.24\n",
		"main.go": "package main\n",
	})
	root := &modroot.Root{Dir: dir, ModulePath: "example.com/demo"}
	target := filepath.Join(dir, "main.go")

	files, err := collectGoFiles([]string{target}, root, false, quietLogger())
	if err != nil {
		t.Fatalf("collectGoFiles: %v", err)
	}
	if diff := cmp.Diff([]string{target}, files); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestKeepGoFileRejectsOutsiders(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"go.mod": "module example.com/demo\n\ngo 1.24\n",
	})
	root := &modroot.Root{Dir: dir, ModulePath: "example.com/demo"}

	outside := filepath.Join(filepath.Dir(dir), "elsewhere.go")
	if keepGoFile(outside, root, false, quietLogger()) {
		t.Error("file outside the module was kept")
	}
	if keepGoFile(filepath.Join(dir, "README.md"), root, false, quietLogger()) {
		t.Error("non-Go file was kept")
	}
}
