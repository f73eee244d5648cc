// Command lunacept rewrites the Go source of a module so that panics produce
// expression-level failure reports, and restores the originals afterwards.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alecthomas/kong"
	"golang.org/x/sync/errgroup"

	"github.com/LorewalkerZhou/lunacept/instrument"
	"github.com/LorewalkerZhou/lunacept/internal/modroot"
)

// Context carries the options shared by all commands.
type Context struct {
	Logger *slog.Logger
}

// InstrumentCmd rewrites source files in place, keeping a backup next to
// each rewritten file.
type InstrumentCmd struct {
	Paths        []string `arg:"" optional:"" type:"path" help:"Files or directories to instrument (default: enclosing module)."`
	DryRun       bool     `help:"Report files that would change without writing."`
	IncludeTests bool     `help:"Also instrument _test.go files."`
	Parallel     int      `help:"Number of parallel workers." default:"0"`
}

// Run executes the instrument command.
func (cmd *InstrumentCmd) Run(ctx *Context) error {
	root, err := modroot.Find(".")
	if err != nil {
		return fmt.Errorf("locate module: %w", err)
	}
	ctx.Logger.Debug("module located", "dir", root.Dir, "module", root.ModulePath)

	paths := cmd.Paths
	if len(paths) == 0 {
		paths = []string{root.Dir}
	}
	files, err := collectGoFiles(paths, root, cmd.IncludeTests, ctx.Logger)
	if err != nil {
		return err
	}

	parallel := cmd.Parallel
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(parallel)
	for _, file := range files {
		file := file
		g.Go(func() error {
			return instrumentOne(file, cmd.DryRun, ctx.Logger)
		})
	}
	return g.Wait()
}

func instrumentOne(path string, dryRun bool, logger *slog.Logger) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out, err := instrument.File(path, src, logger)
	if err != nil {
		if errors.Is(err, instrument.ErrAlreadyInstrumented) {
			logger.Debug("already instrumented", "file", path)
			return nil
		}
		return err
	}
	if string(out) == string(src) {
		return nil
	}
	if dryRun {
		fmt.Println(path)
		return nil
	}

	backup := path + instrument.BackupSuffix
	if _, err := os.Stat(backup); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(backup, src, 0o644); err != nil {
			return fmt.Errorf("write backup %s: %w", backup, err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("instrumented", "file", path)
	return nil
}

// RestoreCmd puts the backed-up originals back.
type RestoreCmd struct {
	Paths []string `arg:"" optional:"" type:"path" help:"Files or directories to restore (default: enclosing module)."`
}

// Run executes the restore command.
func (cmd *RestoreCmd) Run(ctx *Context) error {
	root, err := modroot.Find(".")
	if err != nil {
		return fmt.Errorf("locate module: %w", err)
	}
	paths := cmd.Paths
	if len(paths) == 0 {
		paths = []string{root.Dir}
	}
	for _, path := range paths {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !strings.HasSuffix(p, instrument.BackupSuffix) {
				return nil
			}
			original := strings.TrimSuffix(p, instrument.BackupSuffix)
			if err := os.Rename(p, original); err != nil {
				return fmt.Errorf("restore %s: %w", original, err)
			}
			ctx.Logger.Info("restored", "file", original)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func collectGoFiles(paths []string, root *modroot.Root, includeTests bool, logger *slog.Logger) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			if keepGoFile(path, root, includeTests, logger) {
				files = append(files, path)
			}
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if name == "vendor" || name == "testdata" || (strings.HasPrefix(name, ".") && name != ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if keepGoFile(p, root, includeTests, logger) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func keepGoFile(path string, root *modroot.Root, includeTests bool, logger *slog.Logger) bool {
	if !strings.HasSuffix(path, ".go") {
		return false
	}
	if !includeTests && strings.HasSuffix(path, "_test.go") {
		return false
	}
	if !root.Contains(path) {
		logger.Debug("skipping file outside module", "file", path)
		return false
	}
	return true
}

var cli struct {
	Verbose    bool          `help:"Enable verbose logging." short:"v"`
	Instrument InstrumentCmd `cmd:"" help:"Rewrite source files for expression-level panic reports."`
	Restore    RestoreCmd    `cmd:"" help:"Restore files from their backups."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("lunacept"),
		kong.Description("Expression-level panic reports for Go programs."),
		kong.UsageOnError(),
	)
	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ctx.FatalIfErrorf(ctx.Run(&Context{Logger: logger}))
}
