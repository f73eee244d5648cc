// Package lunacept augments panic reports: instead of a flat stack trace it
// reconstructs the expression tree of the failing statement, showing the
// value every sub-expression held at the moment of failure, with highlighted
// source context.
//
// Source files are rewritten ahead of time (see the instrument package and
// the lunacept CLI); at run time the program installs the handler once and
// defers the report at the top of main:
//
//	func main() {
//		lunacept.Install(nil)
//		defer lunacept.Report()
//		run()
//	}
//
// Goroutines report through lunacept.Go, which swallows the panic after
// reporting so the rest of the process keeps running, mirroring how a failing
// thread does not take the whole program down in runtimes with per-thread
// failure hooks.
package lunacept

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/fatih/color"

	"github.com/LorewalkerZhou/lunacept/reconstruct"
	"github.com/LorewalkerZhou/lunacept/render"
	"github.com/LorewalkerZhou/lunacept/trace"
)

var (
	installOnce sync.Once
	installed   struct {
		cfg *Config
		out io.Writer
	}
)

// Install configures reporting. It is idempotent: only the first call takes
// effect, and it is expected to run at startup before worker goroutines
// begin. A nil config means DefaultConfig.
func Install(cfg *Config) {
	installOnce.Do(func() {
		if cfg == nil {
			cfg = DefaultConfig()
		}
		installed.cfg = cfg
		installed.out = os.Stderr
		switch cfg.Color {
		case "always":
			color.NoColor = false
		case "never":
			color.NoColor = true
		}
	})
}

func activeConfig() *Config {
	Install(nil)
	return installed.cfg
}

// Report recovers an unwinding panic, prints the reconstructed failure
// report, and exits the process. It must be deferred directly in main.
func Report() {
	r := recover()
	if r == nil {
		return
	}
	cfg := activeConfig()
	reportPanic(r, installed.out, cfg)
	os.Exit(cfg.ExitCode)
}

// Go runs fn on a new goroutine; a panic in fn is reported and then
// swallowed, so the process continues.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reportPanic(r, installed.out, activeConfig())
			}
		}()
		fn()
	}()
}

// Snapshots drains the current goroutine's failure chain and reconstructs a
// snapshot per frame, outermost first, capped to the configured innermost
// depth. Frames whose reconstruction fails are skipped with a diagnostic;
// reporting a failure must never raise a second one.
func Snapshots(cfg *Config) []*reconstruct.FrameSnapshot {
	frames := trace.TakeFailure() // innermost first
	if cfg.MaxFrames > 0 && len(frames) > cfg.MaxFrames {
		frames = frames[:cfg.MaxFrames]
	}

	snaps := make([]*reconstruct.FrameSnapshot, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		snap, err := safeSnapshot(frames[i])
		if err != nil {
			slog.Debug("skipping frame in failure report", "func", frames[i].Function, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps
}

func safeSnapshot(f *trace.Frame) (snap *reconstruct.FrameSnapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			snap, err = nil, fmt.Errorf("frame reconstruction panicked: %v", p)
		}
	}()
	return reconstruct.NewFrameSnapshot(f)
}

func reportPanic(r any, out io.Writer, cfg *Config) {
	if out == nil {
		out = os.Stderr
	}
	renderer := render.New(out)
	renderer.MaxValueLen = cfg.MaxValueLen
	renderer.PrintException(r, Snapshots(cfg))
}
