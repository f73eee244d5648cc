package reconstruct

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/LorewalkerZhou/lunacept/instrument"
	"github.com/LorewalkerZhou/lunacept/trace"
)

// ErrNoPosition is reported for frames that never recorded a statement
// marker (a panic before the first instrumented statement).
var ErrNoPosition = errors.New("frame recorded no statement position")

// DisplayLine is one numbered line of the source window handed to the
// renderer.
type DisplayLine struct {
	Number int
	Text   string
}

// FrameSnapshot is one stack level's evidence bundle: where the frame was
// when the panic went through it, the surrounding source split at the exact
// failing range, and the reconstructed expression tree.
type FrameSnapshot struct {
	Function     string
	File         string
	Span         trace.Span
	DisplayLines []DisplayLine
	Before       string
	Target       string
	After        string
	VarNames     []string
	Variables    map[string]any
	Tree         []*TraceNode
}

// NewFrameSnapshot locates the failing statement of f in its source file,
// extracts a one-line-before/one-line-after window split into
// before|target|after, and correlates the target against the frame's
// recorded bindings.
func NewFrameSnapshot(f *trace.Frame) (*FrameSnapshot, error) {
	span := f.Stmt
	if span.StartLine <= 0 {
		return nil, ErrNoPosition
	}
	if span.EndLine < span.StartLine {
		span.EndLine = span.StartLine
	}

	lines, err := readSourceLines(f.File)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", f.File, err)
	}
	if span.StartLine > len(lines) {
		return nil, fmt.Errorf("recorded line %d beyond end of %s", span.StartLine, f.File)
	}
	if span.EndLine > len(lines) {
		span.EndLine = len(lines)
	}

	// Missing column information degrades to whole-line granularity.
	if !span.Valid() {
		span.StartCol = 1
		span.EndCol = len(lines[span.EndLine-1]) + 1
	}

	windowStart := span.StartLine - 1
	if windowStart < 1 {
		windowStart = 1
	}
	windowEnd := span.EndLine + 1
	if windowEnd > len(lines) {
		windowEnd = len(lines)
	}

	// Blank lines are dropped from the numbered display list but kept in the
	// raw window text so the column arithmetic stays honest.
	var display []DisplayLine
	var window []string
	startAbs, endAbs := -1, -1
	offset := 0
	for n := windowStart; n <= windowEnd; n++ {
		text := lines[n-1]
		if strings.TrimSpace(text) != "" {
			display = append(display, DisplayLine{Number: n, Text: text})
		}
		if n == span.StartLine {
			startAbs = offset + clampCol(span.StartCol, text)
		}
		if n == span.EndLine {
			endAbs = offset + clampCol(span.EndCol, text)
		}
		window = append(window, text)
		offset += len(text) + 1
	}
	complete := strings.Join(window, "\n")

	snap := &FrameSnapshot{
		Function: f.Function,
		File:     f.File,
		Span:     span,
	}
	snap.DisplayLines = display
	if startAbs >= 0 && endAbs >= startAbs && endAbs <= len(complete) {
		snap.Before = complete[:startAbs]
		snap.Target = complete[startAbs:endAbs]
		snap.After = complete[endAbs:]
	} else {
		snap.Target = complete
	}

	env := FrameEnv(f)
	snap.Tree = BuildTraceTree(snap.Target, span, env)
	snap.VarNames = ExtractVarNames(snap.Target)
	snap.Variables = make(map[string]any, len(snap.VarNames))
	for _, name := range snap.VarNames {
		if value, ok := env.Get(name); ok {
			snap.Variables[name] = value
		}
	}
	return snap, nil
}

// clampCol converts a 1-based column to a byte offset within line, clamped
// to the line's length (the raw line may have been right-trimmed).
func clampCol(col int, line string) int {
	off := col - 1
	if off < 0 {
		off = 0
	}
	if off > len(line) {
		off = len(line)
	}
	return off
}

// readSourceLines loads the original source. The file at the recorded path is
// the rewritten one; the recorded spans refer to the pristine text, which the
// rewriter left next to it as a backup.
func readSourceLines(filename string) ([]string, error) {
	if lines, err := readLines(filename + instrument.BackupSuffix); err == nil {
		return lines, nil
	}
	return readLines(filename)
}

// readLines loads the whole file as right-trimmed lines.
func readLines(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
