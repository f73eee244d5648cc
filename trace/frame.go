// Package trace is the runtime side channel that instrumented code reports
// into. The Go runtime exposes neither a frame's locals nor a stable
// instruction-offset to source-position table, so rewritten functions carry
// their own evidence: a Frame pushed on entry, a position marker before each
// statement, and a name->value record for every synthetic binding and visible
// assignment.
//
// Each goroutine owns its frame stack; nothing here is shared between
// goroutines except the registry that maps goroutine ids to their stacks, so
// concurrent failures reconstruct independently.
package trace

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Span is an absolute source range, 1-based lines and columns, end column
// exclusive (the column just past the last character).
type Span struct {
	StartLine int
	EndLine   int
	StartCol  int
	EndCol    int
}

// Valid reports whether the span carries column information. A zero column
// means the rewriter could not determine it; consumers fall back to whole
// lines.
func (s Span) Valid() bool {
	return s.StartLine > 0 && s.StartCol > 0 && s.EndCol > 0
}

// Frame is one instrumented call's evidence bundle: the live name bindings
// recorded so far and the span of the statement currently executing. A Frame
// must only be touched by the goroutine that created it.
type Frame struct {
	Function string
	File     string
	Stmt     Span
	bindings map[string]any
}

// Bind records a synthetic binding and returns the value unchanged. It is the
// identity function as far as program semantics are concerned; rewritten code
// routes every intermediate result through it.
func Bind[T any](f *Frame, name string, v T) T {
	if f != nil {
		f.bindings[name] = v
	}
	return v
}

// Capture records a user-visible binding (a parameter or an assignment
// target) so bare names resolve at reconstruction time.
func (f *Frame) Capture(name string, v any) {
	if f != nil {
		f.bindings[name] = v
	}
}

// At marks the statement about to execute. The last marker before a panic
// identifies the failing statement, standing in for an instruction offset.
func (f *Frame) At(startLine, endLine, startCol, endCol int) {
	if f != nil {
		f.Stmt = Span{StartLine: startLine, EndLine: endLine, StartCol: startCol, EndCol: endCol}
	}
}

// Lookup returns the recorded value for name.
func (f *Frame) Lookup(name string) (any, bool) {
	if f == nil {
		return nil, false
	}
	v, ok := f.bindings[name]
	return v, ok
}

// Bindings returns a copy of the recorded name table.
func (f *Frame) Bindings() map[string]any {
	out := make(map[string]any, len(f.bindings))
	for k, v := range f.bindings {
		out[k] = v
	}
	return out
}

type goroutineState struct {
	active []*Frame
	failed []*Frame // innermost first, filled while a panic unwinds
}

var states sync.Map // goroutine id -> *goroutineState

// goid extracts the current goroutine's id from the runtime.Stack header
// ("goroutine N [running]: ..."). There is no public API for this; parsing
// the header is the established workaround.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func current() *goroutineState {
	id := goid()
	if st, ok := states.Load(id); ok {
		return st.(*goroutineState)
	}
	st := &goroutineState{}
	states.Store(id, st)
	return st
}

// Enter pushes a new frame for the current goroutine. Entering at stack
// bottom drops any failure chain left over from a panic that user code
// recovered without reporting.
func Enter(function, file string) *Frame {
	st := current()
	if len(st.active) == 0 {
		st.failed = nil
	}
	f := &Frame{
		Function: function,
		File:     file,
		bindings: make(map[string]any),
	}
	st.active = append(st.active, f)
	return f
}

// Leave pops the frame. It must be invoked via defer: when a panic is
// unwinding through this frame, Leave snapshots it onto the goroutine's
// failure chain and re-raises, so by the time a top-level handler recovers,
// the chain holds every instrumented frame innermost first.
func (f *Frame) Leave() {
	st := current()
	if n := len(st.active); n > 0 && st.active[n-1] == f {
		st.active = st.active[:n-1]
	}
	if r := recover(); r != nil {
		st.failed = append(st.failed, f)
		panic(r)
	}
	if len(st.active) == 0 && len(st.failed) == 0 {
		states.Delete(goid())
	}
}

// TakeFailure drains and returns the current goroutine's failure chain,
// innermost frame first. It returns nil when no instrumented frame saw a
// panic.
func TakeFailure() []*Frame {
	id := goid()
	st, ok := states.Load(id)
	if !ok {
		return nil
	}
	gs := st.(*goroutineState)
	failed := gs.failed
	gs.failed = nil
	if len(gs.active) == 0 {
		states.Delete(id)
	}
	return failed
}
