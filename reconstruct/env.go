// Package reconstruct rebuilds, after a panic, the expression tree of the
// failing statement with the value each sub-expression held, by re-parsing
// the captured source segment and recomputing the synthetic name the rewriter
// assigned to each node. It never evaluates anything: reconstruction is a
// pure lookup against state the single real execution already recorded.
package reconstruct

import (
	"github.com/LorewalkerZhou/lunacept/trace"
)

// Env is a name-resolution chain: the failing frame's recorded bindings
// first, then any outer scope, then the builtin scope.
type Env struct {
	store map[string]any
	outer *Env
}

// NewEnv creates an empty environment enclosed by outer (which may be nil).
func NewEnv(outer *Env) *Env {
	return &Env{store: make(map[string]any), outer: outer}
}

// Set records a binding in this scope.
func (e *Env) Set(name string, v any) {
	e.store[name] = v
}

// Get resolves name through the scope chain.
func (e *Env) Get(name string) (any, bool) {
	if v, ok := e.store[name]; ok {
		return v, true
	}
	if e.outer != nil {
		return e.outer.Get(name)
	}
	return nil, false
}

// Builtins is the outermost scope: the predeclared constants whose values are
// known without any recording.
func Builtins() *Env {
	b := NewEnv(nil)
	b.Set("true", true)
	b.Set("false", false)
	b.Set("nil", nil)
	return b
}

// FrameEnv wraps a frame's recorded bindings into a lookup chain ending at
// the builtin scope.
func FrameEnv(f *trace.Frame) *Env {
	env := NewEnv(Builtins())
	for name, v := range f.Bindings() {
		env.Set(name, v)
	}
	return env
}
