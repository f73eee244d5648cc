package reconstruct

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtractVarNames(t *testing.T) {
	tests := []struct {
		name    string
		snippet string
		want    []string
	}{
		{
			name:    "assignment target excluded",
			snippet: "c := a + b",
			want:    []string{"a", "b"},
		},
		{
			name:    "called function name excluded receiver kept",
			snippet: "r := obj.Method(x)",
			want:    []string{"obj", "x"},
		},
		{
			name:    "plain call name excluded",
			snippet: "r := add(x, y)",
			want:    []string{"x", "y"},
		},
		{
			name:    "selector field excluded",
			snippet: "v := cfg.Limit + n",
			want:    []string{"cfg", "n"},
		},
		{
			name:    "builtins and blank excluded",
			snippet: "_ = len(items) + cap(buf)",
			want:    []string{"buf", "items"},
		},
		{
			name:    "struct literal keys excluded",
			snippet: "p := point{x: a, y: b}",
			want:    []string{"a", "b", "point"},
		},
		{
			name:    "func literal params excluded",
			snippet: "f := func(v int) int { return v + base }",
			want:    []string{"base"},
		},
		{
			name:    "range variables excluded",
			snippet: "for i, v := range items { total += v }",
			want:    []string{"items"},
		},
		{
			name:    "sorted and deduplicated",
			snippet: "_ = b + a + b + a",
			want:    []string{"a", "b"},
		},
		{
			name:    "unparsable snippet",
			snippet: "][ nope",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractVarNames(tt.snippet)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ExtractVarNames(%q) mismatch (-want +got):\n%s", tt.snippet, diff)
			}
		})
	}
}

func TestEnvLookupChain(t *testing.T) {
	outer := NewEnv(Builtins())
	outer.Set("x", 1)
	inner := NewEnv(outer)
	inner.Set("y", 2)

	if v, ok := inner.Get("y"); !ok || v != 2 {
		t.Errorf("inner y = %v (ok=%v)", v, ok)
	}
	if v, ok := inner.Get("x"); !ok || v != 1 {
		t.Errorf("outer x through inner = %v (ok=%v)", v, ok)
	}
	if v, ok := inner.Get("true"); !ok || v != true {
		t.Errorf("builtin true = %v (ok=%v)", v, ok)
	}
	if _, ok := inner.Get("zzz"); ok {
		t.Error("unknown name resolved")
	}

	// Inner definitions shadow outer ones without mutating them.
	inner.Set("x", 9)
	if v, _ := inner.Get("x"); v != 9 {
		t.Errorf("shadowed x = %v, want 9", v)
	}
	if v, _ := outer.Get("x"); v != 1 {
		t.Errorf("outer x mutated to %v", v)
	}
}
