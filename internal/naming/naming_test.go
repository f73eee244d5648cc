package naming

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

func TestForIsDeterministic(t *testing.T) {
	span := Span{StartLine: 6, EndLine: 6, StartCol: 7, EndCol: 12}
	a := For("a + b", span)
	b := For("a + b", span)
	if a != b {
		t.Fatalf("same inputs produced different names: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, Prefix) {
		t.Errorf("name %q does not carry prefix %q", a, Prefix)
	}
	if got, want := len(a), len(Prefix)+digestLen; got != want {
		t.Errorf("name length = %d, want %d", got, want)
	}
}

func TestForDependsOnSpan(t *testing.T) {
	base := Span{StartLine: 6, EndLine: 6, StartCol: 7, EndCol: 12}
	name := For("a + b", base)
	variants := []Span{
		{StartLine: 7, EndLine: 7, StartCol: 7, EndCol: 12},
		{StartLine: 6, EndLine: 6, StartCol: 8, EndCol: 13},
		{StartLine: 6, EndLine: 7, StartCol: 7, EndCol: 12},
	}
	for _, span := range variants {
		if For("a + b", span) == name {
			t.Errorf("span %+v collided with %+v", span, base)
		}
	}
	if For("a - b", base) == name {
		t.Errorf("different text hashed to the same name")
	}
}

func TestTextIsCanonical(t *testing.T) {
	// Whitespace differences in the source must not change the hash input.
	fset := token.NewFileSet()
	dense, err := parser.ParseExprFrom(fset, "", "a+b*c", 0)
	if err != nil {
		t.Fatal(err)
	}
	spaced, err := parser.ParseExprFrom(fset, "", "a + b * c", 0)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := Text(dense), Text(spaced); got != want {
		t.Fatalf("canonical text differs: %q vs %q", got, want)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		src  string
		want Kind
	}{
		{"a + b", KindBind},
		{"a && b", KindLogical},
		{"a || b", KindLogical},
		{"-a", KindBind},
		{"&a", KindOpaque},
		{"f(x)", KindCall},
		{"p.x", KindBind},
		{"a[i]", KindBind},
		{"a[1:2]", KindBind},
		{"(a)", KindParen},
		{"a", KindLeaf},
		{"42", KindLeaf},
		{"[]int{1, 2}", KindBind},
		{"func() {}", KindLeaf},
	}
	for _, tc := range cases {
		fset := token.NewFileSet()
		e, err := parser.ParseExprFrom(fset, "", tc.src, 0)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.src, err)
		}
		if got := Classify(e); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestChildrenOrder(t *testing.T) {
	cases := []struct {
		src  string
		want []string
	}{
		{"a + b", []string{"a", "b"}},
		{"f(x, g(y))", []string{"x", "g(y)"}},
		{"m[k]", []string{"m", "k"}},
		{"s[lo:hi]", []string{"s", "lo", "hi"}},
		{"[]int{a, b}", []string{"a", "b"}},
		{"map[string]int{k: v}", []string{"v"}},
		{"T{Field: v}", []string{"v"}},
	}
	for _, tc := range cases {
		fset := token.NewFileSet()
		e, err := parser.ParseExprFrom(fset, "", tc.src, 0)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.src, err)
		}
		children := Children(e)
		if len(children) != len(tc.want) {
			t.Fatalf("Children(%q): got %d children, want %d", tc.src, len(children), len(tc.want))
		}
		for i, child := range children {
			if got := Text(child); got != tc.want[i] {
				t.Errorf("Children(%q)[%d] = %q, want %q", tc.src, i, got, tc.want[i])
			}
		}
	}
}
