// Package naming defines the content-addressed identifier scheme for synthetic
// bindings, shared by the instrument (rewrite-time) and reconstruct
// (failure-time) packages.
//
// The linchpin property of the whole system is that the name computed for an
// expression when its function is rewritten equals the name recomputed for the
// structurally identical node when a failure is reconstructed. Both sides MUST
// therefore derive names and node classifications through this package only.
//
// Classification is deliberately directional-safe: the table here is the
// superset used at reconstruction time. The rewriter may decline to bind a
// node in restricted contexts (multi-value calls, package qualifiers); the
// only consequence is an unresolved lookup, never a wrong value.
package naming

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
)

// Prefix tags every synthetic binding. The double underscore keeps it out of
// the way of user identifiers.
const Prefix = "__luna_tmp_"

// digestLen is the number of hex characters kept from the md5 digest.
const digestLen = 12

// Span is an absolute source range. Lines and columns are 1-based
// (token.Position convention); the end column is the column just past the
// last character, matching ast.Node End semantics.
type Span struct {
	StartLine int
	EndLine   int
	StartCol  int
	EndCol    int
}

// For computes the synthetic name for an expression given its canonical text
// and absolute span. It is a pure function of its inputs.
func For(text string, span Span) string {
	seed := fmt.Sprintf("%s-%d-%d-%d-%d", text, span.StartLine, span.EndLine, span.StartCol, span.EndCol)
	sum := md5.Sum([]byte(seed))
	return Prefix + hex.EncodeToString(sum[:])[:digestLen]
}

// Text returns the canonical one-line rendering of an expression used as the
// hash input. types.ExprString is position-independent, so structurally
// identical nodes from different parses render identically.
func Text(e ast.Expr) string {
	return types.ExprString(e)
}

// SpanOf computes the absolute span of n under fset.
func SpanOf(fset *token.FileSet, n ast.Node) Span {
	return SpanBetween(fset, n.Pos(), n.End())
}

// SpanBetween computes the absolute span of an arbitrary position range.
func SpanBetween(fset *token.FileSet, pos, end token.Pos) Span {
	start := fset.Position(pos)
	stop := fset.Position(end)
	return Span{
		StartLine: start.Line,
		EndLine:   stop.Line,
		StartCol:  start.Column,
		EndCol:    stop.Column,
	}
}

// Kind classifies how an expression participates in decomposition.
type Kind int

const (
	// KindLeaf covers nodes whose value is directly observable (bare names,
	// literals) or that must not be touched at all; no binding, no recursion.
	KindLeaf Kind = iota
	// KindParen is transparent: recurse into the inner expression, never bind
	// the parentheses themselves.
	KindParen
	// KindBind decomposes children first, then binds the whole expression.
	KindBind
	// KindLogical is && / ||: the right operand is only evaluated (and bound)
	// when the left operand demands it; both paths converge on one shared
	// result name.
	KindLogical
	// KindCall decomposes arguments (never the callee operand) and binds the
	// call result in single-value contexts.
	KindCall
	// KindOpaque is passed through untouched, children included. Taking the
	// address of a synthetic copy would change aliasing, so &x is opaque.
	KindOpaque
)

// Classify places e in the shared node-kind table.
func Classify(e ast.Expr) Kind {
	switch v := e.(type) {
	case *ast.ParenExpr:
		return KindParen
	case *ast.BinaryExpr:
		if v.Op == token.LAND || v.Op == token.LOR {
			return KindLogical
		}
		return KindBind
	case *ast.UnaryExpr:
		if v.Op == token.AND {
			return KindOpaque
		}
		return KindBind
	case *ast.StarExpr:
		return KindBind
	case *ast.CallExpr:
		return KindCall
	case *ast.SelectorExpr:
		return KindBind
	case *ast.IndexExpr:
		return KindBind
	case *ast.SliceExpr:
		return KindBind
	case *ast.TypeAssertExpr:
		if v.Type == nil {
			// x.(type) only appears in type switches; never an operand.
			return KindLeaf
		}
		return KindBind
	case *ast.CompositeLit:
		return KindBind
	default:
		// Ident, BasicLit, FuncLit, type expressions, and anything newer than
		// this table: leave untouched.
		return KindLeaf
	}
}

// Children returns the decomposable sub-expressions of e in evaluation order.
// Both the rewriter's binding-insertion order and the reconstructed tree's
// child order come from this list.
func Children(e ast.Expr) []ast.Expr {
	switch v := e.(type) {
	case *ast.ParenExpr:
		return []ast.Expr{v.X}
	case *ast.BinaryExpr:
		return []ast.Expr{v.X, v.Y}
	case *ast.UnaryExpr:
		return []ast.Expr{v.X}
	case *ast.StarExpr:
		return []ast.Expr{v.X}
	case *ast.CallExpr:
		// The callee operand is not an intermediate value; arguments are.
		return v.Args
	case *ast.SelectorExpr:
		return []ast.Expr{v.X}
	case *ast.IndexExpr:
		return []ast.Expr{v.X, v.Index}
	case *ast.SliceExpr:
		out := []ast.Expr{v.X}
		for _, part := range []ast.Expr{v.Low, v.High, v.Max} {
			if part != nil {
				out = append(out, part)
			}
		}
		return out
	case *ast.TypeAssertExpr:
		return []ast.Expr{v.X}
	case *ast.CompositeLit:
		var out []ast.Expr
		for _, elt := range v.Elts {
			if kv, ok := elt.(*ast.KeyValueExpr); ok {
				// Ident keys are struct field names or map keys that read
				// like them; either way they carry no intermediate value.
				if _, isIdent := kv.Key.(*ast.Ident); !isIdent {
					out = append(out, kv.Key)
				}
				out = append(out, kv.Value)
				continue
			}
			out = append(out, elt)
		}
		return out
	default:
		return nil
	}
}
