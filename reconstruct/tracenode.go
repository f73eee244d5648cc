package reconstruct

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/LorewalkerZhou/lunacept/internal/naming"
	"github.com/LorewalkerZhou/lunacept/trace"
)

// TraceNode is one sub-expression of the reconstructed tree: its canonical
// source text, the value it held when the frame failed (when it could be
// correlated), and its sub-expressions in evaluation order.
type TraceNode struct {
	Expr     string
	Value    any
	Resolved bool
	Children []*TraceNode
}

// wrapperLines is the number of lines the snippet parser prepends
// ("package p" and the func header).
const wrapperLines = 2

// BuildTraceTree re-parses snippet, recomputes each covered node's synthetic
// name against its absolute span (pos locates the snippet's first character
// in the original file), and resolves the names through env. A snippet that
// cannot be parsed yields no tree; a name that cannot be resolved yields an
// unresolved node. Neither is an error: reconstruction degrades, it never
// fails.
func BuildTraceTree(snippet string, pos trace.Span, env *Env) []*TraceNode {
	fset, stmts, err := parseSnippet(snippet)
	if err != nil {
		return nil
	}
	c := &correlator{fset: fset, base: pos, env: env}

	var roots []*TraceNode
	for _, s := range stmts {
		roots = append(roots, c.stmtRoots(s)...)
	}

	// A lone bare-expression statement is just a wrapper around its
	// children; return them directly.
	if len(stmts) == 1 && len(roots) == 1 {
		if _, ok := stmts[0].(*ast.ExprStmt); ok && len(roots[0].Children) > 0 {
			return roots[0].Children
		}
	}
	return roots
}

// parseSnippet parses the captured segment standalone, for shape-matching
// only. Control-statement headers arrive without their bodies (the recorded
// span stops at the opening brace), so an empty block is appended as a
// fallback.
func parseSnippet(snippet string) (*token.FileSet, []ast.Stmt, error) {
	var firstErr error
	for _, suffix := range []string{"", " {}"} {
		src := "package p\nfunc _() {\n" + snippet + suffix + "\n}"
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, "snippet.go", src, parser.SkipObjectResolution)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, decl := range file.Decls {
			if fd, ok := decl.(*ast.FuncDecl); ok && fd.Body != nil {
				return fset, fd.Body.List, nil
			}
		}
	}
	return nil, nil, firstErr
}

type correlator struct {
	fset *token.FileSet
	base trace.Span
	env  *Env
}

// span translates a snippet-local node position into the absolute span the
// rewriter hashed: line 1 of the snippet is base.StartLine, and only
// first-line columns are shifted (later snippet lines are whole lines of the
// original file).
func (c *correlator) span(n ast.Node) naming.Span {
	local := naming.SpanOf(c.fset, n)
	adjust := func(line, col int) (int, int) {
		line -= wrapperLines
		if line == 1 {
			col = c.base.StartCol + col - 1
		}
		return c.base.StartLine + line - 1, col
	}
	var out naming.Span
	out.StartLine, out.StartCol = adjust(local.StartLine, local.StartCol)
	out.EndLine, out.EndCol = adjust(local.EndLine, local.EndCol)
	return out
}

// stmtRoots mirrors the rewriter's statement coverage: the expressions it
// would have decomposed become the tree's roots.
func (c *correlator) stmtRoots(s ast.Stmt) []*TraceNode {
	var exprs []ast.Expr
	switch st := s.(type) {
	case *ast.ExprStmt:
		exprs = append(exprs, st.X)
	case *ast.AssignStmt:
		exprs = append(exprs, st.Rhs...)
	case *ast.ReturnStmt:
		exprs = append(exprs, st.Results...)
	case *ast.IfStmt:
		if st.Init == nil && st.Cond != nil {
			exprs = append(exprs, st.Cond)
		}
	case *ast.ForStmt:
		if st.Cond != nil {
			exprs = append(exprs, st.Cond)
		}
	case *ast.RangeStmt:
		exprs = append(exprs, st.X)
	case *ast.SwitchStmt:
		if st.Tag != nil {
			exprs = append(exprs, st.Tag)
		}
	case *ast.SendStmt:
		exprs = append(exprs, st.Chan, st.Value)
	case *ast.DeferStmt:
		exprs = append(exprs, st.Call)
	case *ast.GoStmt:
		exprs = append(exprs, st.Call)
	case *ast.DeclStmt:
		if gd, ok := st.Decl.(*ast.GenDecl); ok && gd.Tok == token.VAR {
			for _, spec := range gd.Specs {
				if vs, ok := spec.(*ast.ValueSpec); ok {
					exprs = append(exprs, vs.Values...)
				}
			}
		}
	}
	nodes := make([]*TraceNode, 0, len(exprs))
	for _, e := range exprs {
		nodes = append(nodes, c.nodeFor(e))
	}
	return nodes
}

// nodeFor builds the tree node for one expression: leaves resolve directly,
// covered compounds resolve by recomputed synthetic name, everything else is
// reported unresolved rather than dropped.
func (c *correlator) nodeFor(e ast.Expr) *TraceNode {
	switch naming.Classify(e) {
	case naming.KindParen:
		return c.nodeFor(e.(*ast.ParenExpr).X)
	case naming.KindLeaf:
		return c.leafNode(e)
	case naming.KindOpaque:
		return &TraceNode{Expr: naming.Text(e)}
	default: // KindBind, KindCall, KindLogical
		name := naming.For(naming.Text(e), c.span(e))
		value, ok := c.env.Get(name)
		node := &TraceNode{Expr: naming.Text(e), Value: value, Resolved: ok}
		for _, child := range naming.Children(e) {
			node.Children = append(node.Children, c.nodeFor(child))
		}
		return node
	}
}

func (c *correlator) leafNode(e ast.Expr) *TraceNode {
	switch v := e.(type) {
	case *ast.Ident:
		value, ok := c.env.Get(v.Name)
		return &TraceNode{Expr: v.Name, Value: value, Resolved: ok}
	case *ast.BasicLit:
		value, ok := literalValue(v)
		return &TraceNode{Expr: v.Value, Value: value, Resolved: ok}
	default:
		return &TraceNode{Expr: naming.Text(e)}
	}
}

// literalValue decodes a basic literal; this is constant decoding, not
// evaluation.
func literalValue(lit *ast.BasicLit) (any, bool) {
	switch lit.Kind {
	case token.INT:
		if v, err := strconv.ParseInt(lit.Value, 0, 64); err == nil {
			return v, true
		}
	case token.FLOAT:
		if v, err := strconv.ParseFloat(lit.Value, 64); err == nil {
			return v, true
		}
	case token.STRING:
		if v, err := strconv.Unquote(lit.Value); err == nil {
			return v, true
		}
	case token.CHAR:
		if v, _, _, err := strconv.UnquoteChar(lit.Value[1:len(lit.Value)-1], '\''); err == nil {
			return v, true
		}
	}
	return nil, false
}
