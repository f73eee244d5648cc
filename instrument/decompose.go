package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/token"
	"strings"

	"github.com/LorewalkerZhou/lunacept/internal/naming"
)

// funcInstr accumulates the edits for one function body.
type funcInstr struct {
	*rewriter
	results int // result count of the enclosing function signature
	edits   []edit
}

func (f *funcInstr) insert(off int, text string) {
	f.edits = append(f.edits, edit{beg: off, end: off, text: text})
}

func (f *funcInstr) replaceExpr(e ast.Expr, text string) {
	if text == f.text(e) {
		return
	}
	f.edits = append(f.edits, edit{beg: f.offset(e.Pos()), end: f.offset(e.End()), text: text})
}

func (f *funcInstr) nameFor(e ast.Expr) string {
	return naming.For(naming.Text(e), naming.SpanOf(f.fset, e))
}

// atCall renders the statement marker recording the given span.
func atCall(span naming.Span) string {
	return fmt.Sprintf("%s.At(%d, %d, %d, %d)", frameVar, span.StartLine, span.EndLine, span.StartCol, span.EndCol)
}

// emit inserts the statement marker plus the binding prelude immediately
// before s, on the same line.
func (f *funcInstr) emit(s ast.Stmt, span naming.Span, pre []string) {
	stmts := append([]string{atCall(span)}, pre...)
	f.insert(f.offset(s.Pos()), strings.Join(stmts, "; ")+"; ")
}

func (f *funcInstr) spanOf(n ast.Node) naming.Span {
	return naming.SpanOf(f.fset, n)
}

// headerSpan covers a control statement's header (keyword up to its body),
// so a failure while evaluating the condition points at the header rather
// than the whole block.
func (f *funcInstr) headerSpan(s ast.Stmt, body *ast.BlockStmt) naming.Span {
	return naming.SpanBetween(f.fset, s.Pos(), body.Lbrace)
}

func (f *funcInstr) block(b *ast.BlockStmt) {
	for _, s := range b.List {
		f.stmt(s)
	}
}

func (f *funcInstr) stmt(s ast.Stmt) {
	switch st := s.(type) {
	case *ast.AssignStmt:
		f.assignStmt(st)
	case *ast.ReturnStmt:
		f.returnStmt(st)
	case *ast.ExprStmt:
		f.exprStmt(st)
	case *ast.IfStmt:
		f.ifStmt(st, true)
	case *ast.ForStmt:
		f.forStmt(st)
	case *ast.RangeStmt:
		f.rangeStmt(st)
	case *ast.SwitchStmt:
		f.switchStmt(st)
	case *ast.TypeSwitchStmt:
		for _, clause := range st.Body.List {
			if cc, ok := clause.(*ast.CaseClause); ok {
				f.stmtList(cc.Body)
			}
		}
	case *ast.SelectStmt:
		for _, clause := range st.Body.List {
			if comm, ok := clause.(*ast.CommClause); ok {
				f.stmtList(comm.Body)
			}
		}
	case *ast.BlockStmt:
		f.block(st)
	case *ast.DeferStmt:
		f.callStmt(st, st.Call)
	case *ast.GoStmt:
		f.callStmt(st, st.Call)
	case *ast.DeclStmt:
		f.declStmt(st)
	case *ast.SendStmt:
		f.sendStmt(st)
	case *ast.LabeledStmt:
		// A prelude would steal the label, so the header stays untouched;
		// nested bodies are still fair game.
		switch inner := st.Stmt.(type) {
		case *ast.ForStmt:
			f.block(inner.Body)
		case *ast.RangeStmt:
			f.block(inner.Body)
		case *ast.BlockStmt:
			f.block(inner)
		}
	}
}

func (f *funcInstr) stmtList(list []ast.Stmt) {
	for _, s := range list {
		f.stmt(s)
	}
}

func (f *funcInstr) assignStmt(st *ast.AssignStmt) {
	var pre []string
	if len(st.Lhs) > len(st.Rhs) && len(st.Rhs) == 1 {
		// v, err := f(...): binding the call would collapse its values, so
		// only its arguments are decomposed.
		f.replaceExpr(st.Rhs[0], f.decomposeChildren(st.Rhs[0], &pre))
	} else {
		for _, rhs := range st.Rhs {
			f.replaceExpr(rhs, f.decompose(rhs, &pre))
		}
	}
	f.emit(st, f.spanOf(st), pre)

	var caps []string
	for _, lhs := range st.Lhs {
		if id, ok := lhs.(*ast.Ident); ok && id.Name != "_" {
			caps = append(caps, fmt.Sprintf("%s.Capture(%q, %s)", frameVar, id.Name, id.Name))
		}
	}
	if len(caps) > 0 {
		f.insert(f.offset(st.End()), "; "+strings.Join(caps, "; "))
	}
}

func (f *funcInstr) returnStmt(st *ast.ReturnStmt) {
	var pre []string
	if f.results > 1 && len(st.Results) == 1 {
		f.replaceExpr(st.Results[0], f.decomposeChildren(st.Results[0], &pre))
	} else {
		for _, res := range st.Results {
			f.replaceExpr(res, f.decompose(res, &pre))
		}
	}
	f.emit(st, f.spanOf(st), pre)
}

func (f *funcInstr) exprStmt(st *ast.ExprStmt) {
	// The top-level expression's own result is discarded (and a call here may
	// return nothing, or several values), so only its children are bound.
	var pre []string
	f.replaceExpr(st.X, f.decomposeChildren(st.X, &pre))
	f.emit(st, f.spanOf(st), pre)
}

func (f *funcInstr) ifStmt(st *ast.IfStmt, topLevel bool) {
	if topLevel {
		if st.Init == nil {
			var pre []string
			f.replaceExpr(st.Cond, f.decompose(st.Cond, &pre))
			f.emit(st, f.headerSpan(st, st.Body), pre)
		} else {
			f.emit(st, f.headerSpan(st, st.Body), nil)
		}
	}
	// An else-if condition cannot take a prelude without restructuring the
	// chain, so it passes through; its body is still instrumented.
	f.block(st.Body)
	switch alt := st.Else.(type) {
	case *ast.BlockStmt:
		f.block(alt)
	case *ast.IfStmt:
		f.ifStmt(alt, false)
	}
}

func (f *funcInstr) forStmt(st *ast.ForStmt) {
	if st.Cond != nil && st.Init == nil && st.Post == nil {
		// while-form: hoist the condition into the loop body so it is
		// re-decomposed and re-bound on every iteration. `continue` returns
		// to the top of the loop, so the check still runs before each pass.
		f.emit(st, f.headerSpan(st, st.Body), nil)
		var pre []string
		condText := f.decompose(st.Cond, &pre)
		f.edits = append(f.edits, edit{beg: f.offset(st.Cond.Pos()), end: f.offset(st.Cond.End())})
		inner := append([]string{atCall(f.spanOf(st.Cond))}, pre...)
		inner = append(inner, fmt.Sprintf("if !(%s) { break }", condText))
		f.insert(f.offset(st.Body.Lbrace)+1, " "+strings.Join(inner, "; ")+";")
	} else {
		// 3-clause conditions pass through: the post statement interacts
		// with `continue` in a way same-line edits cannot reproduce.
		f.emit(st, f.headerSpan(st, st.Body), nil)
	}
	f.block(st.Body)
}

func (f *funcInstr) rangeStmt(st *ast.RangeStmt) {
	var pre []string
	f.replaceExpr(st.X, f.decompose(st.X, &pre))
	f.emit(st, f.headerSpan(st, st.Body), pre)

	// Loop variables are user-visible; re-capture each iteration, last
	// iteration wins.
	var caps []string
	for _, target := range []ast.Expr{st.Key, st.Value} {
		if id, ok := target.(*ast.Ident); ok && id.Name != "_" {
			caps = append(caps, fmt.Sprintf(" %s.Capture(%q, %s);", frameVar, id.Name, id.Name))
		}
	}
	if len(caps) > 0 {
		f.insert(f.offset(st.Body.Lbrace)+1, strings.Join(caps, ""))
	}
	f.block(st.Body)
}

func (f *funcInstr) switchStmt(st *ast.SwitchStmt) {
	if st.Tag != nil && st.Init == nil {
		var pre []string
		f.replaceExpr(st.Tag, f.decompose(st.Tag, &pre))
		f.emit(st, f.headerSpan(st, st.Body), pre)
	} else {
		f.emit(st, f.headerSpan(st, st.Body), nil)
	}
	for _, clause := range st.Body.List {
		if cc, ok := clause.(*ast.CaseClause); ok {
			f.stmtList(cc.Body)
		}
	}
}

func (f *funcInstr) callStmt(st ast.Stmt, call *ast.CallExpr) {
	// go and defer both evaluate their arguments at the statement itself, so
	// hoisting the bindings in front preserves semantics; the call result is
	// never observable here.
	var pre []string
	f.replaceExpr(call, f.decomposeChildren(call, &pre))
	f.emit(st, f.spanOf(st), pre)
}

func (f *funcInstr) sendStmt(st *ast.SendStmt) {
	var pre []string
	f.replaceExpr(st.Chan, f.decompose(st.Chan, &pre))
	f.replaceExpr(st.Value, f.decompose(st.Value, &pre))
	f.emit(st, f.spanOf(st), pre)
}

func (f *funcInstr) declStmt(st *ast.DeclStmt) {
	gd, ok := st.Decl.(*ast.GenDecl)
	if !ok || gd.Tok != token.VAR {
		return // const and type declarations must keep constant expressions
	}
	var pre []string
	var caps []string
	for _, spec := range gd.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		if len(vs.Values) == len(vs.Names) {
			for _, value := range vs.Values {
				f.replaceExpr(value, f.decompose(value, &pre))
			}
		} else if len(vs.Values) == 1 {
			f.replaceExpr(vs.Values[0], f.decomposeChildren(vs.Values[0], &pre))
		}
		if len(vs.Values) > 0 {
			for _, name := range vs.Names {
				if name.Name != "_" {
					caps = append(caps, fmt.Sprintf("%s.Capture(%q, %s)", frameVar, name.Name, name.Name))
				}
			}
		}
	}
	if len(pre) == 0 && len(caps) == 0 {
		return
	}
	f.emit(st, f.spanOf(st), pre)
	if len(caps) > 0 {
		f.insert(f.offset(st.End()), "; "+strings.Join(caps, "; "))
	}
}

// decompose rewrites e depth-first, appending one synthetic binding per
// compound sub-expression to pre, and returns the text that stands in for e
// at its point of use.
func (f *funcInstr) decompose(e ast.Expr, pre *[]string) string {
	if isLiteralConst(e) {
		// An untyped constant keeps its flexibility only as source text;
		// binding `1 + 2` through a temp freezes it to its default type and
		// breaks contexts like `var y float32 = 1 + 2`.
		return f.text(e)
	}
	switch naming.Classify(e) {
	case naming.KindLeaf, naming.KindOpaque:
		return f.text(e)
	case naming.KindParen:
		return "(" + f.decompose(e.(*ast.ParenExpr).X, pre) + ")"
	case naming.KindLogical:
		return f.decomposeLogical(e.(*ast.BinaryExpr), pre)
	default: // KindBind, KindCall
		if f.skipBind(e) {
			return f.splice(e, pre)
		}
		return f.bind(e, pre)
	}
}

// decomposeChildren decomposes e's sub-expressions without binding e itself,
// for positions where the overall result must not be captured (discarded
// results, multi-value calls).
func (f *funcInstr) decomposeChildren(e ast.Expr, pre *[]string) string {
	switch naming.Classify(e) {
	case naming.KindLeaf, naming.KindOpaque:
		return f.text(e)
	case naming.KindParen:
		return "(" + f.decomposeChildren(e.(*ast.ParenExpr).X, pre) + ")"
	case naming.KindLogical:
		// Logical expressions are always single boolean values.
		return f.decomposeLogical(e.(*ast.BinaryExpr), pre)
	default:
		return f.splice(e, pre)
	}
}

// bind emits the synthetic assignment for e and returns its name.
func (f *funcInstr) bind(e ast.Expr, pre *[]string) string {
	text := f.splice(e, pre)
	name := f.nameFor(e)
	*pre = append(*pre, fmt.Sprintf("%s := %s.Bind(%s, %q, %s)", name, runtimeAlias, frameVar, name, text))
	return name
}

// splice rebuilds e's source text with each decomposable child replaced by
// its post-decomposition stand-in. Children arrive in evaluation order, which
// for every covered node kind coincides with source order.
func (f *funcInstr) splice(e ast.Expr, pre *[]string) string {
	base := f.offset(e.Pos())
	raw := f.text(e)
	var out bytes.Buffer
	last := 0
	call, isCall := e.(*ast.CallExpr)
	for _, child := range naming.Children(e) {
		beg := f.offset(child.Pos()) - base
		end := f.offset(child.End()) - base
		out.WriteString(raw[last:beg])
		if isCall && len(call.Args) == 1 && isCallExpr(child) {
			// f(g(x)) forwards all of g's results when g is its only
			// argument, so the inner call must stay in argument position
			// unbound. Only its own arguments are decomposed.
			out.WriteString(f.decomposeChildren(child, pre))
		} else {
			out.WriteString(f.decompose(child, pre))
		}
		last = end
	}
	out.WriteString(raw[last:])
	return out.String()
}

// decomposeLogical preserves short-circuit evaluation: the left operand is
// decomposed unconditionally, the right only inside the branch that would
// evaluate it, and both paths converge on one shared result name.
func (f *funcInstr) decomposeLogical(b *ast.BinaryExpr, pre *[]string) string {
	name := f.nameFor(b)
	leftText := f.decompose(b.X, pre)
	var rightPre []string
	rightText := f.decompose(b.Y, &rightPre)
	branch := strings.Join(append(rightPre, name+" = "+rightText), "; ")
	if b.Op == token.LAND {
		*pre = append(*pre, name+" := false")
		*pre = append(*pre, fmt.Sprintf("if %s { %s }", leftText, branch))
	} else {
		*pre = append(*pre, name+" := true")
		*pre = append(*pre, fmt.Sprintf("if !(%s) { %s }", leftText, branch))
	}
	*pre = append(*pre, fmt.Sprintf("%s.Capture(%q, %s)", frameVar, name, name))
	return name
}

// skipBind holds the rewrite-time restrictions on the shared table: contexts
// where binding is not known to be safe. Skipping only costs an unresolved
// lookup at reconstruction time, never a wrong value.
func (f *funcInstr) skipBind(e ast.Expr) bool {
	switch v := e.(type) {
	case *ast.SelectorExpr:
		// Package qualifiers are not values; the import-name heuristic skips
		// pkg.Sym so `fmt.Println` never lands in a temp.
		if id, ok := v.X.(*ast.Ident); ok && f.importNames[id.Name] {
			return true
		}
	case *ast.CompositeLit:
		// An elided-type literal ({...} inside a slice of structs) is not a
		// standalone expression.
		return v.Type == nil
	}
	return false
}

// isLiteralConst reports whether e is built entirely from basic literals, so
// its value is an untyped constant the compiler folds anyway.
func isLiteralConst(e ast.Expr) bool {
	switch v := e.(type) {
	case *ast.BasicLit:
		return true
	case *ast.ParenExpr:
		return isLiteralConst(v.X)
	case *ast.UnaryExpr:
		return v.Op != token.AND && isLiteralConst(v.X)
	case *ast.BinaryExpr:
		return isLiteralConst(v.X) && isLiteralConst(v.Y)
	}
	return false
}

// isCallExpr unwraps parentheses; (g(x)) forwards results the same as g(x).
func isCallExpr(e ast.Expr) bool {
	for {
		p, ok := e.(*ast.ParenExpr)
		if !ok {
			break
		}
		e = p.X
	}
	_, ok := e.(*ast.CallExpr)
	return ok
}
