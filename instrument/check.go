package instrument

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"sync"
)

// The rewritten file is validated with go/types before it replaces the
// original. A full build view of the user's module is not available here, so
// the check is comparative: both the original and the rewritten bytes are
// checked single-file with the same configuration, and only diagnostics that
// appear on the rewritten side count against the rewrite. Imports other than
// the trace runtime are left unresolved on both sides, which makes their
// fallout cancel out; the trace runtime itself is satisfied by a declaration
// stub so calls into it are checked for real.

// traceStubSrc mirrors the exported surface of the trace package.
const traceStubSrc = `package trace

type Frame struct{}

func Enter(function, file string) *Frame { return nil }

func Bind[T any](f *Frame, name string, v T) T { return v }

func (f *Frame) Capture(name string, v any) {}

func (f *Frame) At(startLine, endLine, startCol, endCol int) {}

func (f *Frame) Leave() {}
`

var (
	traceStubOnce sync.Once
	traceStubPkg  *types.Package
)

func traceStub() *types.Package {
	traceStubOnce.Do(func() {
		fset := token.NewFileSet()
		f, err := parser.ParseFile(fset, "trace.go", traceStubSrc, 0)
		if err != nil {
			return
		}
		conf := types.Config{}
		traceStubPkg, _ = conf.Check(RuntimeImport, fset, []*ast.File{f}, nil)
	})
	return traceStubPkg
}

type stubImporter struct{}

func (stubImporter) Import(path string) (*types.Package, error) {
	if path == RuntimeImport {
		if pkg := traceStub(); pkg != nil {
			return pkg, nil
		}
	}
	return nil, fmt.Errorf("package %s is not resolved during rewrite validation", path)
}

type diagnostic struct {
	line int
	msg  string
}

// typeErrors single-file checks src and collects diagnostics keyed by line
// and message. The rewriter preserves line numbers, so diagnostics the file
// had before rewriting reappear under the same key afterwards.
func typeErrors(filename string, src []byte) (found map[diagnostic]bool) {
	defer func() {
		// go/types can panic on pathological input; a check that blows up
		// reports nothing rather than failing the rewrite.
		if recover() != nil {
			found = nil
		}
	}()

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, 0)
	if err != nil {
		return nil
	}
	found = map[diagnostic]bool{}
	conf := types.Config{
		Importer: stubImporter{},
		Error: func(err error) {
			if e, ok := err.(types.Error); ok {
				found[diagnostic{line: e.Fset.Position(e.Pos).Line, msg: e.Msg}] = true
			}
		},
	}
	conf.Check(f.Name.Name, fset, []*ast.File{f}, nil)
	return found
}

// newDiagnostics reports, per function display name, the first diagnostic the
// rewritten output has that the original source does not, attributed through
// the preserved line numbers. attributed is false when a fresh diagnostic
// falls outside every function body, in which case the caller cannot retry
// selectively.
func (r *rewriter) newDiagnostics(file *ast.File, out []byte) (bad map[string]string, attributed bool) {
	before := typeErrors(r.filename, r.src)
	after := typeErrors(r.filename, out)

	bad = map[string]string{}
	for d := range after {
		if before[d] {
			continue
		}
		fd := r.enclosingFunc(file, d.line)
		if fd == nil {
			return nil, false
		}
		name := funcDisplayName(r, fd)
		if _, ok := bad[name]; !ok {
			bad[name] = d.msg
		}
	}
	return bad, true
}

func (r *rewriter) enclosingFunc(file *ast.File, line int) *ast.FuncDecl {
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		beg := r.fset.Position(fd.Pos()).Line
		end := r.fset.Position(fd.End()).Line
		if beg <= line && line <= end {
			return fd
		}
	}
	return nil
}
