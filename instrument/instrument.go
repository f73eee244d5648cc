// Package instrument rewrites Go source so that every compound sub-expression
// is assigned to a content-addressed synthetic binding before use, routed
// through the trace runtime so intermediate values are inspectable when a
// panic unwinds.
//
// The rewriter edits the raw file bytes rather than printing a transformed
// AST (the approach `go tool cover` takes): every inserted statement is
// placed on the same line as the statement it precedes, joined by semicolons.
// The rewritten file therefore has exactly the same number of lines as the
// input and every original statement keeps its physical line, so positions
// reported by the runtime and recorded by the instrumentation still match the
// original file.
package instrument

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"sort"
	"strings"
)

// RuntimeImport is the package every rewritten file reports into.
const RuntimeImport = "github.com/LorewalkerZhou/lunacept/trace"

const (
	// runtimeAlias is the reserved import alias; its presence also marks a
	// file as already instrumented.
	runtimeAlias = "__luna_trace"
	// frameVar is the per-function frame variable.
	frameVar = "__luna_fr"
)

// BackupSuffix is appended to a file's path when the original is preserved
// next to its instrumented replacement.
const BackupSuffix = ".luna.orig"

// ErrAlreadyInstrumented is reported for files that carry the runtime import.
var ErrAlreadyInstrumented = errors.New("file is already instrumented")

// edit is a byte-range replacement; beg == end is a pure insertion.
// Insertions at the same offset keep their creation order and apply before a
// replacement that starts there, so a statement prelude lands in front of a
// rewritten expression that begins at the statement's first byte.
type edit struct {
	beg, end int
	text     string
}

type rewriter struct {
	fset        *token.FileSet
	tokfile     *token.File
	filename    string
	src         []byte
	importNames map[string]bool
	logger      *slog.Logger
}

// File rewrites one Go source file. filename must be the path the
// instrumented program will be able to open at failure time (an absolute
// path, normally); it is compiled into the rewritten code.
//
// Functions that cannot be rewritten are left untouched and logged; only a
// file that cannot be parsed, or an internal inconsistency, yields an error.
func File(filename string, src []byte, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bytes.Contains(src, []byte(runtimeAlias)) {
		return src, ErrAlreadyInstrumented
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	r := &rewriter{
		fset:        fset,
		tokfile:     fset.File(file.Pos()),
		filename:    filename,
		src:         src,
		importNames: importNames(file),
		logger:      logger,
	}

	// Rewrite, then type-check the result. A function whose rewrite
	// introduces diagnostics the original file did not have is excluded and
	// the rewrite retried, so one stubborn function cannot ship a file that
	// no longer compiles. The loop terminates: every retry excludes at
	// least one more function.
	skip := map[string]bool{}
	for {
		out, err := r.rewrite(file, skip)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return src, nil
		}
		if got, want := bytes.Count(out, []byte("\n")), bytes.Count(src, []byte("\n")); got != want {
			return nil, fmt.Errorf("rewrite %s: line count changed from %d to %d", filename, want, got)
		}
		if _, err := parser.ParseFile(token.NewFileSet(), filename, out, parser.SkipObjectResolution); err != nil {
			return nil, fmt.Errorf("rewrite %s produced invalid source: %w", filename, err)
		}
		bad, attributed := r.newDiagnostics(file, out)
		if !attributed {
			logger.Warn("leaving file uninstrumented", "file", filename)
			return src, nil
		}
		if len(bad) == 0 {
			return out, nil
		}
		progress := false
		for name, msg := range bad {
			if !skip[name] {
				logger.Warn("leaving function uninstrumented", "func", name, "file", filename, "error", msg)
				skip[name] = true
				progress = true
			}
		}
		if !progress {
			logger.Warn("leaving file uninstrumented", "file", filename)
			return src, nil
		}
	}
}

// rewrite instruments every function body not listed in skip. It returns nil
// output when there is nothing to instrument.
func (r *rewriter) rewrite(file *ast.File, skip map[string]bool) ([]byte, error) {
	var edits []edit
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil || skip[funcDisplayName(r, fd)] {
			continue
		}
		fnEdits, err := r.instrumentFunc(fd)
		if err != nil {
			r.logger.Warn("leaving function uninstrumented", "func", fd.Name.Name, "file", r.filename, "error", err)
			continue
		}
		edits = append(edits, fnEdits...)
	}
	if len(edits) == 0 {
		return nil, nil
	}

	// The import rides on the package clause line so no line shifts.
	edits = append(edits, edit{
		beg:  r.offset(file.Name.End()),
		end:  r.offset(file.Name.End()),
		text: fmt.Sprintf("; import %s %q", runtimeAlias, RuntimeImport),
	})

	out, err := apply(r.src, edits)
	if err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", r.filename, err)
	}
	return out, nil
}

func (r *rewriter) offset(pos token.Pos) int {
	return r.tokfile.Offset(pos)
}

func (r *rewriter) text(n ast.Node) string {
	return string(r.src[r.offset(n.Pos()):r.offset(n.End())])
}

// instrumentFunc decomposes one function body. Anything unexpected in the
// traversal degrades to skipping the function rather than failing the file.
func (r *rewriter) instrumentFunc(fd *ast.FuncDecl) (edits []edit, err error) {
	defer func() {
		if p := recover(); p != nil {
			edits, err = nil, fmt.Errorf("decompose: %v", p)
		}
	}()

	f := &funcInstr{rewriter: r, results: resultCount(fd.Type)}
	f.insert(r.offset(fd.Body.Lbrace)+1, r.preamble(fd))
	f.block(fd.Body)
	return f.edits, nil
}

// preamble enters a frame, schedules its Leave, and captures the receiver and
// parameters so bare names resolve at reconstruction time.
func (r *rewriter) preamble(fd *ast.FuncDecl) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, " %s := %s.Enter(%q, %q); defer %s.Leave();",
		frameVar, runtimeAlias, funcDisplayName(r, fd), r.filename, frameVar)
	capture := func(fields *ast.FieldList) {
		if fields == nil {
			return
		}
		for _, field := range fields.List {
			for _, name := range field.Names {
				if name.Name == "_" {
					continue
				}
				fmt.Fprintf(&b, " %s.Capture(%q, %s);", frameVar, name.Name, name.Name)
			}
		}
	}
	capture(fd.Recv)
	capture(fd.Type.Params)
	return b.String()
}

func funcDisplayName(r *rewriter, fd *ast.FuncDecl) string {
	if fd.Recv != nil && len(fd.Recv.List) > 0 {
		return fmt.Sprintf("(%s).%s", r.text(fd.Recv.List[0].Type), fd.Name.Name)
	}
	return fd.Name.Name
}

// importNames collects the identifiers the file's imports are known by, for
// the package-qualifier heuristic.
func importNames(file *ast.File) map[string]bool {
	names := make(map[string]bool, len(file.Imports))
	for _, imp := range file.Imports {
		if imp.Name != nil {
			if imp.Name.Name != "_" && imp.Name.Name != "." {
				names[imp.Name.Name] = true
			}
			continue
		}
		path := strings.Trim(imp.Path.Value, `"`)
		if i := strings.LastIndex(path, "/"); i >= 0 {
			path = path[i+1:]
		}
		names[path] = true
	}
	return names
}

func resultCount(ft *ast.FuncType) int {
	if ft.Results == nil {
		return 0
	}
	n := 0
	for _, field := range ft.Results.List {
		if len(field.Names) == 0 {
			n++
		} else {
			n += len(field.Names)
		}
	}
	return n
}

func apply(src []byte, edits []edit) ([]byte, error) {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].beg != edits[j].beg {
			return edits[i].beg < edits[j].beg
		}
		return edits[i].end < edits[j].end
	})
	var out bytes.Buffer
	last := 0
	for _, e := range edits {
		if e.beg < last || e.end < e.beg || e.end > len(src) {
			return nil, fmt.Errorf("overlapping or out-of-range edit at %d..%d", e.beg, e.end)
		}
		out.Write(src[last:e.beg])
		out.WriteString(e.text)
		last = e.end
	}
	out.Write(src[last:])
	return out.Bytes(), nil
}
