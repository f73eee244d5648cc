package reconstruct

import (
	"go/ast"
	"go/types"
	"sort"
)

// ExtractVarNames returns the user variable names the snippet reads, for the
// renderer's Variables section: identifiers in read position, minus
// assignment targets, loop variables, function-literal parameters, called
// function names, and predeclared identifiers.
func ExtractVarNames(snippet string) []string {
	_, stmts, err := parseSnippet(snippet)
	if err != nil {
		return nil
	}

	excluded := make(map[string]bool)
	skip := make(map[*ast.Ident]bool)

	markTargets := func(exprs []ast.Expr) {
		for _, e := range exprs {
			if id, ok := e.(*ast.Ident); ok {
				excluded[id.Name] = true
			}
		}
	}

	for _, s := range stmts {
		ast.Inspect(s, func(n ast.Node) bool {
			switch v := n.(type) {
			case *ast.AssignStmt:
				// With several statements in the window, only the last one's
				// targets are the failing statement's own left values; inner
				// statements' targets still read as values elsewhere.
				if v == stmts[len(stmts)-1] || len(stmts) == 1 {
					markTargets(v.Lhs)
				}
			case *ast.RangeStmt:
				markTargets([]ast.Expr{v.Key, v.Value})
			case *ast.FuncLit:
				for _, field := range v.Type.Params.List {
					for _, name := range field.Names {
						excluded[name.Name] = true
					}
				}
			case *ast.CallExpr:
				// Drop plain called function names but keep their receivers:
				// obj.method(x) contributes obj and x.
				fun := v.Fun
				for {
					if p, ok := fun.(*ast.ParenExpr); ok {
						fun = p.X
						continue
					}
					break
				}
				if id, ok := fun.(*ast.Ident); ok {
					skip[id] = true
				}
			case *ast.SelectorExpr:
				skip[v.Sel] = true
			case *ast.KeyValueExpr:
				if id, ok := v.Key.(*ast.Ident); ok {
					skip[id] = true
				}
			}
			return true
		})
	}

	seen := make(map[string]bool)
	for _, s := range stmts {
		ast.Inspect(s, func(n ast.Node) bool {
			id, ok := n.(*ast.Ident)
			if !ok || skip[id] {
				return true
			}
			name := id.Name
			if name == "_" || excluded[name] || seen[name] {
				return true
			}
			if types.Universe.Lookup(name) != nil {
				return true
			}
			seen[name] = true
			return true
		})
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
