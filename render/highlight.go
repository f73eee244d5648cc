package render

import (
	"go/scanner"
	"go/token"
	"strings"

	"github.com/fatih/color"
)

var (
	keywordStyle = color.New(color.FgMagenta, color.Bold).SprintfFunc()
	stringStyle  = color.New(color.FgGreen).SprintfFunc()
	numberStyle  = color.New(color.FgCyan).SprintfFunc()
	funcStyle    = color.New(color.FgBlue).SprintfFunc()
	commentStyle = color.New(color.Faint).SprintfFunc()
)

// highlight colorizes one line of Go source by lexing it with go/scanner. A
// line that does not tokenize (mid-string fragments of a multi-line target)
// is returned unchanged.
func highlight(line string) string {
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(line))

	var sc scanner.Scanner
	var broken bool
	sc.Init(file, []byte(line), func(token.Position, string) { broken = true }, scanner.ScanComments)

	type piece struct {
		off   int
		text  string
		style func(string, ...interface{}) string
	}
	var pieces []piece

	for {
		pos, tok, lit := sc.Scan()
		if tok == token.EOF || broken {
			break
		}
		off := file.Offset(pos)
		if off >= len(line) {
			break
		}
		text := lit
		if text == "" {
			text = tok.String()
		}
		if off+len(text) > len(line) {
			break
		}

		var style func(string, ...interface{}) string
		switch {
		case tok.IsKeyword():
			style = keywordStyle
		case tok == token.STRING || tok == token.CHAR:
			style = stringStyle
		case tok == token.INT || tok == token.FLOAT || tok == token.IMAG:
			style = numberStyle
		case tok == token.COMMENT:
			style = commentStyle
		case tok == token.IDENT:
			rest := strings.TrimLeft(line[off+len(text):], " ")
			if strings.HasPrefix(rest, "(") {
				style = funcStyle
			}
		}
		if style != nil {
			pieces = append(pieces, piece{off: off, text: text, style: style})
		}
	}
	if broken || len(pieces) == 0 {
		return line
	}

	var b strings.Builder
	last := 0
	for _, p := range pieces {
		if p.off < last {
			continue
		}
		b.WriteString(line[last:p.off])
		b.WriteString(p.style("%s", p.text))
		last = p.off + len(p.text)
	}
	b.WriteString(line[last:])
	return b.String()
}
