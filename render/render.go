// Package render prints the failure report: panic header, a box-drawn source
// window per frame with the failing range highlighted, the reconstructed
// expression trace, and the variables the failing statement read.
package render

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/LorewalkerZhou/lunacept/reconstruct"
	"github.com/LorewalkerZhou/lunacept/trace"
)

// UnresolvedMarker is printed for tree nodes and variables whose value could
// not be correlated.
const UnresolvedMarker = "<unresolved>"

var (
	headerStyle  = color.New(color.FgRed, color.Bold).SprintfFunc()
	frameStyle   = color.New(color.FgBlue, color.Bold).SprintfFunc()
	locStyle     = color.New(color.FgCyan).SprintfFunc()
	dimStyle     = color.New(color.Faint).SprintfFunc()
	errLineStyle = color.New(color.FgRed, color.Bold).SprintfFunc()
	varStyle     = color.New(color.FgGreen, color.Bold).SprintfFunc()
	valueStyle   = color.New(color.FgCyan).SprintfFunc()
)

const boxWidth = 80

// Renderer writes failure reports.
type Renderer struct {
	W           io.Writer
	MaxValueLen int
}

// New returns a renderer with the default value-truncation width.
func New(w io.Writer) *Renderer {
	return &Renderer{W: w, MaxValueLen: 100}
}

// PrintException renders the whole report. frames arrive outermost first.
func (r *Renderer) PrintException(panicValue any, frames []*reconstruct.FrameSnapshot) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(r.W, headerStyle("%s", rule))
	fmt.Fprintln(r.W, headerStyle("   panic: %v", panicValue))
	fmt.Fprintln(r.W, headerStyle("%s", rule))
	fmt.Fprintln(r.W)

	for i, frame := range frames {
		fmt.Fprintln(r.W, dimStyle("%s", strings.Repeat("─", 60)))
		fmt.Fprintln(r.W)
		r.printFrame(i+1, frame)
	}
}

func (r *Renderer) printFrame(number int, frame *reconstruct.FrameSnapshot) {
	span := frame.Span
	fmt.Fprintf(r.W, "%s %s\n",
		frameStyle("Frame #%d: %s:%d", number, filepath.Base(frame.File), span.StartLine),
		dimStyle("in %s", frame.Function))
	fmt.Fprintf(r.W, "%s\n\n", locStyle("   %s", describeSpan(span)))

	fmt.Fprintf(r.W, "   ┌%s┐\n", strings.Repeat("─", boxWidth))
	for _, line := range frame.DisplayLines {
		text := line.Text
		maxContent := boxWidth - 8
		if len(text) > maxContent {
			text = text[:maxContent-3] + "..."
		}
		padding := boxWidth - 7 - len(text)
		if padding < 0 {
			padding = 0
		}
		num := fmt.Sprintf(" %3d │", line.Number)
		if span.StartLine <= line.Number && line.Number <= span.EndLine {
			num = errLineStyle("%s", num)
		} else {
			num = dimStyle("%s", num)
		}
		fmt.Fprintf(r.W, "   │%s %s%s│\n", num, highlight(text), strings.Repeat(" ", padding))
	}
	fmt.Fprintf(r.W, "   └%s┘\n", strings.Repeat("─", boxWidth))

	if len(frame.Tree) > 0 {
		fmt.Fprintln(r.W)
		fmt.Fprintln(r.W, varStyle("Expression trace:"))
		for _, node := range frame.Tree {
			r.printTree(node, "   ", "")
		}
	}
	r.printVariables(frame)
	fmt.Fprintln(r.W)
}

func describeSpan(span trace.Span) string {
	cols := ""
	if span.Valid() {
		cols = fmt.Sprintf(", cols %d-%d", span.StartCol, span.EndCol)
	}
	if span.EndLine != span.StartLine {
		return fmt.Sprintf("lines %d-%d%s", span.StartLine, span.EndLine, cols)
	}
	return fmt.Sprintf("line %d%s", span.StartLine, cols)
}

// printTree renders a node and its children with box-drawing guides.
func (r *Renderer) printTree(node *reconstruct.TraceNode, prefix, branch string) {
	value := UnresolvedMarker
	if node.Resolved {
		value = valueStyle("%s", r.FormatValue(node.Value))
	} else {
		value = dimStyle("%s", value)
	}
	fmt.Fprintf(r.W, "%s%s%s %s %s\n", prefix, branch, highlight(node.Expr), dimStyle("="), value)

	childPrefix := prefix
	if branch != "" {
		if strings.HasPrefix(branch, "├") {
			childPrefix = prefix + "│  "
		} else {
			childPrefix = prefix + "   "
		}
	}
	for i, child := range node.Children {
		glyph := "├─ "
		if i == len(node.Children)-1 {
			glyph = "└─ "
		}
		r.printTree(child, childPrefix, glyph)
	}
}

func (r *Renderer) printVariables(frame *reconstruct.FrameSnapshot) {
	if len(frame.VarNames) == 0 {
		return
	}
	fmt.Fprintln(r.W)
	fmt.Fprintln(r.W, varStyle("Variables:"))
	for _, name := range frame.VarNames {
		rendered := dimStyle("%s", UnresolvedMarker)
		if value, ok := frame.Variables[name]; ok {
			rendered = valueStyle("%s", r.FormatValue(value))
		}
		fmt.Fprintf(r.W, "   %s %s %s\n", varStyle("%s", name), dimStyle("="), rendered)
	}
}
