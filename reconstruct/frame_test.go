package reconstruct

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/LorewalkerZhou/lunacept/instrument"
	"github.com/LorewalkerZhou/lunacept/trace"
)

func frameAt(t *testing.T, src string, startLine, endLine, startCol, endCol int) *trace.Frame {
	t.Helper()
	path := filepath.Join(t.TempDir(), "target.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	f := trace.Enter("target", path)
	t.Cleanup(f.Leave)
	f.At(startLine, endLine, startCol, endCol)
	return f
}

func TestSegmentsSplitAtColumns(t *testing.T) {
	src := `package p

func target() {
	a := 1
	b := a * 2
	_ = b
}
`
	// Line 5, the full "b := a * 2" statement after the tab.
	f := frameAt(t, src, 5, 5, 2, 12)
	f.Capture("a", 1)

	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	if snap.Target != "b := a * 2" {
		t.Errorf("target = %q, want the statement text", snap.Target)
	}
	if want := "\ta := 1\n\t"; snap.Before != want {
		t.Errorf("before = %q, want %q", snap.Before, want)
	}
	if want := "\n\t_ = b"; snap.After != want {
		t.Errorf("after = %q, want %q", snap.After, want)
	}
	wantDisplay := []DisplayLine{
		{Number: 4, Text: "\ta := 1"},
		{Number: 5, Text: "\tb := a * 2"},
		{Number: 6, Text: "\t_ = b"},
	}
	if diff := cmp.Diff(wantDisplay, snap.DisplayLines); diff != "" {
		t.Errorf("display window mismatch (-want +got):\n%s", diff)
	}
}

func TestBlankLinesKeptInSegmentsButNotDisplayed(t *testing.T) {
	src := `package p

func target() {
	a := 1

	b := a * 2
	_ = b
}
`
	f := frameAt(t, src, 6, 6, 2, 12)
	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	// Window is lines 5-7; the blank line 5 stays in the raw text before the
	// target but never shows up in the numbered display.
	if snap.Before != "\n\t" {
		t.Errorf("before = %q, blank line should survive in the raw segment", snap.Before)
	}
	for _, line := range snap.DisplayLines {
		if line.Number == 5 {
			t.Errorf("blank line 5 appeared in the display window: %+v", snap.DisplayLines)
		}
	}
	if snap.Target != "b := a * 2" {
		t.Errorf("target = %q", snap.Target)
	}
}

func TestMissingColumnsFallBackToWholeLines(t *testing.T) {
	src := `package p

func target() {
	a := 1
	b := a * 2
	_ = b
}
`
	f := frameAt(t, src, 5, 5, 0, 0)
	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	if snap.Target != "\tb := a * 2" {
		t.Errorf("target = %q, want the whole line", snap.Target)
	}
	if snap.Span.StartCol != 1 {
		t.Errorf("fallback start column = %d, want 1", snap.Span.StartCol)
	}
}

func TestWindowClampedAtFileEdges(t *testing.T) {
	src := `package p
`
	f := frameAt(t, src, 1, 1, 1, 10)
	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	if len(snap.DisplayLines) != 1 || snap.DisplayLines[0].Number != 1 {
		t.Errorf("display = %+v, want just line 1", snap.DisplayLines)
	}
}

func TestNoPositionIsAnError(t *testing.T) {
	f := trace.Enter("target", "nowhere.go")
	t.Cleanup(f.Leave)
	if _, err := NewFrameSnapshot(f); !errors.Is(err, ErrNoPosition) {
		t.Fatalf("err = %v, want ErrNoPosition", err)
	}
}

func TestLineBeyondFileIsAnError(t *testing.T) {
	f := frameAt(t, "package p\n", 99, 99, 1, 2)
	if _, err := NewFrameSnapshot(f); err == nil {
		t.Fatal("expected an error for a position beyond the file")
	}
}

func TestBackupPreferredOverRewrittenFile(t *testing.T) {
	original := `package p

func target() {
	a := 1
	b := a * 2
	_ = b
}
`
	rewritten := `package p

func target() {
	INSTRUMENTED; a := 1
	INSTRUMENTED; b := a * 2
	INSTRUMENTED; _ = b
}
`
	dir := t.TempDir()
	path := filepath.Join(dir, "target.go")
	if err := os.WriteFile(path, []byte(rewritten), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+instrument.BackupSuffix, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	f := trace.Enter("target", path)
	t.Cleanup(f.Leave)
	f.At(5, 5, 2, 12)

	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	if snap.Target != "b := a * 2" {
		t.Errorf("target = %q, spans must resolve against the backed-up original", snap.Target)
	}
}

func TestVariablesResolvedFromBindings(t *testing.T) {
	src := `package p

func target() {
	a := 1
	b := a * 2
	_ = b
}
`
	f := frameAt(t, src, 5, 5, 2, 12)
	f.Capture("a", 7)
	snap, err := NewFrameSnapshot(f)
	if err != nil {
		t.Fatalf("NewFrameSnapshot: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, snap.VarNames); diff != "" {
		t.Errorf("var names mismatch (-want +got):\n%s", diff)
	}
	if got, ok := snap.Variables["a"]; !ok || got != 7 {
		t.Errorf("Variables[a] = %v (ok=%v), want 7", got, ok)
	}
}
