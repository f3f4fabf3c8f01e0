package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestMergeModel_Progress(t *testing.T) {
	var m tea.Model = NewMergeModel("Merging")

	m, cmd := m.Update(ProgressMsg{Percent: 40, Processed: 400, Total: 1000})
	if cmd != nil {
		t.Error("progress should not produce a command")
	}
	mm := m.(MergeModel)
	if mm.Percent() != 40 {
		t.Errorf("percent = %d, want 40", mm.Percent())
	}
	view := mm.View()
	if !strings.Contains(view, "Merging") || !strings.Contains(view, "400 B / 1000 B") {
		t.Errorf("view = %q", view)
	}
	if !strings.Contains(view, "to abort") {
		t.Error("help missing while running")
	}
}

func TestMergeModel_DoneQuits(t *testing.T) {
	var m tea.Model = NewMergeModel("Merging")

	m, cmd := m.Update(DoneMsg{Summary: Summary{Output: "merged.txt", Inputs: 2, Unique: 3, PairsExtracted: 5}})
	if cmd == nil {
		t.Fatal("done should quit")
	}
	mm := m.(MergeModel)
	if mm.Percent() != 100 {
		t.Errorf("percent = %d, want 100", mm.Percent())
	}
	if view := mm.View(); !strings.Contains(view, "merged.txt") || !strings.Contains(view, "Duplicates") {
		t.Errorf("view = %q", view)
	}
}

func TestMergeModel_DoneWithError(t *testing.T) {
	var m tea.Model = NewMergeModel("Merging")

	m, _ = m.Update(ProgressMsg{Percent: 10})
	m, _ = m.Update(DoneMsg{Err: errors.New("boom")})
	mm := m.(MergeModel)
	if mm.Percent() != 10 {
		t.Errorf("percent = %d, want 10", mm.Percent())
	}
	if !strings.Contains(mm.View(), "Merge failed: boom") {
		t.Errorf("view = %q", mm.View())
	}
}

func TestMergeModel_QuitKey(t *testing.T) {
	var m tea.Model = NewMergeModel("Merging")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if m.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestSummary_Duplicates(t *testing.T) {
	if got := (Summary{PairsExtracted: 10, Unique: 7}).Duplicates(); got != 3 {
		t.Errorf("Duplicates = %d, want 3", got)
	}
	if got := (Summary{}).Duplicates(); got != 0 {
		t.Errorf("Duplicates = %d, want 0", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KiB",
		1536:        "1.5 KiB",
		5 * 1 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
