package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"taskmill/internal/state"
)

func TestModel_ViewRendersSnapshot(t *testing.T) {
	m := NewModel(nil)

	next, _ := m.Update(snapshotMsg{records: []*state.StateRecord{
		{
			TaskID:    "nightly-report",
			Phase:     state.PhaseVerifying,
			Round:     2,
			Attempt:   1,
			LastCause: "issues found, starting round 2",
			UpdatedAt: time.Now(),
		},
	}})
	m = next.(Model)

	view := m.View()
	if !strings.Contains(view, "nightly-report") {
		t.Errorf("view missing task id:\n%s", view)
	}
	if !strings.Contains(view, "verifying") {
		t.Errorf("view missing phase:\n%s", view)
	}
}

func TestModel_ViewShowsError(t *testing.T) {
	m := NewModel(nil)

	next, _ := m.Update(snapshotMsg{err: errors.New("database is locked")})
	m = next.(Model)

	if !strings.Contains(m.View(), "database is locked") {
		t.Error("view does not surface poll errors")
	}
}

func TestModel_ViewEmptyStates(t *testing.T) {
	m := NewModel(nil)
	if !strings.Contains(m.View(), "loading") {
		t.Error("expected loading placeholder before the first snapshot")
	}

	next, _ := m.Update(snapshotMsg{})
	m = next.(Model)
	if !strings.Contains(m.View(), "no task records") {
		t.Error("expected empty-state text after an empty snapshot")
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m := NewModel(nil)

	keys := []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	}
	for _, key := range keys {
		if _, cmd := m.Update(key); cmd == nil {
			t.Errorf("key %q should quit", key.String())
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := truncate("a very long cause string", 10); got != "a very ..." {
		t.Errorf("unexpected truncation: %q", got)
	}
	if len(truncate("abcdef", 3)) != 3 {
		t.Error("tiny width not clamped")
	}
}
