package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"steam-sessions/internal/model"
	"steam-sessions/internal/stats"
)

func TestEstimateETA(t *testing.T) {
	if got := estimateETA(10, 60, 10*time.Minute); got != "1h" {
		t.Fatalf("expected 1h, got %q", got)
	}
	if got := estimateETA(4, 1, 20*time.Second); got != "<1m" {
		t.Fatalf("expected <1m, got %q", got)
	}
	if got := estimateETA(5, 0, time.Minute); got != "0m" {
		t.Fatalf("expected 0m, got %q", got)
	}
	if got := estimateETA(0, 5, time.Minute); got != "" {
		t.Fatalf("expected empty eta before the first job, got %q", got)
	}
}

func TestFormatETASecondsDays(t *testing.T) {
	if got := formatETASeconds(26 * 3600); got != "1d 2h" {
		t.Fatalf("expected 1d 2h, got %q", got)
	}
}

func TestModelQuitKeyRunsOnQuitOnce(t *testing.T) {
	calls := 0
	m := NewModel(Options{Tracker: stats.NewTracker(1), OnQuit: func() { calls++ }})

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	cmd()
	if calls != 1 {
		t.Fatalf("expected one OnQuit call, got %d", calls)
	}
	if !strings.Contains(next.View(), "stopping") {
		t.Fatalf("view does not show stopping state:\n%s", next.View())
	}

	_, cmd = next.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected second press to quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("second press should return tea.Quit")
	}
	if calls != 1 {
		t.Fatalf("OnQuit ran again: %d", calls)
	}
}

func TestModelTickAndEvents(t *testing.T) {
	tracker := stats.NewTracker(3)
	m := NewModel(Options{
		Header:  Header{Accounts: 3, Proxies: 2, Concurrency: 2},
		Tracker: tracker,
		Running: func() int { return 1 },
	})

	rec := stats.Record{
		JobID:      "create:alice",
		Username:   "alice",
		Action:     model.ActionCreate,
		Outcome:    model.OutcomeSuccess,
		Attempts:   3,
		Connection: "direct",
		FinishedAt: time.Date(2026, 10, 17, 4, 0, 0, 0, time.UTC),
	}
	if err := tracker.Record(rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	next, _ := m.Update(eventMsg(rec))
	next, _ = next.Update(tickMsg(time.Now()))
	view := next.View()

	for _, want := range []string{
		"accounts 3 | sessions 0 | proxies 2 | concurrency 2",
		"done 1/3 | active 1/2",
		"created 1 | renewed 0 | skipped 0 | failed 0 | left 2",
		"04:00:00 created alice (3 attempt(s) via direct)",
	} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}
