// Package report renders the outcome of one run for people and for the
// history database.
package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"steam-sessions/internal/model"
	"steam-sessions/internal/sessionstore"
	"steam-sessions/internal/stats"
)

func NewRunID() string {
	return uuid.NewString()
}

type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Reason     string         `json:"reason,omitempty"`
	Stats      stats.Snapshot `json:"stats"`
	Records    []stats.Record `json:"records,omitempty"`
}

func Build(runID string, startedAt, finishedAt time.Time, tracker *stats.Tracker) Summary {
	return Summary{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Stats:      tracker.Snapshot(),
		Records:    tracker.Records(),
	}
}

func (s Summary) Duration() time.Duration {
	if s.FinishedAt.Before(s.StartedAt) {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt).Round(time.Second)
}

// Section lists records with the given outcome, and action when non-empty,
// sorted by username.
func (s Summary) Section(action, outcome string) []stats.Record {
	var out []stats.Record
	for _, r := range s.Records {
		if r.Outcome != outcome {
			continue
		}
		if action != "" && r.Action != action {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out
}

func WriteText(w io.Writer, s Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s started %s finished %s (%s)\n",
		s.RunID, s.StartedAt.UTC().Format(time.RFC3339), s.FinishedAt.UTC().Format(time.RFC3339), s.Duration())
	if s.Reason != "" {
		fmt.Fprintf(&b, "stopped: %s\n", s.Reason)
	}
	st := s.Stats
	fmt.Fprintf(&b, "total %d, created %d, renewed %d, skipped %d, failed %d, remaining %d\n",
		st.Total, st.Created, st.Renewed, st.Skip, st.Fail, st.Remaining)

	writeSection(&b, "created", s.Section(model.ActionCreate, model.OutcomeSuccess), false)
	writeSection(&b, "renewed", s.Section(model.ActionRenew, model.OutcomeSuccess), false)
	writeSection(&b, "skipped", s.Section("", model.OutcomeSkip), true)
	writeSection(&b, "failed", s.Section("", model.OutcomeFail), true)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSection(b *strings.Builder, title string, records []stats.Record, withReason bool) {
	fmt.Fprintf(b, "\n[%s] %d\n", title, len(records))
	for _, r := range records {
		if withReason && r.Reason != "" {
			fmt.Fprintf(b, "%s (%s)\n", r.Username, r.Reason)
			continue
		}
		fmt.Fprintln(b, r.Username)
	}
}

// WriteFile replaces path with the text report.
func WriteFile(path string, s Summary) error {
	var buf bytes.Buffer
	if err := WriteText(&buf, s); err != nil {
		return err
	}
	if err := sessionstore.WriteBytes(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
