// Package stats records one outcome per job and serves read-only snapshots to
// the live view and the final report.
package stats

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"steam-sessions/internal/model"
)

var ErrDuplicateRecord = errors.New("outcome already recorded")

type Record struct {
	JobID      string    `json:"job_id"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	Retries    int       `json:"retries"`
	Connection string    `json:"connection,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

type Snapshot struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Fail      int `json:"fail"`
	Skip      int `json:"skip"`
	Remaining int `json:"remaining"`
	Created   int `json:"created"`
	Renewed   int `json:"renewed"`

	FailedUsernames []string `json:"failed_usernames,omitempty"`
}

// ProgressPercent is (success+fail+skip)/total, 0..100.
func (s Snapshot) ProgressPercent() float64 {
	if s.Total <= 0 {
		return 100
	}
	done := s.Success + s.Fail + s.Skip
	return float64(done) * 100 / float64(s.Total)
}

type Tracker struct {
	mu      sync.Mutex
	total   int
	records []Record
	byJob   map[string]int
	events  []func(Record)
}

func NewTracker(total int) *Tracker {
	return &Tracker{total: total, byJob: make(map[string]int, total)}
}

// AddTotal grows the expected job count, for planners that add work late.
func (t *Tracker) AddTotal(n int) {
	t.mu.Lock()
	t.total += n
	t.mu.Unlock()
}

// Subscribe registers fn to run after every accepted record. fn runs on the
// recording goroutine and must not call back into the tracker.
func (t *Tracker) Subscribe(fn func(Record)) {
	t.mu.Lock()
	t.events = append(t.events, fn)
	t.mu.Unlock()
}

// Record stores the outcome of one job. A second record for the same job is
// rejected with ErrDuplicateRecord.
func (t *Tracker) Record(rec Record) error {
	switch rec.Outcome {
	case model.OutcomeSuccess, model.OutcomeFail, model.OutcomeSkip:
	default:
		return fmt.Errorf("record %s: unknown outcome %q", rec.JobID, rec.Outcome)
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}

	t.mu.Lock()
	if _, ok := t.byJob[rec.JobID]; ok {
		t.mu.Unlock()
		return fmt.Errorf("record %s (%s): %w", rec.JobID, rec.Username, ErrDuplicateRecord)
	}
	t.byJob[rec.JobID] = len(t.records)
	t.records = append(t.records, rec)
	subscribers := t.events
	t.mu.Unlock()

	for _, fn := range subscribers {
		fn(rec)
	}
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{Total: t.total}
	for _, r := range t.records {
		switch r.Outcome {
		case model.OutcomeSuccess:
			s.Success++
			if r.Action == model.ActionRenew {
				s.Renewed++
			} else {
				s.Created++
			}
		case model.OutcomeFail:
			s.Fail++
			s.FailedUsernames = append(s.FailedUsernames, r.Username)
		case model.OutcomeSkip:
			s.Skip++
		}
	}
	s.Remaining = s.Total - s.Success - s.Fail - s.Skip
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	sort.Strings(s.FailedUsernames)
	return s
}

// Records returns a copy of every record in completion order.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}

func (t *Tracker) Has(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byJob[jobID]
	return ok
}
