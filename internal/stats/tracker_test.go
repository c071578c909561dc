package stats

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"steam-sessions/internal/model"
)

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker(5)
	recs := []Record{
		{JobID: "1", Username: "a", Action: model.ActionCreate, Outcome: model.OutcomeSuccess},
		{JobID: "2", Username: "b", Action: model.ActionRenew, Outcome: model.OutcomeSuccess},
		{JobID: "3", Username: "zed", Action: model.ActionCreate, Outcome: model.OutcomeFail},
		{JobID: "4", Username: "c", Action: model.ActionRenew, Outcome: model.OutcomeSkip},
	}
	for _, r := range recs {
		if err := tr.Record(r); err != nil {
			t.Fatalf("record %s: %v", r.JobID, err)
		}
	}

	s := tr.Snapshot()
	if s.Success != 2 || s.Fail != 1 || s.Skip != 1 || s.Remaining != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Created != 1 || s.Renewed != 1 {
		t.Fatalf("unexpected created/renewed: %+v", s)
	}
	if len(s.FailedUsernames) != 1 || s.FailedUsernames[0] != "zed" {
		t.Fatalf("unexpected failed usernames: %v", s.FailedUsernames)
	}
	if got := s.ProgressPercent(); got != 80 {
		t.Fatalf("expected 80%% progress, got %v", got)
	}
}

func TestTrackerRejectsDuplicateRecord(t *testing.T) {
	tr := NewTracker(1)
	rec := Record{JobID: "1", Username: "a", Outcome: model.OutcomeSuccess}
	if err := tr.Record(rec); err != nil {
		t.Fatalf("first record: %v", err)
	}
	err := tr.Record(rec)
	if !errors.Is(err, ErrDuplicateRecord) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if n := len(tr.Records()); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}
}

func TestTrackerRejectsUnknownOutcome(t *testing.T) {
	tr := NewTracker(1)
	if err := tr.Record(Record{JobID: "1", Outcome: "maybe"}); err == nil {
		t.Fatalf("expected unknown outcome error")
	}
	if tr.Has("1") {
		t.Fatalf("rejected record must not be stored")
	}
}

func TestTrackerConcurrentRecords(t *testing.T) {
	tr := NewTracker(200)
	var notified sync.WaitGroup
	notified.Add(200)
	tr.Subscribe(func(Record) { notified.Done() })

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := model.OutcomeSuccess
			if i%4 == 0 {
				outcome = model.OutcomeFail
			}
			if err := tr.Record(Record{JobID: fmt.Sprint(i), Username: fmt.Sprint("u", i), Outcome: outcome}); err != nil {
				t.Errorf("record %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	notified.Wait()

	s := tr.Snapshot()
	if s.Success != 150 || s.Fail != 50 || s.Remaining != 0 {
		t.Fatalf("unexpected snapshot: success=%d fail=%d remaining=%d", s.Success, s.Fail, s.Remaining)
	}
}

func TestProgressPercentEmpty(t *testing.T) {
	if got := (Snapshot{}).ProgressPercent(); got != 100 {
		t.Fatalf("expected empty run to be complete, got %v", got)
	}
}
