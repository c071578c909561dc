package report

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/op/go-logging"

	"steam-sessions/internal/stats"
)

var log = logging.MustGetLogger("report")

const createOutcomesTable = `CREATE TABLE IF NOT EXISTS session_outcomes (
	id          BIGSERIAL PRIMARY KEY,
	run_id      UUID        NOT NULL,
	job_id      TEXT        NOT NULL,
	username    TEXT        NOT NULL,
	action      TEXT        NOT NULL,
	outcome     TEXT        NOT NULL,
	reason      TEXT        NOT NULL DEFAULT '',
	attempts    INTEGER     NOT NULL DEFAULT 0,
	retries     INTEGER     NOT NULL DEFAULT 0,
	connection  TEXT        NOT NULL DEFAULT '',
	error       TEXT        NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, job_id)
)`

const insertOutcome = `INSERT INTO session_outcomes
	(run_id, job_id, username, action, outcome, reason, attempts, retries, connection, error, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (run_id, job_id) DO NOTHING`

// History appends run outcomes to Postgres.
type History struct {
	db *sql.DB
}

// OpenHistory connects to dsn and creates the outcomes table when missing.
func OpenHistory(ctx context.Context, dsn string) (*History, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createOutcomesTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create session_outcomes: %w", err)
	}
	return &History{db: db}, nil
}

func (h *History) Append(ctx context.Context, runID string, records []stats.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertOutcome)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, runID, r.JobID, r.Username, r.Action, r.Outcome, r.Reason,
			r.Attempts, r.Retries, r.Connection, r.Error, r.FinishedAt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert outcome %s: %w", r.JobID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history insert: %w", err)
	}
	log.Debugf("history: %d outcome(s) stored for run %s", len(records), runID)
	return nil
}

// Count returns how many outcomes are stored for runID.
func (h *History) Count(ctx context.Context, runID string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_outcomes WHERE run_id = $1`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count outcomes for %s: %w", runID, err)
	}
	return n, nil
}

func (h *History) Close() error {
	return h.db.Close()
}
