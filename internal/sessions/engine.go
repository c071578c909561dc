package sessions

import (
	"context"
	"time"

	"steam-sessions/internal/scheduler"
	"steam-sessions/internal/stats"
)

// MaxDerivedConcurrency caps the worker count derived from the proxy list.
const MaxDerivedConcurrency = 100

type EngineOptions struct {
	// Concurrency <= 0 derives one worker per proxy, or 1 without proxies.
	Concurrency   int
	Proxies       int
	StartInterval time.Duration
	JobCooldown   time.Duration
}

// Engine runs one plan: skipped jobs are recorded up front, the rest go
// through a single scheduler.
type Engine struct {
	plan      Plan
	tracker   *stats.Tracker
	scheduler *scheduler.Scheduler
}

func NewEngine(handler scheduler.Handler, plan Plan, opts EngineOptions) *Engine {
	tracker := stats.NewTracker(plan.Total())
	sched := scheduler.New(handler, tracker, scheduler.Options{
		Name:          "sessions",
		Concurrency:   ResolveConcurrency(opts.Concurrency, opts.Proxies),
		StartInterval: opts.StartInterval,
		JobCooldown:   opts.JobCooldown,
	})
	return &Engine{plan: plan, tracker: tracker, scheduler: sched}
}

func ResolveConcurrency(requested, proxies int) int {
	if requested > 0 {
		return requested
	}
	if proxies <= 0 {
		return 1
	}
	if proxies > MaxDerivedConcurrency {
		return MaxDerivedConcurrency
	}
	return proxies
}

func (e *Engine) Plan() Plan {
	return e.plan
}

func (e *Engine) Tracker() *stats.Tracker {
	return e.tracker
}

func (e *Engine) Scheduler() *scheduler.Scheduler {
	return e.scheduler
}

// Run blocks until every runnable job is terminal, the scheduler is drained,
// or ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	for _, job := range e.plan.Skipped {
		if err := e.scheduler.Skip(job, job.Reason); err != nil {
			log.Errorf("skip %s: %v", job.ID, err)
		}
	}
	log.Infof("plan: %d create, %d renew, %d skipped", len(e.plan.Create), len(e.plan.Renew), len(e.plan.Skipped))
	return e.scheduler.Run(ctx, e.plan.Runnable())
}
