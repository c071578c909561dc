// Package scheduler drives session jobs through a bounded worker pool with
// paced admission, pause/clear for shutdown, and exactly one recorded outcome
// per job that ran.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/model"
	"steam-sessions/internal/stats"
)

var log = logging.MustGetLogger("scheduler")

var ErrAlreadyRunning = errors.New("scheduler already running")

// Handler does the work of one job. A nil error marks the job succeeded.
type Handler interface {
	Handle(ctx context.Context, job *model.Job) error
}

type HandlerFunc func(ctx context.Context, job *model.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *model.Job) error {
	return f(ctx, job)
}

type Options struct {
	Name        string
	Concurrency int
	// StartInterval is the minimum spacing between two job starts. Zero
	// disables pacing.
	StartInterval time.Duration
	// JobCooldown holds a worker after a job while more jobs are queued.
	JobCooldown time.Duration
}

type Scheduler struct {
	name        string
	handler     Handler
	tracker     *stats.Tracker
	concurrency int
	cooldown    time.Duration
	limiter     *rate.Limiter

	mu         sync.Mutex
	queue      []*model.Job
	paused     bool
	started    bool
	running    int
	maxRunning int
	abort      context.CancelFunc
	done       chan struct{}
}

func New(handler Handler, tracker *stats.Tracker, opts Options) *Scheduler {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	name := opts.Name
	if name == "" {
		name = "sessions"
	}
	if tracker == nil {
		tracker = stats.NewTracker(0)
	}
	s := &Scheduler{
		name:        name,
		handler:     handler,
		tracker:     tracker,
		concurrency: concurrency,
		cooldown:    opts.JobCooldown,
		done:        make(chan struct{}),
	}
	if opts.StartInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.StartInterval), 1)
	}
	return s
}

func (s *Scheduler) Name() string {
	return s.name
}

func (s *Scheduler) Concurrency() int {
	return s.concurrency
}

// Run executes jobs until the queue drains, the scheduler is paused, or ctx
// ends. Jobs left in the queue stay pending and are not recorded. The error is
// non-nil only for failures of the scheduler itself, such as a panicking job.
func (s *Scheduler) Run(ctx context.Context, jobs []*model.Job) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.abort = cancel
	for _, job := range jobs {
		if job.Status == "" {
			job.Status = model.StatusPending
		}
		if job.Status != model.StatusPending {
			continue
		}
		s.queue = append(s.queue, job)
	}
	queued := len(s.queue)
	s.mu.Unlock()
	defer func() {
		cancel()
		close(s.done)
	}()

	log.Infof("%s: %d job(s) queued, concurrency %d", s.name, queued, s.concurrency)

	g, gctx := errgroup.WithContext(runCtx)
	for w := 1; w <= s.concurrency; w++ {
		workerID := w
		g.Go(func() error {
			return s.worker(gctx, workerID)
		})
	}
	return g.Wait()
}

func (s *Scheduler) worker(ctx context.Context, workerID int) error {
	for {
		job := s.next(ctx)
		if job == nil {
			return nil
		}
		if err := s.execute(ctx, workerID, job); err != nil {
			return err
		}
		if s.cooldown > 0 && s.Queued() > 0 {
			if !SleepContext(ctx, s.cooldown) {
				return nil
			}
		}
	}
}

// next blocks for the admission limiter and pops the head of the queue.
func (s *Scheduler) next(ctx context.Context) *model.Job {
	if s.stopped(ctx) {
		return nil
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || ctx.Err() != nil || len(s.queue) == 0 {
		return nil
	}
	job := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return job
}

func (s *Scheduler) stopped(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || ctx.Err() != nil || len(s.queue) == 0
}

func (s *Scheduler) execute(ctx context.Context, workerID int, job *model.Job) (fatal error) {
	if err := model.TransitionJobStatus(job, model.StatusRunning, ""); err != nil {
		log.Errorf("%s: %v", s.name, err)
		return nil
	}
	job.StartedAt = time.Now()
	s.enter()
	defer s.leave()

	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("job %s (%s) panicked: %v", job.ID, job.Account.Username, r)
			log.Errorf("%s: %v\n%s", s.name, fatal, debug.Stack())
			s.finish(job, fatal)
		}
	}()

	log.Debugf("%s: w%d start %s %s", s.name, workerID, job.Action, job.Account.Username)
	err := s.handler.Handle(ctx, job)
	s.finish(job, err)
	return nil
}

func (s *Scheduler) finish(job *model.Job, err error) {
	to := model.StatusSucceeded
	outcome := model.OutcomeSuccess
	reason := ""
	if err != nil {
		to = model.StatusFailed
		outcome = model.OutcomeFail
		reason = auth.Reason(err)
		job.LastError = err.Error()
	}
	if terr := model.TransitionJobStatus(job, to, reason); terr != nil {
		log.Errorf("%s: %v", s.name, terr)
		return
	}
	job.FinishedAt = time.Now()

	rec := stats.Record{
		JobID:      job.ID,
		Username:   job.Account.Username,
		Action:     job.Action,
		Outcome:    outcome,
		Reason:     reason,
		Attempts:   job.Attempts,
		Retries:    job.Retries,
		Connection: job.Connection,
		Error:      job.LastError,
		FinishedAt: job.FinishedAt,
	}
	if rerr := s.tracker.Record(rec); rerr != nil {
		log.Errorf("%s: %v", s.name, rerr)
		return
	}
	if err != nil {
		log.Warningf("%s: fail %s %s after %d attempt(s): %v", s.name, job.Action, job.Account.Username, job.Attempts, err)
	} else {
		log.Infof("%s: done %s %s", s.name, job.Action, job.Account.Username)
	}
}

// Skip records a planned-out job without running it.
func (s *Scheduler) Skip(job *model.Job, reason string) error {
	if job.Status == "" {
		job.Status = model.StatusPending
	}
	if err := model.TransitionJobStatus(job, model.StatusSkipped, reason); err != nil {
		return err
	}
	job.FinishedAt = time.Now()
	return s.tracker.Record(stats.Record{
		JobID:      job.ID,
		Username:   job.Account.Username,
		Action:     job.Action,
		Outcome:    model.OutcomeSkip,
		Reason:     reason,
		FinishedAt: job.FinishedAt,
	})
}

// Pause stops admitting jobs. Running jobs continue.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Clear drops every queued job and returns how many were dropped.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// Abort cancels the context of every running job.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	abort := s.abort
	s.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// Wait blocks until Run has returned. It returns at once when Run was never
// called.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MaxRunning is the highest number of jobs seen running at once.
func (s *Scheduler) MaxRunning() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRunning
}

func (s *Scheduler) enter() {
	s.mu.Lock()
	s.running++
	if s.running > s.maxRunning {
		s.maxRunning = s.running
	}
	s.mu.Unlock()
}

func (s *Scheduler) leave() {
	s.mu.Lock()
	s.running--
	s.mu.Unlock()
}

// SleepContext waits for d or until ctx ends and reports whether the full
// duration elapsed.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
