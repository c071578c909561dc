// Package shutdown drains registered schedulers exactly once, whatever
// triggered the stop: a signal, a fatal error, the UI or plain completion.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("shutdown")

const DefaultTimeout = 60 * time.Second

// abortGrace bounds the wait for jobs after their contexts were canceled.
const abortGrace = 5 * time.Second

// Drainable is what the coordinator needs from a scheduler.
type Drainable interface {
	Name() string
	Pause()
	Clear() int
	Wait(ctx context.Context) error
	Abort()
}

// Registry lists the schedulers of one process. The entry point owns it and
// hands it to the coordinator.
type Registry struct {
	mu    sync.Mutex
	items []Drainable
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(d Drainable) {
	r.mu.Lock()
	r.items = append(r.items, d)
	r.mu.Unlock()
}

func (r *Registry) Unregister(d Drainable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, item := range r.items {
		if item == d {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *Registry) All() []Drainable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Drainable(nil), r.items...)
}

type FlushFunc func(ctx context.Context) error

type Coordinator struct {
	registry *Registry
	timeout  time.Duration

	mu      sync.Mutex
	flushes []FlushFunc
	reason  string
	cause   error
	code    int

	once sync.Once
	done chan struct{}
}

func NewCoordinator(registry *Registry, timeout time.Duration) *Coordinator {
	if registry == nil {
		registry = NewRegistry()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{registry: registry, timeout: timeout, done: make(chan struct{})}
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// OnFlush adds a hook run after the schedulers are drained, in order.
func (c *Coordinator) OnFlush(fn FlushFunc) {
	c.mu.Lock()
	c.flushes = append(c.flushes, fn)
	c.mu.Unlock()
}

// Trigger runs the shutdown sequence. Only the first call does the work;
// concurrent callers block until it has finished. A non-nil cause makes the
// exit code 1.
func (c *Coordinator) Trigger(reason string, cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.cause = cause
		c.mu.Unlock()
		if cause != nil {
			log.Errorf("shutting down (%s): %v", reason, cause)
		} else {
			log.Infof("shutting down (%s)", reason)
		}

		c.drain()
		flushErr := c.flush()

		c.mu.Lock()
		if c.cause != nil || flushErr != nil {
			c.code = 1
		}
		if c.cause == nil && flushErr != nil {
			c.cause = flushErr
		}
		c.mu.Unlock()
		close(c.done)
	})
	<-c.done
}

func (c *Coordinator) drain() {
	items := c.registry.All()
	for _, d := range items {
		d.Pause()
		if n := d.Clear(); n > 0 {
			log.Infof("%s: dropped %d queued job(s)", d.Name(), n)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for _, d := range items {
		if err := d.Wait(ctx); err == nil {
			continue
		}
		log.Warningf("%s: running jobs did not finish within %s, aborting", d.Name(), c.timeout)
		d.Abort()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), abortGrace)
		if err := d.Wait(graceCtx); err != nil {
			log.Errorf("%s: jobs still running after abort", d.Name())
		}
		graceCancel()
	}
}

func (c *Coordinator) flush() error {
	c.mu.Lock()
	hooks := append([]FlushFunc(nil), c.flushes...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	var errs []error
	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			log.Errorf("flush: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Done is closed once the shutdown sequence has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Err returns the fatal cause, if any, once the sequence has finished.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cause == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", c.reason, c.cause)
}

// HandleSignals triggers a drain on the first SIGINT/SIGTERM and aborts
// running jobs on the second. The returned func stops listening.
func (c *Coordinator) HandleSignals() (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		select {
		case sig := <-ch:
			go c.Trigger("signal "+sig.String(), nil)
		case <-quit:
			return
		}
		select {
		case <-ch:
			log.Warningf("second signal, aborting running jobs")
			for _, d := range c.registry.All() {
				d.Abort()
			}
		case <-c.done:
		case <-quit:
		}
	}()

	return func() {
		stopOnce.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
