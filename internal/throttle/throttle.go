// Package throttle keeps per-connection cool-downs so that no two logins leave
// through the same proxy (or the direct route) inside one cool-down window.
package throttle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("throttle")

const (
	DefaultCooldown     = 35 * time.Second
	DefaultPenalty      = 35 * time.Minute
	DefaultPollInterval = time.Second
)

// Store holds throttled-until deadlines. Implementations expire entries lazily:
// an entry past its deadline reads as absent.
type Store interface {
	// Until returns the deadline for id, or the zero time when id is free.
	Until(ctx context.Context, id string) (time.Time, error)
	// Extend sets the deadline for id to now+ttl unless a later one exists.
	Extend(ctx context.Context, id string, ttl time.Duration) error
	// Claim sets the deadline for id to now+ttl only if id is free and
	// reports whether it did. Check and set happen as one step.
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type Options struct {
	Cooldown     time.Duration
	PollInterval time.Duration
}

type Throttle struct {
	store        Store
	cooldown     time.Duration
	pollInterval time.Duration
}

func New(store Store, opts Options) *Throttle {
	if store == nil {
		store = NewMemoryStore(nil)
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Throttle{store: store, cooldown: cooldown, pollInterval: poll}
}

func (t *Throttle) Cooldown() time.Duration {
	return t.cooldown
}

func (t *Throttle) PollInterval() time.Duration {
	return t.pollInterval
}

// IsThrottled reports whether id is inside a cool-down. Store failures count
// as throttled so callers back off instead of racing.
func (t *Throttle) IsThrottled(ctx context.Context, id string) bool {
	until, err := t.store.Until(ctx, normalizeID(id))
	if err != nil {
		log.Warningf("throttle lookup for %s failed: %v", id, err)
		return true
	}
	return !until.IsZero()
}

// Until returns when id becomes free, or the zero time when it already is.
func (t *Throttle) Until(ctx context.Context, id string) (time.Time, error) {
	until, err := t.store.Until(ctx, normalizeID(id))
	if err != nil {
		return time.Time{}, fmt.Errorf("throttle lookup %s: %w", id, err)
	}
	return until, nil
}

// Throttle marks id busy for ttl (the default cool-down when ttl <= 0). A
// longer deadline already in place is kept.
func (t *Throttle) Throttle(ctx context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.cooldown
	}
	if err := t.store.Extend(ctx, normalizeID(id), ttl); err != nil {
		return fmt.Errorf("throttle %s: %w", id, err)
	}
	return nil
}

// TryClaim claims id for one cool-down if it is free right now.
func (t *Throttle) TryClaim(ctx context.Context, id string) (bool, error) {
	ok, err := t.store.Claim(ctx, normalizeID(id), t.cooldown)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

// WaitUntilReady blocks until id is free and then claims it for one
// cool-down before returning.
func (t *Throttle) WaitUntilReady(ctx context.Context, id string) error {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := t.TryClaim(ctx, id)
		if err != nil {
			log.Warningf("%v", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Hold keeps a claimed id busy while a login runs on it: the deadline is
// pushed to now+cooldown at a fraction of the cool-down until release is
// called, and release leaves one full cool-down from that moment. Deadlines
// are only ever extended, so a penalty set meanwhile survives.
func (t *Throttle) Hold(ctx context.Context, id string) (release func()) {
	ctx = context.WithoutCancel(ctx)
	every := t.cooldown / 3
	if every <= 0 {
		every = time.Millisecond
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := t.Throttle(ctx, id, t.cooldown); err != nil {
					log.Warningf("hold: %v", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := t.Throttle(ctx, id, t.cooldown); err != nil {
				log.Warningf("release: %v", err)
			}
		})
	}
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
