// Package proxypool hands out proxies round-robin, skipping the ones that are
// cooling down.
package proxypool

import (
	"context"
	"strings"
	"sync"
	"time"

	"steam-sessions/internal/throttle"
)

type Pool struct {
	throttle *throttle.Throttle

	mu      sync.Mutex
	proxies []string
	cursor  int
	gen     int // bumped by SetProxies

	// sem lets one caller at a time run the search-and-claim loop.
	sem chan struct{}
}

func New(th *throttle.Throttle) *Pool {
	if th == nil {
		th = throttle.New(nil, throttle.Options{})
	}
	return &Pool{throttle: th, sem: make(chan struct{}, 1)}
}

// SetProxies replaces the pool. An empty list leaves the pool unchanged.
func (p *Pool) SetProxies(list []string) {
	norm := NormalizeList(list)
	if len(norm) == 0 {
		return
	}
	p.mu.Lock()
	p.proxies = norm
	p.cursor = 0
	p.gen++
	p.mu.Unlock()
}

func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

func (p *Pool) Proxies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.proxies...)
}

// Acquire returns the next proxy that is not cooling down and claims it for
// one cool-down. It returns "" without waiting when the pool is empty. When
// every proxy is busy it polls until one frees up or ctx ends.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	if p.Count() == 0 {
		return "", nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()

	ticker := time.NewTicker(p.throttle.PollInterval())
	defer ticker.Stop()
	for {
		if id, ok := p.claimNext(ctx); ok {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) claimNext(ctx context.Context) (string, bool) {
	p.mu.Lock()
	proxies := p.proxies
	start := p.cursor
	gen := p.gen
	p.mu.Unlock()

	n := len(proxies)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		id := proxies[idx]
		ok, err := p.throttle.TryClaim(ctx, id)
		if err != nil || !ok {
			continue
		}
		p.advance(gen, idx, n)
		return id, true
	}
	return "", false
}

// advance moves the cursor past idx unless SetProxies replaced the list
// searched under gen in the meantime.
func (p *Pool) advance(gen, idx, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.cursor = (idx + 1) % n
}

// Throttle marks id busy for ttl, the default cool-down when ttl <= 0.
func (p *Pool) Throttle(ctx context.Context, id string, ttl time.Duration) error {
	return p.throttle.Throttle(ctx, id, ttl)
}

func (p *Pool) IsThrottled(ctx context.Context, id string) bool {
	return p.throttle.IsThrottled(ctx, id)
}

// NormalizeList trims entries, drops a trailing slash and removes duplicates
// while keeping the first-seen order.
func NormalizeList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSuffix(strings.TrimSpace(p), "/")
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
