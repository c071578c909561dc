package sessions

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/model"
	"steam-sessions/internal/proxypool"
	"steam-sessions/internal/retrypolicy"
	"steam-sessions/internal/shutdown"
	"steam-sessions/internal/throttle"
)

func fakeToken(sub string, exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"EdDSA"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"iss":"steam","sub":%q,"aud":["web"],"exp":%d}`, sub, exp.Unix())))
	return header + "." + body + ".c2ln"
}

func steamIDFor(username string) string {
	return "7656119" + fmt.Sprintf("%010d", len(username))
}

type memExporter struct {
	mu    sync.Mutex
	saved map[string]model.Session
	fails int
}

func newMemExporter() *memExporter {
	return &memExporter{saved: map[string]model.Session{}}
}

func (e *memExporter) Save(_ context.Context, session model.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fails > 0 {
		e.fails--
		return errors.New("disk busy")
	}
	e.saved[model.UsernameKey(session.Username)] = session
	return nil
}

func (e *memExporter) get(username string) (model.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.saved[model.UsernameKey(username)]
	return s, ok
}

type rig struct {
	throttle *throttle.Throttle
	pool     *proxypool.Pool
	exporter *memExporter
}

func newRig(cooldown time.Duration, proxies ...string) rig {
	th := throttle.New(throttle.NewMemoryStore(nil), throttle.Options{Cooldown: cooldown, PollInterval: time.Millisecond})
	pool := proxypool.New(th)
	pool.SetProxies(proxies)
	return rig{throttle: th, pool: pool, exporter: newMemExporter()}
}

func (r rig) runner(provider auth.Provider, mutate func(*RunnerOptions)) *Runner {
	opts := RunnerOptions{
		Platforms:    model.DefaultPlatforms,
		AccountDelay: 0,
		Penalty:      time.Hour,
		Policy:       retrypolicy.Policy{Retries: 5, Delay: time.Millisecond, AttemptTimeout: time.Second},
		SaveDelay:    time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRunner(provider, r.pool, r.throttle, r.exporter, opts)
}

func okProvider(exp time.Time) auth.ProviderFunc {
	return func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		return fakeToken(steamIDFor(account.Username), exp), nil
	}
}

func accounts(n int) []model.Account {
	out := make([]model.Account, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Account{Username: fmt.Sprintf("user%02d", i), Password: "pw"})
	}
	return out
}

func TestEngineCreatesEveryAccountThroughTwoProxies(t *testing.T) {
	r := newRig(2*time.Millisecond, "http://10.0.0.1:8080", "http://10.0.0.2:8080")
	exp := time.Now().Add(200 * 24 * time.Hour)

	var mu sync.Mutex
	used := map[string]int{}
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		mu.Lock()
		used[connection]++
		mu.Unlock()
		return fakeToken(steamIDFor(account.Username), exp), nil
	})

	plan := BuildPlan(accounts(10), nil, PlanOptions{})
	engine := NewEngine(r.runner(provider, nil), plan, EngineOptions{Proxies: r.pool.Count()})
	require.Equal(t, 2, engine.Scheduler().Concurrency())

	require.NoError(t, engine.Run(context.Background()))

	snap := engine.Tracker().Snapshot()
	assert.Equal(t, 10, snap.Success)
	assert.Equal(t, 10, snap.Created)
	assert.Equal(t, 0, snap.Remaining)
	assert.Empty(t, snap.FailedUsernames)
	assert.LessOrEqual(t, engine.Scheduler().MaxRunning(), 2)

	mu.Lock()
	assert.Len(t, used, 2)
	assert.NotContains(t, used, model.DirectConnection)
	mu.Unlock()

	session, ok := r.exporter.get("user07")
	require.True(t, ok)
	assert.Equal(t, steamIDFor("user07"), session.SteamID)
	assert.Equal(t, model.SessionSchemaVersion, session.SchemaVersion)
	assert.Empty(t, session.Proxy)
	for _, p := range model.DefaultPlatforms {
		assert.NotEmpty(t, session.Token(p), p)
	}
}

func TestRunnerRetriesTransientFailuresOnDirect(t *testing.T) {
	r := newRig(time.Millisecond)
	exp := time.Now().Add(200 * 24 * time.Hour)

	var calls atomic.Int64
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		if connection != model.DirectConnection {
			return "", fmt.Errorf("unexpected connection %s", connection)
		}
		if calls.Add(1) <= 5 {
			return "", errors.New("socket hang up")
		}
		return fakeToken("76561198000000001", exp), nil
	})
	runner := r.runner(provider, func(o *RunnerOptions) { o.Platforms = []model.Platform{model.PlatformWeb} })

	plan := BuildPlan(accounts(1), nil, PlanOptions{})
	engine := NewEngine(runner, plan, EngineOptions{})
	require.NoError(t, engine.Run(context.Background()))

	snap := engine.Tracker().Snapshot()
	assert.Equal(t, 1, snap.Success)
	records := engine.Tracker().Records()
	require.Len(t, records, 1)
	assert.Equal(t, 6, records[0].Attempts)
	assert.Equal(t, 5, records[0].Retries)
	assert.Equal(t, model.DirectConnection, records[0].Connection)
}

func TestRunnerKeepsOneAttemptPerConnection(t *testing.T) {
	const proxy = "http://10.0.0.1:8080"
	cooldown := 50 * time.Millisecond
	r := newRig(cooldown, proxy)
	exp := time.Now().Add(200 * 24 * time.Hour)

	var (
		mu       sync.Mutex
		inFlight = map[string]int{}
		peak     int
		starts   []time.Time
		ends     []time.Time
	)
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		mu.Lock()
		inFlight[connection]++
		if inFlight[connection] > peak {
			peak = inFlight[connection]
		}
		starts = append(starts, time.Now())
		mu.Unlock()

		time.Sleep(3 * cooldown)

		mu.Lock()
		inFlight[connection]--
		ends = append(ends, time.Now())
		mu.Unlock()
		return fakeToken(steamIDFor(account.Username), exp), nil
	})
	runner := r.runner(provider, func(o *RunnerOptions) {
		o.Platforms = []model.Platform{model.PlatformWeb}
		o.Policy.AttemptTimeout = 4 * cooldown
	})

	plan := BuildPlan(accounts(2), nil, PlanOptions{})
	engine := NewEngine(runner, plan, EngineOptions{Concurrency: 2, Proxies: 1})
	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, 2, engine.Tracker().Snapshot().Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, peak, "attempts overlapped on %s", proxy)
	require.Len(t, starts, 2)
	require.Len(t, ends, 2)
	assert.GreaterOrEqual(t, starts[1].Sub(ends[0]), cooldown)
}

func TestRunnerStopsOnGuardActionRequired(t *testing.T) {
	r := newRig(time.Millisecond)
	var calls atomic.Int64
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		calls.Add(1)
		return "", fmt.Errorf("confirm login: %w", auth.ErrGuardActionRequired)
	})

	plan := BuildPlan(accounts(1), nil, PlanOptions{})
	engine := NewEngine(r.runner(provider, nil), plan, EngineOptions{})
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, int64(1), calls.Load())
	records := engine.Tracker().Records()
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeFail, records[0].Outcome)
	assert.Equal(t, "guard_action_required", records[0].Reason)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Equal(t, []string{"user01"}, engine.Tracker().Snapshot().FailedUsernames)
	_, saved := r.exporter.get("user01")
	assert.False(t, saved)
}

func TestRunnerPenalizesRateLimitedProxy(t *testing.T) {
	first, second := "http://10.0.0.1:8080", "http://10.0.0.2:8080"
	r := newRig(time.Millisecond, first, second)
	exp := time.Now().Add(200 * 24 * time.Hour)

	var calls atomic.Int64
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		if calls.Add(1) == 1 {
			return "", fmt.Errorf("begin auth: %w", auth.ErrRateLimitExceeded)
		}
		if connection == first {
			return "", errors.New("penalized proxy was reused")
		}
		return fakeToken("76561198000000001", exp), nil
	})
	runner := r.runner(provider, func(o *RunnerOptions) { o.Platforms = []model.Platform{model.PlatformMobile} })

	start := time.Now()
	job := newJob(model.ActionCreate, model.Account{Username: "alice", Password: "pw"}, nil)
	require.NoError(t, runner.Handle(context.Background(), job))

	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, 1, job.Retries)
	assert.Equal(t, second, job.Connection)
	until, err := r.throttle.Until(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, until.Before(start.Add(time.Hour)))
	assert.True(t, r.pool.IsThrottled(context.Background(), first))
}

func TestRunnerRenewKeepsSecretsAndStickyProxy(t *testing.T) {
	proxy := "socks5://10.0.0.9:1080"
	r := newRig(time.Millisecond, "http://10.0.0.1:8080")
	exp := time.Now().Add(200 * 24 * time.Hour)

	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		if connection != proxy {
			return "", fmt.Errorf("expected sticky proxy, got %s", connection)
		}
		return fakeToken("76561198000000042", exp), nil
	})
	runner := r.runner(provider, func(o *RunnerOptions) { o.PreserveProxy = true })

	existing := model.Session{
		Username:       "bob",
		Password:       "old",
		SteamID:        "76561198000000042",
		SharedSecret:   "c2hhcmVk",
		IdentitySecret: "aWRlbnRpdHk=",
		Proxy:          proxy,
		SchemaVersion:  2,
	}
	job := newJob(model.ActionRenew, existing.Account(), &existing)
	require.NoError(t, runner.Handle(context.Background(), job))

	saved, ok := r.exporter.get("bob")
	require.True(t, ok)
	assert.Equal(t, "c2hhcmVk", saved.SharedSecret)
	assert.Equal(t, "aWRlbnRpdHk=", saved.IdentitySecret)
	assert.Equal(t, proxy, saved.Proxy)
	assert.Equal(t, model.SessionSchemaVersion, saved.SchemaVersion)
	assert.Equal(t, "76561198000000042", saved.SteamID)
}

func TestRunnerRecordsFirstProxyWhenPreserving(t *testing.T) {
	proxy := "http://10.0.0.1:8080"
	r := newRig(time.Millisecond, proxy)
	runner := r.runner(okProvider(time.Now().Add(100*24*time.Hour)), func(o *RunnerOptions) { o.PreserveProxy = true })

	job := newJob(model.ActionCreate, model.Account{Username: "carol", Password: "pw"}, nil)
	require.NoError(t, runner.Handle(context.Background(), job))

	saved, ok := r.exporter.get("carol")
	require.True(t, ok)
	assert.Equal(t, proxy, saved.Proxy)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 0, job.Retries)
}

func TestRunnerRetriesSave(t *testing.T) {
	r := newRig(time.Millisecond)
	r.exporter.fails = 2
	runner := r.runner(okProvider(time.Now().Add(100*24*time.Hour)), nil)

	job := newJob(model.ActionCreate, model.Account{Username: "dave", Password: "pw"}, nil)
	require.NoError(t, runner.Handle(context.Background(), job))
	_, ok := r.exporter.get("dave")
	assert.True(t, ok)
}

func TestRunnerRejectsMismatchedSubjects(t *testing.T) {
	r := newRig(time.Millisecond)
	exp := time.Now().Add(100 * 24 * time.Hour)
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		return fakeToken(string(platform), exp), nil
	})
	runner := r.runner(provider, nil)

	job := newJob(model.ActionCreate, model.Account{Username: "erin", Password: "pw"}, nil)
	err := runner.Handle(context.Background(), job)
	require.Error(t, err)
	_, ok := r.exporter.get("erin")
	assert.False(t, ok)
}

func TestShutdownMidRunStopsAdmissions(t *testing.T) {
	r := newRig(20 * time.Millisecond)
	exp := time.Now().Add(200 * 24 * time.Hour)

	registry := shutdown.NewRegistry()
	coord := shutdown.NewCoordinator(registry, time.Second)
	var flushed atomic.Bool
	coord.OnFlush(func(ctx context.Context) error {
		flushed.Store(true)
		return nil
	})

	var calls atomic.Int64
	provider := auth.ProviderFunc(func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
		if calls.Add(1) == 3 {
			go coord.Trigger("signal", nil)
		}
		return fakeToken("76561198000000001", exp), nil
	})
	runner := r.runner(provider, func(o *RunnerOptions) { o.Platforms = []model.Platform{model.PlatformWeb} })

	plan := BuildPlan(accounts(10), nil, PlanOptions{})
	engine := NewEngine(runner, plan, EngineOptions{})
	registry.Register(engine.Scheduler())

	require.NoError(t, engine.Run(context.Background()))
	select {
	case <-coord.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not finish")
	}

	assert.Equal(t, 0, coord.ExitCode())
	assert.True(t, flushed.Load())

	records := engine.Tracker().Records()
	assert.GreaterOrEqual(t, len(records), 3)
	assert.Less(t, len(records), 10)
	assert.Equal(t, 0, engine.Scheduler().Queued())

	pending := 0
	for _, job := range plan.Create {
		if job.Status == model.StatusPending {
			pending++
		}
	}
	assert.Equal(t, 10-len(records), pending)
	assert.Equal(t, pending, engine.Tracker().Snapshot().Remaining)
}

func TestResolveConcurrency(t *testing.T) {
	assert.Equal(t, 4, ResolveConcurrency(4, 50))
	assert.Equal(t, 1, ResolveConcurrency(0, 0))
	assert.Equal(t, 7, ResolveConcurrency(0, 7))
	assert.Equal(t, MaxDerivedConcurrency, ResolveConcurrency(0, 5000))
}
