package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/op/go-logging"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/model"
	"steam-sessions/internal/proxypool"
	"steam-sessions/internal/retrypolicy"
	"steam-sessions/internal/scheduler"
	"steam-sessions/internal/throttle"
)

var log = logging.MustGetLogger("sessions")

const (
	DefaultAccountDelay = 30 * time.Second
	DefaultSaveRetries  = 3
	DefaultSaveDelay    = time.Second
)

type SessionExporter interface {
	Save(ctx context.Context, session model.Session) error
}

type SessionImporter interface {
	LoadExisting(ctx context.Context) ([]model.Session, []error, error)
}

type RunnerOptions struct {
	Platforms     []model.Platform
	AccountDelay  time.Duration
	Penalty       time.Duration
	PreserveProxy bool
	Policy        retrypolicy.Policy

	SaveRetries int
	SaveDelay   time.Duration
}

// Runner is the scheduler handler for create and renew jobs.
type Runner struct {
	provider auth.Provider
	pool     *proxypool.Pool
	throttle *throttle.Throttle
	exporter SessionExporter
	opts     RunnerOptions
}

func NewRunner(provider auth.Provider, pool *proxypool.Pool, th *throttle.Throttle, exporter SessionExporter, opts RunnerOptions) *Runner {
	if len(opts.Platforms) == 0 {
		opts.Platforms = model.DefaultPlatforms
	}
	if opts.AccountDelay < 0 {
		opts.AccountDelay = 0
	}
	if opts.Penalty <= 0 {
		opts.Penalty = throttle.DefaultPenalty
	}
	if opts.SaveRetries < 0 {
		opts.SaveRetries = DefaultSaveRetries
	}
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = DefaultSaveDelay
	}
	return &Runner{provider: provider, pool: pool, throttle: th, exporter: exporter, opts: opts}
}

var _ scheduler.Handler = (*Runner)(nil)

// Handle requests one token per platform, then saves the session. Nothing is
// written unless every token was issued.
func (r *Runner) Handle(ctx context.Context, job *model.Job) error {
	session := r.baseSession(job)
	sticky := ""
	if r.opts.PreserveProxy && job.Existing != nil && job.Existing.Proxy != "" {
		sticky = job.Existing.Proxy
	}

	for i, platform := range r.opts.Platforms {
		if i > 0 && !scheduler.SleepContext(ctx, r.opts.AccountDelay) {
			return ctx.Err()
		}
		token, err := r.requestToken(ctx, job, platform, &sticky)
		if err != nil {
			return fmt.Errorf("%s token for %s: %w", platform, job.Account.Username, err)
		}
		session.SetToken(platform, token)
	}

	steamID, err := subjectOf(session, r.opts.Platforms)
	if err != nil {
		return fmt.Errorf("decode token for %s: %w", job.Account.Username, err)
	}
	session.SteamID = steamID
	session.Proxy = ""
	if r.opts.PreserveProxy {
		session.Proxy = sticky
	}
	session.SchemaVersion = model.SessionSchemaVersion

	return r.save(ctx, session)
}

func (r *Runner) baseSession(job *model.Job) model.Session {
	var session model.Session
	if job.Existing != nil {
		session = *job.Existing
	}
	account := job.Account
	session.Username = account.Username
	session.Password = account.Password
	session.SharedSecret = firstNonEmpty(account.SharedSecret, session.SharedSecret)
	session.IdentitySecret = firstNonEmpty(account.IdentitySecret, session.IdentitySecret)
	return session
}

func (r *Runner) requestToken(ctx context.Context, job *model.Job, platform model.Platform, sticky *string) (string, error) {
	policy := r.opts.Policy
	timeout := policy.AttemptTimeout
	policy.AttemptTimeout = 0
	policy.OnRetry = func(attempt int, err error) {
		log.Infof("retry %s %s (%s) attempt %d: %v", job.Action, job.Account.Username, platform, attempt, err)
	}

	var token string
	res, err := policy.Do(ctx, func(_ context.Context, attempt int) error {
		conn, err := r.connect(ctx, *sticky)
		if err != nil {
			return err
		}
		if r.opts.PreserveProxy && *sticky == "" && conn != model.DirectConnection {
			*sticky = conn
		}
		job.Connection = conn
		job.Attempts++

		release := r.throttle.Hold(ctx, conn)
		defer release()
		return retrypolicy.WithTimeout(ctx, timeout, func(attemptCtx context.Context) error {
			t, err := r.provider.Authenticate(attemptCtx, job.Account, conn, platform)
			if err != nil {
				if auth.IsRateLimited(err) {
					log.Warningf("%s rate limited on %s, holding it for %s", job.Account.Username, conn, r.opts.Penalty)
					if terr := r.throttle.Throttle(ctx, conn, r.opts.Penalty); terr != nil {
						log.Errorf("throttle %s: %v", conn, terr)
					}
				}
				return err
			}
			token = t
			return nil
		})
	})
	job.Retries += res.Retries()
	if err != nil {
		return "", err
	}
	return token, nil
}

// connect returns a connection identity that this caller has claimed for one
// login attempt. The caller holds it with throttle.Hold until the attempt ends.
func (r *Runner) connect(ctx context.Context, sticky string) (string, error) {
	if sticky != "" {
		if err := r.throttle.WaitUntilReady(ctx, sticky); err != nil {
			return "", err
		}
		return sticky, nil
	}
	id, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	if err := r.throttle.WaitUntilReady(ctx, model.DirectConnection); err != nil {
		return "", err
	}
	return model.DirectConnection, nil
}

func (r *Runner) save(ctx context.Context, session model.Session) error {
	policy := retrypolicy.Policy{Retries: r.opts.SaveRetries, Delay: r.opts.SaveDelay}
	_, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return r.exporter.Save(ctx, session)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.Username, err)
	}
	return nil
}

func subjectOf(session model.Session, platforms []model.Platform) (string, error) {
	subject := ""
	for _, p := range platforms {
		claims, err := auth.DecodeToken(session.Token(p))
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, err)
		}
		if subject != "" && claims.Subject != subject {
			return "", errors.New("tokens were issued for different accounts")
		}
		subject = claims.Subject
	}
	return subject, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
