package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/op/go-logging"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/config"
	"steam-sessions/internal/inputs"
	"steam-sessions/internal/logs"
	"steam-sessions/internal/model"
	"steam-sessions/internal/proxypool"
	"steam-sessions/internal/report"
	"steam-sessions/internal/retrypolicy"
	"steam-sessions/internal/sessions"
	"steam-sessions/internal/sessionstore"
	"steam-sessions/internal/shutdown"
	"steam-sessions/internal/stats"
	"steam-sessions/internal/steam"
	"steam-sessions/internal/throttle"
	"steam-sessions/internal/tui"
)

var log = logging.MustGetLogger("cli")

const (
	defaultSessionsDir = "sessions"
	dialTimeout        = 5 * time.Second
)

var newProvider = func(cfg config.Config) auth.Provider {
	return steam.NewClient(steam.Options{
		BaseURL:     cfg.SteamAPI,
		HTTPTimeout: cfg.AttemptTimeout,
	})
}

type runFlags struct {
	accounts      stringList
	secrets       stringList
	proxies       string
	sessions      string
	concurrency   int
	forceCreate   bool
	forceUpdate   bool
	skipCreate    bool
	skipUpdate    bool
	preserveProxy bool
	config        string
	logLevel      string
	noUI          bool
	jsonOut       bool
	report        string
}

func bindRunFlags(fs *flag.FlagSet) *runFlags {
	f := &runFlags{}
	fs.Var(&f.accounts, "accounts", "accounts file, ASF json or user:pass[:shared[:identity]] (repeatable)")
	fs.Var(&f.secrets, "secrets", "maFile, ASF .db or a directory of them (repeatable)")
	fs.StringVar(&f.proxies, "proxies", "", "proxies file, one URL per line")
	fs.StringVar(&f.sessions, "sessions", defaultSessionsDir, "sessions directory")
	fs.IntVar(&f.concurrency, "concurrency", 0, "parallel jobs (default: one per proxy, or 1)")
	fs.BoolVar(&f.forceCreate, "force-create", false, "create sessions even when one already exists")
	fs.BoolVar(&f.forceUpdate, "force-update", false, "renew sessions even when they are still valid")
	fs.BoolVar(&f.skipCreate, "skip-create", false, "do not create new sessions")
	fs.BoolVar(&f.skipUpdate, "skip-update", false, "do not renew stored sessions")
	fs.BoolVar(&f.preserveProxy, "preserve-proxy", false, "store the proxy in the session and reuse it on renewal")
	fs.StringVar(&f.config, "config", "", "config file (default: steam-sessions.{json,yaml} in the working directory)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level override (debug, info, warning, error)")
	fs.BoolVar(&f.noUI, "no-ui", false, "log progress lines instead of the live dashboard")
	fs.BoolVar(&f.jsonOut, "json", false, "print JSON summary")
	fs.StringVar(&f.report, "report", "", "write a text report to this path")
	return f
}

func (f *runFlags) validate() error {
	if f.forceCreate && f.skipCreate {
		return errors.New("--force-create and --skip-create cannot be combined")
	}
	if f.forceUpdate && f.skipUpdate {
		return errors.New("--force-update and --skip-update cannot be combined")
	}
	if f.concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	return nil
}

func loadRunConfig(f *runFlags) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: strings.TrimSpace(f.config)})
	if err != nil {
		return config.Config{}, err
	}
	cfg.Concurrency = firstPositive(f.concurrency, cfg.Concurrency)
	cfg.LogLevel = firstNonEmpty(f.logLevel, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setupLogging keeps stderr quiet while the dashboard owns the terminal.
func setupLogging(cfg config.Config, ui bool) (*logs.Output, error) {
	opts := logs.Options{Dir: cfg.LogsDir, Level: cfg.LogLevel}
	if !ui {
		opts.Console = os.Stderr
	}
	return logs.Setup(opts)
}

func runSessions(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	f := bindRunFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := f.validate(); err != nil {
		return err
	}
	cfg, err := loadRunConfig(f)
	if err != nil {
		return err
	}

	useUI := !f.noUI && !f.jsonOut && isTTY(os.Stdout) && isTTY(os.Stdin)
	out, err := setupLogging(cfg, useUI)
	if err != nil {
		return err
	}
	defer out.Close()

	summary, err := runOnce(context.Background(), cfg, f, useUI)
	if summary.RunID == "" {
		return err
	}
	if f.jsonOut {
		if perr := printJSON(summary); perr != nil {
			return perr
		}
		return err
	}
	printSummary(summary, f.report, out.Path)
	return err
}

type runInputs struct {
	accounts []model.Account
	existing map[string]model.Session
	proxies  []string
	store    *sessionstore.Store
}

func loadInputs(ctx context.Context, f *runFlags, sessionsDir string) (runInputs, error) {
	accounts, invalid, err := inputs.ReadAccounts(f.accounts)
	if err != nil {
		return runInputs{}, fmt.Errorf("read accounts: %w", err)
	}
	if len(invalid) > 0 {
		log.Warningf("ignored %d invalid account entr(ies)", len(invalid))
	}

	secrets, badSecrets, err := inputs.ReadSecrets(f.secrets)
	if err != nil {
		return runInputs{}, fmt.Errorf("read secrets: %w", err)
	}
	for _, bad := range badSecrets {
		log.Warningf("ignored secrets file %s", bad)
	}
	accounts = inputs.MergeSecrets(accounts, secrets)

	proxyPath := strings.TrimSpace(f.proxies)
	if proxyPath != "" {
		if _, err := os.Stat(proxyPath); err != nil {
			return runInputs{}, fmt.Errorf("proxies file %s: %w", proxyPath, err)
		}
	}
	proxies, badProxies, err := inputs.ReadProxies(proxyPath)
	if err != nil {
		return runInputs{}, err
	}
	if len(badProxies) > 0 {
		log.Warningf("ignored %d invalid prox(ies)", len(badProxies))
		for _, bad := range badProxies {
			log.Debugf("invalid proxy %s", bad)
		}
	}

	store := sessionstore.New(sessionsDir)
	existing, loadErrs, err := store.LoadByUsername(ctx)
	if err != nil {
		return runInputs{}, err
	}
	for _, lerr := range loadErrs {
		log.Warningf("%v", lerr)
	}
	inputs.MergeSessionSecrets(existing, secrets)

	return runInputs{accounts: accounts, existing: existing, proxies: proxies, store: store}, nil
}

func openThrottle(ctx context.Context, cfg config.Config) (*throttle.Throttle, func(), error) {
	opts := throttle.Options{Cooldown: cfg.Cooldown, PollInterval: cfg.PollInterval}
	if cfg.RedisURL == "" {
		return throttle.New(throttle.NewMemoryStore(nil), opts), func() {}, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	client, err := throttle.DialRedis(dialCtx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("throttle: shared redis backend %s", client.Options().Addr)
	return throttle.New(throttle.NewRedisStore(client), opts), func() { _ = client.Close() }, nil
}

// runOnce performs one complete create/renew pass. The summary is empty when
// setup failed before any job was planned.
func runOnce(ctx context.Context, cfg config.Config, f *runFlags, useUI bool) (report.Summary, error) {
	runID := report.NewRunID()
	started := time.Now()

	sessionsDir := firstNonEmpty(f.sessions, defaultSessionsDir)
	if err := sessionstore.EnsureWritableDir(sessionsDir); err != nil {
		return report.Summary{}, err
	}
	lock, err := sessionstore.AcquireDirLock(sessionsDir, runID)
	if err != nil {
		return report.Summary{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warningf("%v", err)
		}
	}()

	in, err := loadInputs(ctx, f, sessionsDir)
	if err != nil {
		return report.Summary{}, err
	}
	platforms, err := cfg.ParsedPlatforms()
	if err != nil {
		return report.Summary{}, err
	}

	th, closeThrottle, err := openThrottle(ctx, cfg)
	if err != nil {
		return report.Summary{}, err
	}
	defer closeThrottle()

	var history *report.History
	if cfg.HistoryDSN != "" {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		history, err = report.OpenHistory(dialCtx, cfg.HistoryDSN)
		cancel()
		if err != nil {
			return report.Summary{}, err
		}
		defer history.Close()
	}

	pool := proxypool.New(th)
	pool.SetProxies(in.proxies)

	plan := sessions.BuildPlan(in.accounts, in.existing, sessions.PlanOptions{
		ForceCreate:     f.forceCreate,
		ForceUpdate:     f.forceUpdate,
		SkipCreate:      f.skipCreate,
		SkipUpdate:      f.skipUpdate,
		Platforms:       platforms,
		ExpiryThreshold: cfg.ExpiryThreshold,
	})
	runner := sessions.NewRunner(newProvider(cfg), pool, th, in.store, sessions.RunnerOptions{
		Platforms:     platforms,
		AccountDelay:  cfg.AccountDelay,
		Penalty:       cfg.Penalty,
		PreserveProxy: f.preserveProxy,
		Policy: retrypolicy.Policy{
			Retries:        cfg.Retries,
			Delay:          cfg.RetryDelay,
			MaxJitter:      cfg.RetryJitter,
			AttemptTimeout: cfg.AttemptTimeout,
		},
	})
	engine := sessions.NewEngine(runner, plan, sessions.EngineOptions{
		Concurrency:   cfg.Concurrency,
		Proxies:       pool.Count(),
		StartInterval: cfg.StartInterval,
		JobCooldown:   cfg.JobCooldown,
	})
	tracker := engine.Tracker()

	registry := shutdown.NewRegistry()
	registry.Register(engine.Scheduler())
	coord := shutdown.NewCoordinator(registry, cfg.ShutdownTimeout)

	var summary report.Summary
	coord.OnFlush(func(ctx context.Context) error {
		summary = report.Build(runID, started, time.Now(), tracker)
		if reason := coord.Reason(); reason != reasonCompleted {
			summary.Reason = reason
		}
		if f.report == "" {
			return nil
		}
		return report.WriteFile(f.report, summary)
	})
	if history != nil {
		coord.OnFlush(func(ctx context.Context) error {
			return history.Append(ctx, runID, tracker.Records())
		})
	}

	stopSignals := coord.HandleSignals()
	defer stopSignals()

	var ui *tui.UI
	if useUI {
		ui = tui.Start(tui.Options{
			Header: tui.Header{
				RunID:       runID,
				Accounts:    len(in.accounts),
				Sessions:    len(in.existing),
				Proxies:     pool.Count(),
				Concurrency: engine.Scheduler().Concurrency(),
			},
			Tracker: tracker,
			Running: engine.Scheduler().Running,
			OnQuit:  func() { coord.Trigger("quit", nil) },
		})
	} else {
		tui.LogProgress(tracker)
	}

	log.Infof("run %s: %d account(s), %d stored session(s), %d prox(ies), concurrency %d",
		runID, len(in.accounts), len(in.existing), pool.Count(), engine.Scheduler().Concurrency())

	if runErr := engine.Run(ctx); runErr != nil {
		coord.Trigger("fatal", runErr)
	} else {
		coord.Trigger(reasonCompleted, nil)
	}
	if ui != nil {
		if err := ui.Stop(); err != nil {
			log.Warningf("dashboard: %v", err)
		}
	}
	return summary, coord.Err()
}

const reasonCompleted = "completed"

func printSummary(s report.Summary, reportPath, logPath string) {
	fmt.Printf("run %s finished in %s\n", s.RunID, s.Duration())
	if s.Reason != "" {
		fmt.Printf("stopped early: %s\n", s.Reason)
	}
	fmt.Println(formatCounts(s.Stats))
	if len(s.Stats.FailedUsernames) > 0 {
		fmt.Println("failed:")
		for _, u := range s.Stats.FailedUsernames {
			fmt.Printf("  %s\n", u)
		}
	}
	if reportPath != "" {
		fmt.Printf("report: %s\n", reportPath)
	}
	if logPath != "" {
		fmt.Printf("log: %s\n", logPath)
	}
}

func formatCounts(s stats.Snapshot) string {
	return fmt.Sprintf("created %d, renewed %d, skipped %d, failed %d, left %d",
		s.Created, s.Renewed, s.Skip, s.Fail, s.Remaining)
}
