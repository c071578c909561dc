package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"steam-sessions/internal/config"
	"steam-sessions/internal/inputs"
	"steam-sessions/internal/logs"
	"steam-sessions/internal/report"
	"steam-sessions/internal/sessionstore"
	"steam-sessions/internal/throttle"
)

type checkResult struct {
	OK     bool        `json:"ok"`
	Checks []checkItem `json:"checks"`
}

type checkItem struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	f := &runFlags{}
	fs.Var(&f.accounts, "accounts", "accounts file or inline account (repeatable)")
	fs.Var(&f.secrets, "secrets", "maFile, ASF .db or a directory of them (repeatable)")
	fs.StringVar(&f.proxies, "proxies", "", "proxies file")
	fs.StringVar(&f.sessions, "sessions", defaultSessionsDir, "sessions directory")
	fs.StringVar(&f.config, "config", "", "config file")
	fs.BoolVar(&f.jsonOut, "json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := logs.Console(os.Stderr, "error"); err != nil {
		return err
	}

	res := preflight(context.Background(), f)
	if f.jsonOut {
		return printJSON(res)
	}
	for _, c := range res.Checks {
		status := "ok"
		if !c.OK {
			status = "fail"
		}
		fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
	}
	if !res.OK {
		return errors.New("check failed")
	}
	fmt.Println("check: all checks passed")
	return nil
}

func preflight(ctx context.Context, f *runFlags) checkResult {
	checks := make([]checkItem, 0, 9)
	add := func(name string, err error, okMessage string) {
		if err != nil {
			checks = append(checks, checkItem{Name: name, OK: false, Message: err.Error()})
			return
		}
		checks = append(checks, checkItem{Name: name, OK: true, Message: okMessage})
	}

	cfg, err := config.Load(config.LoadOptions{ConfigPath: strings.TrimSpace(f.config)})
	if err == nil {
		err = cfg.Validate()
	}
	add("config", err, firstNonEmpty(cfg.File, "defaults"))
	if err != nil {
		cfg = config.Defaults()
	}

	accounts, invalid, err := inputs.ReadAccounts(f.accounts)
	if err == nil && len(invalid) > 0 {
		err = fmt.Errorf("%d account(s) readable, %d invalid entr(ies)", len(accounts), len(invalid))
	}
	add("input:accounts", err, fmt.Sprintf("%d account(s)", len(accounts)))

	if len(f.secrets) > 0 {
		secrets, bad, err := inputs.ReadSecrets(f.secrets)
		if err == nil && len(bad) > 0 {
			err = fmt.Errorf("%d secret file(s) readable, unreadable: %s", len(secrets), strings.Join(bad, ", "))
		}
		add("input:secrets", err, fmt.Sprintf("%d secret file(s)", len(secrets)))
	}

	proxyPath := strings.TrimSpace(f.proxies)
	if proxyPath == "" {
		add("input:proxies", nil, "none, using a direct connection")
	} else {
		var proxies, bad []string
		_, err := os.Stat(proxyPath)
		if err == nil {
			proxies, bad, err = inputs.ReadProxies(proxyPath)
		}
		if err == nil && len(bad) > 0 {
			err = fmt.Errorf("%d prox(ies) valid, %d invalid", len(proxies), len(bad))
		}
		add("input:proxies", err, fmt.Sprintf("%d prox(ies)", len(proxies)))
	}

	sessionsDir := firstNonEmpty(f.sessions, defaultSessionsDir)
	add("directory:sessions", sessionstore.EnsureWritableDir(sessionsDir), "writable")
	var lockErr error
	if owner, ok := sessionstore.ReadLockOwner(sessionsDir); ok {
		lockErr = fmt.Errorf("%w by %s", sessionstore.ErrDirLocked, owner)
	} else if sessionstore.IsLocked(sessionsDir) {
		lockErr = sessionstore.ErrDirLocked
	}
	add("lock:sessions", lockErr, "free")
	add("directory:logs", sessionstore.EnsureWritableDir(cfg.LogsDir), "writable")

	if cfg.RedisURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		client, err := throttle.DialRedis(dialCtx, cfg.RedisURL)
		cancel()
		if err == nil {
			_ = client.Close()
		}
		add("redis", err, "reachable")
	}
	if cfg.HistoryDSN != "" {
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		history, err := report.OpenHistory(dialCtx, cfg.HistoryDSN)
		cancel()
		if err == nil {
			_ = history.Close()
		}
		add("history", err, "reachable")
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return checkResult{OK: ok, Checks: checks}
}
