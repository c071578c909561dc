package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"steam-sessions/internal/config"
	"steam-sessions/internal/logs"
	"steam-sessions/internal/model"
	"steam-sessions/internal/sessions"
	"steam-sessions/internal/sessionstore"
)

type validateResult struct {
	SessionsDir string                `json:"sessions_dir"`
	Total       int                   `json:"total"`
	Valid       int                   `json:"valid"`
	Expiring    int                   `json:"expiring"`
	Invalid     int                   `json:"invalid"`
	Sessions    []sessions.Validation `json:"sessions"`
	LoadErrors  []string              `json:"load_errors,omitempty"`
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	sessionsDir := fs.String("sessions", defaultSessionsDir, "sessions directory")
	configPath := fs.String("config", "", "config file")
	logLevel := fs.String("log-level", "", "log level override")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadOptions{ConfigPath: strings.TrimSpace(*configPath)})
	if err != nil {
		return err
	}
	if err := logs.Console(os.Stderr, firstNonEmpty(*logLevel, cfg.LogLevel)); err != nil {
		return err
	}
	platforms, err := cfg.ParsedPlatforms()
	if err != nil {
		return err
	}

	res, err := validateSessions(context.Background(), strings.TrimSpace(*sessionsDir), platforms, cfg.ExpiryThreshold, time.Now())
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(res)
	}

	now := time.Now()
	for _, v := range res.Sessions {
		switch {
		case !v.Valid:
			fmt.Printf("invalid  %s: %s\n", v.Username, strings.Join(v.Errors, ", "))
		case v.Expiring:
			fmt.Printf("expiring %s (days %d)\n", v.Username, v.DaysLeft(now))
		default:
			fmt.Printf("valid    %s (days %d)\n", v.Username, v.DaysLeft(now))
		}
	}
	for _, e := range res.LoadErrors {
		fmt.Printf("unreadable %s\n", e)
	}
	fmt.Printf("validate: %d valid, %d expiring, %d invalid\n", res.Valid, res.Expiring, res.Invalid)
	return nil
}

func validateSessions(ctx context.Context, dir string, platforms []model.Platform, threshold time.Duration, now time.Time) (validateResult, error) {
	dir = firstNonEmpty(dir, defaultSessionsDir)
	stored, loadErrs, err := sessionstore.New(dir).LoadExisting(ctx)
	if err != nil {
		return validateResult{}, err
	}

	res := validateResult{SessionsDir: dir, Total: len(stored)}
	for _, s := range stored {
		v := sessions.Validate(s, platforms, threshold, now)
		switch {
		case !v.Valid:
			res.Invalid++
		case v.Expiring:
			res.Expiring++
		default:
			res.Valid++
		}
		res.Sessions = append(res.Sessions, v)
	}
	sort.Slice(res.Sessions, func(i, j int) bool {
		return strings.ToLower(res.Sessions[i].Username) < strings.ToLower(res.Sessions[j].Username)
	})
	for _, e := range loadErrs {
		res.LoadErrors = append(res.LoadErrors, e.Error())
	}
	return res, nil
}
