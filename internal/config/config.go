// Package config layers defaults, an optional config file, .env and
// STEAM_SESSIONS_* environment variables into one Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"steam-sessions/internal/model"
)

const (
	EnvPrefix      = "STEAM_SESSIONS"
	DefaultName    = "steam-sessions"
	DefaultEnvFile = ".env"

	// ProviderWindow is how often the provider accepts a login per source.
	ProviderWindow = 30 * time.Second

	DefaultCooldown        = 35 * time.Second
	DefaultPenalty         = 35 * time.Minute
	DefaultPollInterval    = time.Second
	DefaultRetries         = 5
	DefaultRetryDelay      = 10 * time.Second
	DefaultRetryJitter     = 50 * time.Second
	DefaultAttemptTimeout  = 35 * time.Second
	DefaultAccountDelay    = 30 * time.Second
	DefaultStartInterval   = 10 * time.Millisecond
	DefaultShutdownTimeout = 60 * time.Second
	DefaultExpiryThreshold = 30 * 24 * time.Hour
	DefaultLogLevel        = "info"
	DefaultLogsDir         = "logs"
	DefaultSchedule        = "0 4 * * *"
)

type Config struct {
	Concurrency     int           `json:"concurrency" mapstructure:"concurrency"`
	Cooldown        time.Duration `json:"cooldown" mapstructure:"cooldown"`
	Penalty         time.Duration `json:"penalty" mapstructure:"penalty"`
	PollInterval    time.Duration `json:"poll_interval" mapstructure:"poll-interval"`
	Retries         int           `json:"retries" mapstructure:"retries"`
	RetryDelay      time.Duration `json:"retry_delay" mapstructure:"retry-delay"`
	RetryJitter     time.Duration `json:"retry_jitter" mapstructure:"retry-jitter"`
	AttemptTimeout  time.Duration `json:"attempt_timeout" mapstructure:"attempt-timeout"`
	AccountDelay    time.Duration `json:"account_delay" mapstructure:"account-delay"`
	StartInterval   time.Duration `json:"start_interval" mapstructure:"start-interval"`
	JobCooldown     time.Duration `json:"job_cooldown" mapstructure:"job-cooldown"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown-timeout"`
	ExpiryThreshold time.Duration `json:"expiry_threshold" mapstructure:"expiry-threshold"`
	Platforms       []string      `json:"platforms" mapstructure:"platforms"`
	LogLevel        string        `json:"log_level" mapstructure:"log-level"`
	LogsDir         string        `json:"logs_dir" mapstructure:"logs-dir"`
	RedisURL        string        `json:"redis_url,omitempty" mapstructure:"redis-url"`
	HistoryDSN      string        `json:"-" mapstructure:"history-dsn"`
	Schedule        string        `json:"schedule" mapstructure:"schedule"`
	SteamAPI        string        `json:"steam_api,omitempty" mapstructure:"steam-api"`

	// File is the config file that was read, if any.
	File string `json:"file,omitempty" mapstructure:"-"`
}

func Defaults() Config {
	return Config{
		Cooldown:        DefaultCooldown,
		Penalty:         DefaultPenalty,
		PollInterval:    DefaultPollInterval,
		Retries:         DefaultRetries,
		RetryDelay:      DefaultRetryDelay,
		RetryJitter:     DefaultRetryJitter,
		AttemptTimeout:  DefaultAttemptTimeout,
		AccountDelay:    DefaultAccountDelay,
		StartInterval:   DefaultStartInterval,
		ShutdownTimeout: DefaultShutdownTimeout,
		ExpiryThreshold: DefaultExpiryThreshold,
		Platforms:       platformNames(model.DefaultPlatforms),
		LogLevel:        DefaultLogLevel,
		LogsDir:         DefaultLogsDir,
		Schedule:        DefaultSchedule,
	}
}

type LoadOptions struct {
	// ConfigPath must exist when set. Empty searches for steam-sessions.* in
	// SearchDir and tolerates its absence.
	ConfigPath string
	SearchDir  string
	// EnvFile defaults to .env; a missing file is ignored.
	EnvFile string
}

func Load(opts LoadOptions) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.ConfigPath, err)
		}
	} else {
		dir := opts.SearchDir
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(DefaultName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return Normalize(cfg), nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("cooldown", d.Cooldown)
	v.SetDefault("penalty", d.Penalty)
	v.SetDefault("poll-interval", d.PollInterval)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("retry-delay", d.RetryDelay)
	v.SetDefault("retry-jitter", d.RetryJitter)
	v.SetDefault("attempt-timeout", d.AttemptTimeout)
	v.SetDefault("account-delay", d.AccountDelay)
	v.SetDefault("start-interval", d.StartInterval)
	v.SetDefault("job-cooldown", d.JobCooldown)
	v.SetDefault("shutdown-timeout", d.ShutdownTimeout)
	v.SetDefault("expiry-threshold", d.ExpiryThreshold)
	v.SetDefault("platforms", d.Platforms)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("logs-dir", d.LogsDir)
	v.SetDefault("redis-url", "")
	v.SetDefault("history-dsn", "")
	v.SetDefault("schedule", d.Schedule)
	v.SetDefault("steam-api", "")
}

// Normalize replaces out-of-range values with defaults.
func Normalize(raw Config) Config {
	d := Defaults()
	norm := raw
	if norm.Concurrency < 0 {
		norm.Concurrency = 0
	}
	if norm.Cooldown <= 0 {
		norm.Cooldown = d.Cooldown
	}
	if norm.Penalty <= 0 {
		norm.Penalty = d.Penalty
	}
	if norm.PollInterval <= 0 {
		norm.PollInterval = d.PollInterval
	}
	if norm.Retries < 0 {
		norm.Retries = d.Retries
	}
	if norm.RetryDelay < 0 {
		norm.RetryDelay = d.RetryDelay
	}
	if norm.RetryJitter < 0 {
		norm.RetryJitter = 0
	}
	if norm.AttemptTimeout <= 0 {
		norm.AttemptTimeout = d.AttemptTimeout
	}
	if norm.AccountDelay < 0 {
		norm.AccountDelay = d.AccountDelay
	}
	if norm.StartInterval < 0 {
		norm.StartInterval = 0
	}
	if norm.JobCooldown < 0 {
		norm.JobCooldown = 0
	}
	if norm.ShutdownTimeout <= 0 {
		norm.ShutdownTimeout = d.ShutdownTimeout
	}
	if norm.ExpiryThreshold <= 0 {
		norm.ExpiryThreshold = d.ExpiryThreshold
	}
	norm.Platforms = normalizePlatformNames(norm.Platforms)
	if len(norm.Platforms) == 0 {
		norm.Platforms = d.Platforms
	}
	norm.LogLevel = strings.ToLower(strings.TrimSpace(norm.LogLevel))
	if norm.LogLevel == "" {
		norm.LogLevel = d.LogLevel
	}
	if strings.TrimSpace(norm.LogsDir) == "" {
		norm.LogsDir = d.LogsDir
	}
	if strings.TrimSpace(norm.Schedule) == "" {
		norm.Schedule = d.Schedule
	}
	norm.RedisURL = strings.TrimSpace(norm.RedisURL)
	norm.HistoryDSN = strings.TrimSpace(norm.HistoryDSN)
	norm.SteamAPI = strings.TrimRight(strings.TrimSpace(norm.SteamAPI), "/")
	return norm
}

func normalizePlatformNames(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := map[string]bool{}
	for _, entry := range raw {
		for _, p := range strings.Split(entry, ",") {
			v := strings.ToLower(strings.TrimSpace(p))
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Validate rejects settings that would break the provider's rules.
func (c Config) Validate() error {
	if c.Cooldown <= ProviderWindow {
		return fmt.Errorf("cooldown %s must be longer than the %s provider window", c.Cooldown, ProviderWindow)
	}
	if c.Penalty < c.Cooldown {
		return fmt.Errorf("penalty %s must not be shorter than cooldown %s", c.Penalty, c.Cooldown)
	}
	if _, err := c.ParsedPlatforms(); err != nil {
		return err
	}
	return nil
}

func (c Config) ParsedPlatforms() ([]model.Platform, error) {
	if len(c.Platforms) == 0 {
		return model.DefaultPlatforms, nil
	}
	out := make([]model.Platform, 0, len(c.Platforms))
	for _, raw := range c.Platforms {
		p, ok := model.ParsePlatform(raw)
		if !ok {
			return nil, fmt.Errorf("unknown platform %q (expected web, mobile or desktop)", raw)
		}
		out = append(out, p)
	}
	return out, nil
}

func platformNames(platforms []model.Platform) []string {
	out := make([]string, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, string(p))
	}
	return out
}
