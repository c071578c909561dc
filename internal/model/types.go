package model

import (
	"strings"
	"time"
)

const SessionSchemaVersion = 3

const (
	ActionCreate = "create"
	ActionRenew  = "renew"
)

const (
	OutcomeSuccess = "success"
	OutcomeFail    = "fail"
	OutcomeSkip    = "skip"
)

// DirectConnection identifies requests sent without a proxy.
const DirectConnection = "direct"

type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformMobile  Platform = "mobile"
	PlatformDesktop Platform = "desktop"
)

var DefaultPlatforms = []Platform{PlatformWeb, PlatformMobile, PlatformDesktop}

func ParsePlatform(raw string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformWeb:
		return PlatformWeb, true
	case PlatformMobile:
		return PlatformMobile, true
	case PlatformDesktop:
		return PlatformDesktop, true
	default:
		return "", false
	}
}

type Account struct {
	Username       string `json:"username"`
	Password       string `json:"-"`
	SharedSecret   string `json:"-"`
	IdentitySecret string `json:"-"`
}

// Key is the case-insensitive lookup key used for accounts, secrets and sessions.
func (a Account) Key() string {
	return UsernameKey(a.Username)
}

func UsernameKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Session is the persisted credential bundle, one file per account.
type Session struct {
	Username            string `json:"Username"`
	Password            string `json:"Password"`
	SteamID             string `json:"SteamId"`
	SharedSecret        string `json:"SharedSecret"`
	IdentitySecret      string `json:"IdentitySecret"`
	WebRefreshToken     string `json:"WebRefreshToken"`
	MobileRefreshToken  string `json:"MobileRefreshToken"`
	DesktopRefreshToken string `json:"DesktopRefreshToken"`
	Proxy               string `json:"Proxy"`
	SchemaVersion       int    `json:"SchemaVersion"`
}

func (s Session) Token(p Platform) string {
	switch p {
	case PlatformWeb:
		return s.WebRefreshToken
	case PlatformMobile:
		return s.MobileRefreshToken
	case PlatformDesktop:
		return s.DesktopRefreshToken
	default:
		return ""
	}
}

func (s *Session) SetToken(p Platform, token string) {
	switch p {
	case PlatformWeb:
		s.WebRefreshToken = token
	case PlatformMobile:
		s.MobileRefreshToken = token
	case PlatformDesktop:
		s.DesktopRefreshToken = token
	}
}

func (s Session) Account() Account {
	return Account{
		Username:       s.Username,
		Password:       s.Password,
		SharedSecret:   s.SharedSecret,
		IdentitySecret: s.IdentitySecret,
	}
}

// Job is one scheduled create or renew. Everything below Status is progress
// state owned by the scheduler while the job runs.
type Job struct {
	ID       string   `json:"id"`
	Action   string   `json:"action"`
	Account  Account  `json:"account"`
	Existing *Session `json:"-"`

	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	Retries    int       `json:"retries,omitempty"`
	Connection string    `json:"connection,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}
