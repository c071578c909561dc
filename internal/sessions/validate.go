package sessions

import (
	"fmt"
	"time"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/model"
)

// DefaultExpiryThreshold is how far ahead a session must still be valid to be
// left alone.
const DefaultExpiryThreshold = 30 * 24 * time.Hour

// Validation is the offline verdict on one stored session.
type Validation struct {
	Username  string    `json:"username"`
	Valid     bool      `json:"valid"`
	Expiring  bool      `json:"expiring"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
	Errors    []string  `json:"errors,omitempty"`
}

// NeedsRenewal is true for broken sessions and for sessions expiring inside
// the threshold.
func (v Validation) NeedsRenewal() bool {
	return !v.Valid || v.Expiring
}

// DaysLeft rounds down; negative once expired.
func (v Validation) DaysLeft(now time.Time) int {
	if v.ExpiresAt.IsZero() {
		return 0
	}
	return int(v.ExpiresAt.Sub(now) / (24 * time.Hour))
}

// Validate checks session without touching the network. ExpiresAt is the
// earliest expiry among the required tokens.
func Validate(session model.Session, platforms []model.Platform, threshold time.Duration, now time.Time) Validation {
	if len(platforms) == 0 {
		platforms = model.DefaultPlatforms
	}
	out := Validation{Username: session.Username}

	if session.SchemaVersion != model.SessionSchemaVersion {
		out.Errors = append(out.Errors, "outdated schema version")
	}
	if session.Username == "" {
		out.Errors = append(out.Errors, "invalid username")
	}
	if session.Password == "" {
		out.Errors = append(out.Errors, "invalid password")
	}
	if session.SteamID == "" {
		out.Errors = append(out.Errors, "invalid steamId")
	}

	for _, p := range platforms {
		token := session.Token(p)
		if token == "" {
			out.Errors = append(out.Errors, fmt.Sprintf("missing %s refresh token", p))
			continue
		}
		claims, err := auth.DecodeToken(token)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("invalid %s refresh token", p))
			continue
		}
		if session.SteamID != "" && claims.Subject != session.SteamID {
			out.Errors = append(out.Errors, fmt.Sprintf("%s refresh token belongs to %s", p, claims.Subject))
		}
		exp := claims.ExpiresAt()
		if out.ExpiresAt.IsZero() || exp.Before(out.ExpiresAt) {
			out.ExpiresAt = exp
		}
	}

	if !out.ExpiresAt.IsZero() && !out.ExpiresAt.After(now) {
		out.Errors = append(out.Errors, "expired session")
	}
	out.Valid = len(out.Errors) == 0
	out.Expiring = out.Valid && out.ExpiresAt.Sub(now) < threshold
	return out
}
