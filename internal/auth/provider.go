// Package auth defines the token provider boundary: one authentication attempt
// per call, typed failures, and refresh token decoding.
package auth

import (
	"context"
	"errors"

	"steam-sessions/internal/model"
)

var (
	ErrGuardActionRequired = errors.New("guard action required")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrTimeout             = errors.New("authentication timed out")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)

// Provider performs a single login for account through connection and returns
// the refresh token issued for platform. connection is a proxy URL or
// model.DirectConnection.
type Provider interface {
	Authenticate(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error)
}

type ProviderFunc func(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error)

func (f ProviderFunc) Authenticate(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
	return f(ctx, account, connection, platform)
}

// IsTerminal reports errors that no amount of retrying will fix.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrGuardActionRequired) || errors.Is(err, ErrInvalidCredentials)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// Reason maps an authentication error to a short outcome reason for reports.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrGuardActionRequired):
		return "guard_action_required"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limited"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transient"
	}
}
