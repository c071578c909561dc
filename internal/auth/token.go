package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Issuer   string
	Subject  string
	Audience []string
	Expiry   int64
}

func (c Claims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0)
}

var tokenParser = jwt.NewParser()

// DecodeToken reads the payload of a JWT-shaped refresh token without
// verifying its signature.
func DecodeToken(token string) (Claims, error) {
	var registered jwt.RegisteredClaims
	if _, _, err := tokenParser.ParseUnverified(strings.TrimSpace(token), &registered); err != nil {
		return Claims{}, fmt.Errorf("decode token: %w", err)
	}
	if registered.Subject == "" || registered.ExpiresAt == nil || registered.ExpiresAt.Unix() <= 0 {
		return Claims{}, errors.New("decode token: missing sub or exp")
	}
	return Claims{
		Issuer:   registered.Issuer,
		Subject:  registered.Subject,
		Audience: registered.Audience,
		Expiry:   registered.ExpiresAt.Unix(),
	}, nil
}
