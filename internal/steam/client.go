// Package steam implements the token provider against Steam's
// IAuthenticationService web API.
package steam

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/op/go-logging"

	"steam-sessions/internal/auth"
	"steam-sessions/internal/model"
)

var log = logging.MustGetLogger("steam")

const (
	DefaultBaseURL     = "https://api.steampowered.com"
	defaultHTTPTimeout = 30 * time.Second
	defaultPoll        = 5 * time.Second
	maxResponseBytes   = 1 << 20
)

// EResult values the provider reacts to.
const (
	eresultOK                = 1
	eresultInvalidPassword   = 5
	eresultAccessDenied      = 15
	eresultRateLimitExceeded = 84
)

// Confirmation types offered by BeginAuthSessionViaCredentials.
const (
	confirmationNone       = 1
	confirmationDeviceCode = 3
)

// EResultError is a call that came back with a non-OK X-eresult header.
type EResultError struct {
	Method  string
	EResult int
	Message string
}

func (e *EResultError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: eresult %d (%s)", e.Method, e.EResult, e.Message)
	}
	return fmt.Sprintf("%s: eresult %d", e.Method, e.EResult)
}

func (e *EResultError) Unwrap() error {
	switch e.EResult {
	case eresultRateLimitExceeded:
		return auth.ErrRateLimitExceeded
	case eresultInvalidPassword, eresultAccessDenied:
		return auth.ErrInvalidCredentials
	default:
		return nil
	}
}

type Options struct {
	BaseURL     string
	HTTPTimeout time.Duration
	// PollInterval overrides the interval the server asks for when > 0.
	PollInterval time.Duration
	DeviceName   string
	Now          func() time.Time
}

// Client is safe for concurrent use. HTTP clients are cached per connection.
type Client struct {
	baseURL      string
	httpTimeout  time.Duration
	pollInterval time.Duration
	deviceName   string
	now          func() time.Time

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(firstNonEmpty(opts.BaseURL, DefaultBaseURL), "/"),
		httpTimeout:  opts.HTTPTimeout,
		pollInterval: opts.PollInterval,
		deviceName:   firstNonEmpty(opts.DeviceName, "steam-sessions"),
		now:          opts.Now,
		clients:      make(map[string]*http.Client),
	}
	if c.httpTimeout <= 0 {
		c.httpTimeout = defaultHTTPTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type platformInfo struct {
	platformType int
	websiteID    string
}

func lookupPlatform(p model.Platform) (platformInfo, error) {
	switch p {
	case model.PlatformDesktop:
		return platformInfo{platformType: 1, websiteID: "Client"}, nil
	case model.PlatformWeb:
		return platformInfo{platformType: 2, websiteID: "Community"}, nil
	case model.PlatformMobile:
		return platformInfo{platformType: 3, websiteID: "Mobile"}, nil
	default:
		return platformInfo{}, fmt.Errorf("unknown platform %q", p)
	}
}

// Authenticate logs account in through connection and returns the refresh
// token issued for platform. ctx bounds the whole exchange.
func (c *Client) Authenticate(ctx context.Context, account model.Account, connection string, platform model.Platform) (string, error) {
	info, err := lookupPlatform(platform)
	if err != nil {
		return "", err
	}
	hc, err := c.httpClient(connection)
	if err != nil {
		return "", err
	}

	key, err := c.passwordKey(ctx, hc, account.Username)
	if err != nil {
		return "", err
	}
	encrypted, err := encryptPassword(key, account.Password)
	if err != nil {
		return "", err
	}

	begin, err := c.beginSession(ctx, hc, account.Username, encrypted, key.timestamp, info)
	if err != nil {
		return "", err
	}

	if !begin.allows(confirmationNone) {
		if !begin.allows(confirmationDeviceCode) || account.SharedSecret == "" {
			return "", fmt.Errorf("login %s: %w", account.Username, auth.ErrGuardActionRequired)
		}
		code, err := GenerateAuthCode(account.SharedSecret, c.now())
		if err != nil {
			return "", fmt.Errorf("login %s: %w", account.Username, err)
		}
		if err := c.submitGuardCode(ctx, hc, begin, code); err != nil {
			return "", err
		}
	}

	return c.pollRefreshToken(ctx, hc, begin)
}

func (c *Client) httpClient(connection string) (*http.Client, error) {
	key := strings.TrimSpace(connection)
	if key == "" {
		key = model.DirectConnection
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc, nil
	}
	hc, err := newHTTPClient(key, c.httpTimeout)
	if err != nil {
		return nil, err
	}
	c.clients[key] = hc
	return hc, nil
}

type rsaKey struct {
	pub       *rsa.PublicKey
	timestamp string
}

func (c *Client) passwordKey(ctx context.Context, hc *http.Client, username string) (rsaKey, error) {
	var resp struct {
		Response struct {
			Mod       string `json:"publickey_mod"`
			Exp       string `json:"publickey_exp"`
			Timestamp string `json:"timestamp"`
		} `json:"response"`
	}
	q := url.Values{"account_name": {username}}
	if err := c.call(ctx, hc, http.MethodGet, "GetPasswordRSAPublicKey", q, &resp); err != nil {
		return rsaKey{}, err
	}
	mod, ok := new(big.Int).SetString(resp.Response.Mod, 16)
	if !ok {
		return rsaKey{}, errors.New("GetPasswordRSAPublicKey: bad modulus")
	}
	exp, err := strconv.ParseInt(resp.Response.Exp, 16, 32)
	if err != nil {
		return rsaKey{}, fmt.Errorf("GetPasswordRSAPublicKey: bad exponent: %w", err)
	}
	return rsaKey{pub: &rsa.PublicKey{N: mod, E: int(exp)}, timestamp: resp.Response.Timestamp}, nil
}

func encryptPassword(key rsaKey, password string) (string, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, key.pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypt password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

type beginResult struct {
	ClientID      string  `json:"client_id"`
	RequestID     string  `json:"request_id"`
	Interval      float64 `json:"interval"`
	SteamID       string  `json:"steamid"`
	Confirmations []struct {
		Type int `json:"confirmation_type"`
	} `json:"allowed_confirmations"`
}

func (b beginResult) allows(kind int) bool {
	for _, c := range b.Confirmations {
		if c.Type == kind {
			return true
		}
	}
	return false
}

func (c *Client) beginSession(ctx context.Context, hc *http.Client, username, encrypted, timestamp string, info platformInfo) (beginResult, error) {
	form := url.Values{
		"account_name":         {username},
		"encrypted_password":   {encrypted},
		"encryption_timestamp": {timestamp},
		"remember_login":       {"true"},
		"persistence":          {"1"},
		"platform_type":        {strconv.Itoa(info.platformType)},
		"website_id":           {info.websiteID},
		"device_friendly_name": {c.deviceName},
	}
	var resp struct {
		Response beginResult `json:"response"`
	}
	if err := c.call(ctx, hc, http.MethodPost, "BeginAuthSessionViaCredentials", form, &resp); err != nil {
		return beginResult{}, err
	}
	if resp.Response.ClientID == "" || resp.Response.RequestID == "" {
		return beginResult{}, errors.New("BeginAuthSessionViaCredentials: empty session")
	}
	return resp.Response, nil
}

func (c *Client) submitGuardCode(ctx context.Context, hc *http.Client, begin beginResult, code string) error {
	form := url.Values{
		"client_id": {begin.ClientID},
		"steamid":   {begin.SteamID},
		"code":      {code},
		"code_type": {strconv.Itoa(confirmationDeviceCode)},
	}
	return c.call(ctx, hc, http.MethodPost, "UpdateAuthSessionWithSteamGuardCode", form, nil)
}

func (c *Client) pollRefreshToken(ctx context.Context, hc *http.Client, begin beginResult) (string, error) {
	interval := c.pollInterval
	if interval <= 0 {
		interval = time.Duration(begin.Interval * float64(time.Second))
	}
	if interval <= 0 {
		interval = defaultPoll
	}
	form := url.Values{
		"client_id":  {begin.ClientID},
		"request_id": {begin.RequestID},
	}

	for {
		var resp struct {
			Response struct {
				RefreshToken string `json:"refresh_token"`
				AccountName  string `json:"account_name"`
			} `json:"response"`
		}
		if err := c.call(ctx, hc, http.MethodPost, "PollAuthSessionStatus", form, &resp); err != nil {
			return "", err
		}
		if resp.Response.RefreshToken != "" {
			return resp.Response.RefreshToken, nil
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("PollAuthSessionStatus: %w", auth.ErrTimeout)
			}
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, name string, params url.Values, out any) error {
	endpoint := c.baseURL + "/IAuthenticationService/" + name + "/v1"

	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return fmt.Errorf("%s: build request: %w", name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", name, auth.ErrTimeout)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", name, err)
	}

	if raw := resp.Header.Get("X-eresult"); raw != "" {
		if code, perr := strconv.Atoi(raw); perr == nil && code != eresultOK {
			log.Debugf("%s returned eresult %d", name, code)
			return &EResultError{Method: name, EResult: code, Message: resp.Header.Get("X-error_message")}
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: http %d: %w", name, resp.StatusCode, auth.ErrRateLimitExceeded)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: http %d", name, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", name, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
