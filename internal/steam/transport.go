package steam

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"steam-sessions/internal/model"
)

// newHTTPClient builds a client whose requests leave through connection.
func newHTTPClient(connection string, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 nil,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	conn := strings.TrimSpace(connection)
	if conn != "" && conn != model.DirectConnection {
		u, err := url.Parse(conn)
		if err != nil {
			return nil, fmt.Errorf("parse proxy %q: %w", conn, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: 15 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("socks proxy %q: %w", conn, err)
			}
			transport.DialContext = contextDialer(dialer)
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func contextDialer(d proxy.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}
}
