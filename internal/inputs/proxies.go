package inputs

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

var proxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// ReadProxies reads one proxy URL per whitespace-separated token. A missing
// path yields no proxies.
func ReadProxies(path string) ([]string, []string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read proxies file %s: %w", path, err)
	}

	var proxies, invalid []string
	seen := map[string]bool{}
	for i, token := range strings.Fields(string(data)) {
		proxy, err := ParseProxy(token)
		if err != nil {
			invalid = append(invalid, fmt.Sprintf("entry %d: %s", i+1, token))
			continue
		}
		if seen[proxy] {
			continue
		}
		seen[proxy] = true
		proxies = append(proxies, proxy)
	}
	return proxies, invalid, nil
}

// ParseProxy validates a proxy URL and returns it without a trailing slash.
func ParseProxy(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if !proxySchemes[strings.ToLower(u.Scheme)] {
		return "", fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("proxy %q has no host", raw)
	}
	return strings.TrimSuffix(u.String(), "/"), nil
}
