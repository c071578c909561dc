package inputs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"steam-sessions/internal/model"
)

// Secrets are the authenticator seeds for one account.
type Secrets struct {
	Username       string
	SharedSecret   string
	IdentitySecret string
}

var reTrailingComma = regexp.MustCompile(`},\s*}`)

// ReadSecrets reads .maFile and ASF .db files. Directories are scanned one
// level deep for those extensions. The result is keyed by lowercase username.
func ReadSecrets(inputs []string) (map[string]Secrets, []string, error) {
	out := make(map[string]Secrets)
	var invalid []string
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		files, err := expandSecretInput(input)
		if err != nil {
			invalid = append(invalid, input)
			continue
		}
		for _, path := range files {
			s, err := readSecretsFile(path)
			if err != nil {
				invalid = append(invalid, path)
				continue
			}
			key := model.UsernameKey(s.Username)
			if _, dup := out[key]; !dup {
				out[key] = s
			}
		}
	}
	return out, invalid, nil
}

func expandSecretInput(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}
	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, fmt.Errorf("read secrets directory %s: %w", input, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mafile", ".db":
			files = append(files, filepath.Join(input, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func readSecretsFile(path string) (Secrets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Secrets{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mafile":
		return ParseMaFile(data)
	case ".db":
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return parseASFDatabase(data, name)
	default:
		return Secrets{}, fmt.Errorf("unsupported secrets file %s", path)
	}
}

// ParseMaFile reads an SDA-style maFile. Trailing commas before a closing
// brace, which some exporters write, are tolerated.
func ParseMaFile(data []byte) (Secrets, error) {
	content := reTrailingComma.ReplaceAllString(strings.TrimSpace(string(data)), "}}")
	var raw struct {
		SharedSecret   string `json:"shared_secret"`
		IdentitySecret string `json:"identity_secret"`
		AccountName    string `json:"account_name"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Secrets{}, fmt.Errorf("parse maFile: %w", err)
	}
	return newSecrets(raw.AccountName, raw.SharedSecret, raw.IdentitySecret)
}

func parseASFDatabase(data []byte, username string) (Secrets, error) {
	var raw struct {
		Authenticator *struct {
			SharedSecret   string `json:"shared_secret"`
			IdentitySecret string `json:"identity_secret"`
		} `json:"_MobileAuthenticator"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Secrets{}, fmt.Errorf("parse ASF database: %w", err)
	}
	if raw.Authenticator == nil {
		return Secrets{}, errors.New("ASF database has no mobile authenticator")
	}
	return newSecrets(username, raw.Authenticator.SharedSecret, raw.Authenticator.IdentitySecret)
}

func newSecrets(username, shared, identity string) (Secrets, error) {
	switch {
	case shared == "":
		return Secrets{}, errors.New("shared secret is missing")
	case identity == "":
		return Secrets{}, errors.New("identity secret is missing")
	case strings.TrimSpace(username) == "":
		return Secrets{}, errors.New("account name is missing")
	}
	return Secrets{Username: strings.TrimSpace(username), SharedSecret: shared, IdentitySecret: identity}, nil
}
