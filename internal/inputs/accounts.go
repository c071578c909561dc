// Package inputs parses account lists, authenticator secrets and proxy lists.
// Each reader returns the values it could parse plus the sources it could not.
package inputs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"steam-sessions/internal/model"
)

// ReadAccounts accepts account files and inline "user:pass[:shared[:identity]]"
// strings. Later duplicates of a username are dropped.
func ReadAccounts(inputs []string) ([]model.Account, []string, error) {
	var accounts []model.Account
	var invalid []string
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		info, err := os.Stat(input)
		switch {
		case err == nil && info.IsDir():
			invalid = append(invalid, input)
		case err == nil:
			values, bad, err := readAccountsFile(input)
			if err != nil {
				return nil, nil, err
			}
			accounts = append(accounts, values...)
			invalid = append(invalid, bad...)
		default:
			account, perr := ParseAccountLine(input)
			if perr != nil {
				invalid = append(invalid, input)
				continue
			}
			accounts = append(accounts, account)
		}
	}
	return dedupeAccounts(accounts), invalid, nil
}

func readAccountsFile(path string) ([]model.Account, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read accounts file %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, []string{path}, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") && strings.Contains(content, `"SteamLogin"`) {
		account, err := parseASFConfig(content)
		if err != nil {
			return nil, []string{path}, nil
		}
		return []model.Account{account}, nil, nil
	}
	if !strings.Contains(content, ":") {
		return nil, []string{path}, nil
	}

	var accounts []model.Account
	var invalid []string
	for _, line := range strings.Fields(content) {
		account, err := ParseAccountLine(line)
		if err != nil {
			invalid = append(invalid, line)
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, invalid, nil
}

// ParseAccountLine parses "username:password[:sharedSecret[:identitySecret]]".
func ParseAccountLine(line string) (model.Account, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return model.Account{}, errors.New("empty account line")
	}
	parts := strings.Split(line, ":")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 2 || len(parts) > 4 || parts[0] == "" || parts[1] == "" {
		return model.Account{}, errors.New("expected username:password[:sharedSecret[:identitySecret]]")
	}

	account := model.Account{Username: parts[0], Password: parts[1]}
	if len(parts) > 2 && parts[2] != "" {
		if !isBase64(parts[2]) {
			return model.Account{}, errors.New("shared secret is not valid base64")
		}
		account.SharedSecret = parts[2]
	}
	if len(parts) > 3 && parts[3] != "" {
		if !isBase64(parts[3]) {
			return model.Account{}, errors.New("identity secret is not valid base64")
		}
		account.IdentitySecret = parts[3]
	}
	return account, nil
}

func parseASFConfig(content string) (model.Account, error) {
	var cfg struct {
		SteamLogin    string `json:"SteamLogin"`
		SteamPassword string `json:"SteamPassword"`
	}
	if err := json.Unmarshal([]byte(content), &cfg); err != nil {
		return model.Account{}, err
	}
	if cfg.SteamLogin == "" || cfg.SteamPassword == "" {
		return model.Account{}, errors.New("SteamLogin and SteamPassword are required")
	}
	return model.Account{Username: cfg.SteamLogin, Password: cfg.SteamPassword}, nil
}

func dedupeAccounts(in []model.Account) []model.Account {
	out := make([]model.Account, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, a := range in {
		key := a.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func isBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// MergeSecrets fills missing secrets on accounts from the secrets index.
func MergeSecrets(accounts []model.Account, secrets map[string]Secrets) []model.Account {
	out := make([]model.Account, len(accounts))
	for i, a := range accounts {
		if s, ok := secrets[a.Key()]; ok {
			if a.SharedSecret == "" {
				a.SharedSecret = s.SharedSecret
			}
			if a.IdentitySecret == "" {
				a.IdentitySecret = s.IdentitySecret
			}
		}
		out[i] = a
	}
	return out
}

// MergeSessionSecrets fills missing secrets on stored sessions in place.
func MergeSessionSecrets(sessions map[string]model.Session, secrets map[string]Secrets) {
	for key, session := range sessions {
		s, ok := secrets[key]
		if !ok {
			continue
		}
		if session.SharedSecret == "" {
			session.SharedSecret = s.SharedSecret
		}
		if session.IdentitySecret == "" {
			session.IdentitySecret = s.IdentitySecret
		}
		sessions[key] = session
	}
}
