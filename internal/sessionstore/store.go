package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"steam-sessions/internal/model"
)

const SessionExt = ".steamsession"

// Store reads and writes <Username>.steamsession files in one directory.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: strings.TrimSpace(dir), locks: make(map[string]*sync.Mutex)}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) PathFor(username string) string {
	return filepath.Join(s.dir, strings.TrimSpace(username)+SessionExt)
}

// Save writes one session atomically. Calls for different usernames run in
// parallel; calls for the same username are serialized.
func (s *Store) Save(ctx context.Context, session model.Session) error {
	if strings.TrimSpace(session.Username) == "" {
		return errors.New("save session: username is required")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save session %s: %w", session.Username, err)
	}
	if session.SchemaVersion == 0 {
		session.SchemaVersion = model.SessionSchemaVersion
	}

	lock := s.lockFor(session.Username)
	lock.Lock()
	defer lock.Unlock()

	if err := WriteJSON(s.PathFor(session.Username), session, 0o600); err != nil {
		return fmt.Errorf("save session %s: %w", session.Username, err)
	}
	return nil
}

// LoadExisting reads every session file in the directory. Files that fail to
// parse are reported in the second return value and skipped. A missing
// directory yields no sessions.
func (s *Store) LoadExisting(ctx context.Context) ([]model.Session, []error, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.Session{}, nil, nil
		}
		return nil, nil, fmt.Errorf("read sessions directory %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), SessionExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	sessions := make([]model.Session, 0, len(names))
	var bad []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		path := filepath.Join(s.dir, name)
		var session model.Session
		if err := ReadJSON(path, &session); err != nil {
			bad = append(bad, err)
			continue
		}
		if err := checkSession(session); err != nil {
			bad = append(bad, fmt.Errorf("%s: %w", path, err))
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, bad, nil
}

// LoadByUsername indexes LoadExisting by lowercase username.
func (s *Store) LoadByUsername(ctx context.Context) (map[string]model.Session, []error, error) {
	sessions, bad, err := s.LoadExisting(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make(map[string]model.Session, len(sessions))
	for _, session := range sessions {
		out[model.UsernameKey(session.Username)] = session
	}
	return out, bad, nil
}

func checkSession(session model.Session) error {
	if strings.TrimSpace(session.Username) == "" {
		return errors.New("username is missing")
	}
	if session.SchemaVersion < 1 {
		return fmt.Errorf("unsupported schema version %d", session.SchemaVersion)
	}
	return nil
}

func (s *Store) lockFor(username string) *sync.Mutex {
	key := model.UsernameKey(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
