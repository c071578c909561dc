package sessionstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockDirName   = ".steam-sessions.lock"
	lockOwnerFile = "owner.json"
)

// ErrDirLocked is returned when another run already owns the sessions directory.
var ErrDirLocked = errors.New("sessions directory is locked")

// DirLock keeps a second run from writing into the same sessions directory.
type DirLock struct {
	path  string
	owner LockOwner
}

type LockOwner struct {
	RunID    string    `json:"run_id,omitempty"`
	PID      int       `json:"pid"`
	Hostname string    `json:"hostname,omitempty"`
	Since    time.Time `json:"since"`
}

func (o LockOwner) String() string {
	s := fmt.Sprintf("pid %d on %s since %s", o.PID, o.Hostname, o.Since.Format(time.RFC3339))
	if o.RunID != "" {
		s = "run " + o.RunID + ", " + s
	}
	return s
}

func AcquireDirLock(dir, runID string) (*DirLock, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("sessions directory is required")
	}
	if err := Mkdir(dir); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, lockDirName)
	if err := os.Mkdir(path, 0o755); err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock %s: %w", dir, err)
		}
		if owner, ok := ReadLockOwner(dir); ok {
			return nil, fmt.Errorf("%w: %s (%s)", ErrDirLocked, dir, owner)
		}
		return nil, fmt.Errorf("%w: %s", ErrDirLocked, dir)
	}

	owner := LockOwner{
		RunID:    runID,
		PID:      os.Getpid(),
		Hostname: hostname(),
		Since:    time.Now().UTC().Truncate(time.Second),
	}
	if err := WriteJSON(filepath.Join(path, lockOwnerFile), owner, 0o644); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("record lock owner for %s: %w", dir, err)
	}
	return &DirLock{path: path, owner: owner}, nil
}

// ReadLockOwner reports who holds the lock on dir. ok is false when the
// directory is unlocked or the owner record is unreadable.
func ReadLockOwner(dir string) (LockOwner, bool) {
	var owner LockOwner
	if err := ReadJSON(filepath.Join(dir, lockDirName, lockOwnerFile), &owner); err != nil {
		return LockOwner{}, false
	}
	return owner, owner.PID > 0
}

// IsLocked reports whether a lock directory exists, even without an owner record.
func IsLocked(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, lockDirName))
	return err == nil && info.IsDir()
}

func (l *DirLock) Owner() LockOwner {
	if l == nil {
		return LockOwner{}
	}
	return l.owner
}

func (l *DirLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.path, lockOwnerFile))
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release %s: %w", l.path, err)
	}
	l.path = ""
	return nil
}

func hostname() string {
	host, _ := os.Hostname()
	if host = strings.TrimSpace(host); host == "" {
		return "unknown"
	}
	return host
}
