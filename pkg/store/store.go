// Package store owns the on-disk layout for the coordination substrate:
// atomic JSON writes and advisory exclusive locks. It holds no domain
// logic — callers pass and receive plain values or raw JSON.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// Store resolves paths under a configurable root and performs atomic
// reads/writes and directory-scoped locking against it.
type Store struct {
	root string
}

// New creates a Store rooted at root. The root is created lazily by
// whichever write first needs it.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the configured root directory.
func (s *Store) Root() string { return s.root }

// --- path resolution ---

func (s *Store) TeamDir(team string) string { return filepath.Join(s.root, "teams", team) }

func (s *Store) TeamConfigPath(team string) string {
	return filepath.Join(s.TeamDir(team), "config.json")
}

func (s *Store) InboxesDir(team string) string {
	return filepath.Join(s.TeamDir(team), "inboxes")
}

func (s *Store) InboxPath(team, agent string) string {
	return filepath.Join(s.InboxesDir(team), agent+".json")
}

func (s *Store) InboxesLockPath(team string) string {
	return filepath.Join(s.InboxesDir(team), ".lock")
}

func (s *Store) HealthPath(team string) string {
	return filepath.Join(s.TeamDir(team), "health.json")
}

func (s *Store) TeamConfigLockPath(team string) string {
	return filepath.Join(s.TeamDir(team), ".lock")
}

func (s *Store) TasksDir(team string) string { return filepath.Join(s.root, "tasks", team) }

func (s *Store) TaskPath(team string, id int) string {
	return filepath.Join(s.TasksDir(team), taskFileName(id))
}

func (s *Store) TasksLockPath(team string) string {
	return filepath.Join(s.TasksDir(team), ".lock")
}

func taskFileName(id int) string {
	return strconv.Itoa(id) + ".json"
}

// --- existence / lifecycle ---

// TeamExists reports whether a team's config file is present.
func (s *Store) TeamExists(team string) bool {
	_, err := os.Stat(s.TeamConfigPath(team))
	return err == nil
}

// EnsureTeamDirs creates the directory tree for a new team.
func (s *Store) EnsureTeamDirs(team string) error {
	for _, dir := range []string{s.TeamDir(team), s.InboxesDir(team), s.TasksDir(team)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return teamerrors.Wrap(teamerrors.Storage, "create directory "+dir, err)
		}
	}
	return nil
}

// RemoveTeam deletes a team's config/inbox tree and its task directory.
func (s *Store) RemoveTeam(team string) error {
	if err := os.RemoveAll(s.TeamDir(team)); err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "remove team dir", err)
	}
	if err := os.RemoveAll(s.TasksDir(team)); err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "remove tasks dir", err)
	}
	return nil
}

// --- atomic JSON I/O ---

// WriteJSON serializes v and atomically replaces path: write to a sibling
// temp file, fsync, then rename over the destination. The temp file is
// unlinked on any failure.
func (s *Store) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "marshal "+path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "mkdir "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "create temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return teamerrors.Wrap(teamerrors.Storage, "write temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return teamerrors.Wrap(teamerrors.Storage, "fsync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return teamerrors.Wrap(teamerrors.Storage, "close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return teamerrors.Wrap(teamerrors.Storage, "rename into place", err)
	}
	return nil
}

// ReadJSON reads path and unmarshals it into v. Returns an *teamerrors.Error
// of Kind NotFound if the file does not exist, Storage for any other I/O or
// decode failure.
func (s *Store) ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return teamerrors.Wrap(teamerrors.NotFound, "read "+path, err)
		}
		return teamerrors.Wrap(teamerrors.Storage, "read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return teamerrors.Wrap(teamerrors.Storage, "parse "+path, err)
	}
	return nil
}

// --- scoped lock acquisition ---

// Lock is a held advisory exclusive lock over one lock file. Release it
// exactly once, on every exit path, via Unlock.
type Lock struct {
	fl *flock.Flock
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	return l.fl.Unlock()
}

// AcquireLock blocks until it holds the exclusive advisory lock at path,
// creating the lock file (and its directory) if absent.
func (s *Store) AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, teamerrors.Wrap(teamerrors.Storage, "mkdir for lock "+path, err)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, teamerrors.Wrap(teamerrors.Storage, "acquire lock "+path, err)
	}
	return &Lock{fl: fl}, nil
}

// WithLock acquires the lock at path, runs fn, and releases the lock on
// every exit path including a panic or error from fn. fn should do file
// I/O only — no subprocess spawn, sleep, or network calls while holding
// the lock.
func (s *Store) WithLock(path string, fn func() error) error {
	lock, err := s.AcquireLock(path)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}
