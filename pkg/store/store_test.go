package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

type sample struct {
	Name string `json:"name"`
	N    int    `json:"n"`
}

func TestWriteJSONThenReadJSONRoundTrips(t *testing.T) {
	s := New(t.TempDir())
	path := filepath.Join(s.Root(), "teams", "demo", "config.json")

	want := sample{Name: "demo", N: 3}
	if err := s.WriteJSON(path, want); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var got sample
	if err := s.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestWriteJSONLeavesNoTempFile(t *testing.T) {
	s := New(t.TempDir())
	path := filepath.Join(s.Root(), "teams", "demo", "config.json")
	if err := s.WriteJSON(path, sample{Name: "x"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "config.json" {
			t.Errorf("unexpected leftover file: %s", e.Name())
		}
	}
}

func TestReadJSONMissingFileIsNotFound(t *testing.T) {
	s := New(t.TempDir())
	var got sample
	err := s.ReadJSON(filepath.Join(s.Root(), "nope.json"), &got)
	if !teamerrors.Is(err, teamerrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestWithLockSerializesConcurrentWriters(t *testing.T) {
	s := New(t.TempDir())
	lockPath := filepath.Join(s.Root(), "teams", "demo", ".lock")
	counterPath := filepath.Join(s.Root(), "teams", "demo", "counter.json")
	if err := s.WriteJSON(counterPath, sample{N: 0}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := s.WithLock(lockPath, func() error {
				var c sample
				if err := s.ReadJSON(counterPath, &c); err != nil {
					return err
				}
				c.N++
				return s.WriteJSON(counterPath, c)
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	var final sample
	if err := s.ReadJSON(counterPath, &final); err != nil {
		t.Fatalf("final read: %v", err)
	}
	if final.N != workers {
		t.Errorf("lost updates: got %d, want %d", final.N, workers)
	}
}

func TestTeamExists(t *testing.T) {
	s := New(t.TempDir())
	if s.TeamExists("demo") {
		t.Fatal("team should not exist yet")
	}
	if err := s.WriteJSON(s.TeamConfigPath("demo"), sample{Name: "demo"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !s.TeamExists("demo") {
		t.Fatal("team should exist after config write")
	}
}

func TestRemoveTeamDeletesBothDirs(t *testing.T) {
	s := New(t.TempDir())
	if err := s.EnsureTeamDirs("demo"); err != nil {
		t.Fatalf("EnsureTeamDirs: %v", err)
	}
	if err := s.WriteJSON(s.TeamConfigPath("demo"), sample{Name: "demo"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := s.RemoveTeam("demo"); err != nil {
		t.Fatalf("RemoveTeam: %v", err)
	}
	if s.TeamExists("demo") {
		t.Error("team config should be gone")
	}
	if _, err := os.Stat(s.TasksDir("demo")); !os.IsNotExist(err) {
		t.Error("tasks dir should be gone")
	}
}
