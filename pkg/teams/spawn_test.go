package teams

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

type fakeTerminal struct {
	paneID   string
	killed   []string
	captured string
	spawnErr error
}

func (f *fakeTerminal) Spawn(ctx context.Context, sessionTarget, dir string, command []string) (string, error) {
	if f.spawnErr != nil {
		return "", f.spawnErr
	}
	return f.paneID, nil
}

func (f *fakeTerminal) Kill(ctx context.Context, paneID string) error {
	f.killed = append(f.killed, paneID)
	return nil
}

func (f *fakeTerminal) CapturePane(ctx context.Context, paneID string) (string, error) {
	return f.captured, nil
}

type fakeDesktop struct {
	pid      int
	killed   []int
	spawnErr error
}

func (f *fakeDesktop) Spawn(ctx context.Context, dir string, args []string) (int, error) {
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	return f.pid, nil
}

func (f *fakeDesktop) Kill(ctx context.Context, pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

type spawnerFixture struct {
	spawner  *Spawner
	registry *Registry
	inbox    *Inbox
	tasks    *TaskEngine
	terminal *fakeTerminal
	desktop  *fakeDesktop
}

func newSpawnerFixture(t *testing.T) *spawnerFixture {
	t.Helper()
	s := store.New(t.TempDir())
	clock := &fakeClock{}
	registry := NewRegistry(s, clock)
	inbox := NewInbox(s, clock)
	tasks := NewTaskEngine(s, clock)
	terminal := &fakeTerminal{paneID: "%1"}
	desktop := &fakeDesktop{pid: 4242}
	return &spawnerFixture{
		spawner:  NewSpawner(s, registry, inbox, tasks, clock, terminal, desktop),
		registry: registry,
		inbox:    inbox,
		tasks:    tasks,
		terminal: terminal,
		desktop:  desktop,
	}
}

func TestSpawnTeammateTerminalBackend(t *testing.T) {
	fx := newSpawnerFixture(t)
	fx.registry.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	cwd := t.TempDir()

	tm, err := fx.spawner.SpawnTeammate(context.Background(), "lead@alpha", SpawnParams{
		TeamName:      "alpha",
		Name:          "bob",
		Template:      "implementer",
		Backend:       BackendTerminal,
		Cwd:           cwd,
		AgentHost:     "claude",
		SessionTarget: "alpha:0",
	})
	if err != nil {
		t.Fatalf("SpawnTeammate: %v", err)
	}
	if tm.PaneID() != "%1" {
		t.Fatalf("expected pane id %%1, got %q", tm.PaneID())
	}

	idPath := filepath.Join(cwd, ".claude", "agents", "bob.md")
	data, err := os.ReadFile(idPath)
	if err != nil {
		t.Fatalf("expected identity file, got %v", err)
	}
	if len(data) < 1000 {
		t.Fatalf("expected identity file >= 1000 bytes, got %d", len(data))
	}

	team, err := fx.registry.ReadTeam("alpha")
	if err != nil {
		t.Fatalf("ReadTeam: %v", err)
	}
	if _, ok := team.FindTeammate("bob"); !ok {
		t.Fatal("expected bob registered on the team")
	}
}

func TestSpawnTeammateUnknownTemplateDoesNotMutate(t *testing.T) {
	fx := newSpawnerFixture(t)
	fx.registry.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	cwd := t.TempDir()

	_, err := fx.spawner.SpawnTeammate(context.Background(), "lead@alpha", SpawnParams{
		TeamName: "alpha", Name: "bob", Template: "nonexistent", Backend: BackendTerminal, Cwd: cwd, AgentHost: "claude",
	})
	if !teamerrors.Is(err, teamerrors.UnknownTemplate) {
		t.Fatalf("expected UnknownTemplate, got %v", err)
	}
	team, _ := fx.registry.ReadTeam("alpha")
	if _, ok := team.FindTeammate("bob"); ok {
		t.Fatal("expected no teammate registered after template resolution failure")
	}
}

func TestSpawnTeammateLaunchFailureRollsBack(t *testing.T) {
	fx := newSpawnerFixture(t)
	fx.registry.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	fx.terminal.spawnErr = teamerrors.New(teamerrors.Spawn, "boom")
	cwd := t.TempDir()

	_, err := fx.spawner.SpawnTeammate(context.Background(), "lead@alpha", SpawnParams{
		TeamName: "alpha", Name: "bob", Template: "implementer", Backend: BackendTerminal, Cwd: cwd, AgentHost: "claude",
	})
	if err == nil {
		t.Fatal("expected launch failure to propagate")
	}

	team, _ := fx.registry.ReadTeam("alpha")
	if _, ok := team.FindTeammate("bob"); ok {
		t.Fatal("expected rollback to remove the teammate")
	}
	idPath := filepath.Join(cwd, ".claude", "agents", "bob.md")
	if _, statErr := os.Stat(idPath); !os.IsNotExist(statErr) {
		t.Fatal("expected rollback to remove the identity file")
	}
}

func TestForceKillTeammateIsIdempotent(t *testing.T) {
	fx := newSpawnerFixture(t)
	fx.registry.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	cwd := t.TempDir()
	fx.spawner.SpawnTeammate(context.Background(), "lead@alpha", SpawnParams{
		TeamName: "alpha", Name: "bob", Template: "implementer", Backend: BackendTerminal, Cwd: cwd, AgentHost: "claude", SessionTarget: "alpha:0",
	})

	if err := fx.spawner.ForceKillTeammate(context.Background(), "alpha", "bob", "claude", cwd); err != nil {
		t.Fatalf("first ForceKillTeammate: %v", err)
	}
	if err := fx.spawner.ForceKillTeammate(context.Background(), "alpha", "bob", "claude", cwd); err != nil {
		t.Fatalf("second ForceKillTeammate should be a no-op success, got %v", err)
	}
	if len(fx.terminal.killed) != 1 {
		t.Fatalf("expected exactly one kill-pane call, got %d", len(fx.terminal.killed))
	}

	team, _ := fx.registry.ReadTeam("alpha")
	if _, ok := team.FindTeammate("bob"); ok {
		t.Fatal("expected bob removed from the team")
	}
}

func TestForceKillTeammateClearsOwnedTasks(t *testing.T) {
	fx := newSpawnerFixture(t)
	fx.registry.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	cwd := t.TempDir()
	fx.spawner.SpawnTeammate(context.Background(), "lead@alpha", SpawnParams{
		TeamName: "alpha", Name: "bob", Template: "implementer", Backend: BackendTerminal, Cwd: cwd, AgentHost: "claude", SessionTarget: "alpha:0",
	})

	task, _ := fx.tasks.CreateTask("alpha", "do thing", "", nil)
	owner := "bob@alpha"
	fx.tasks.UpdateTask("alpha", task.ID, TaskUpdate{Owner: &owner})

	if err := fx.spawner.ForceKillTeammate(context.Background(), "alpha", "bob", "claude", cwd); err != nil {
		t.Fatalf("ForceKillTeammate: %v", err)
	}

	got, err := fx.tasks.GetTask("alpha", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Owner != "" {
		t.Fatalf("expected owner cleared, got %q", got.Owner)
	}
}
