package teams

import (
	"context"
	"os"
	"path/filepath"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// SpawnParams are the caller-supplied arguments to SpawnTeammate.
type SpawnParams struct {
	TeamName           string
	Name               string
	Template           string
	Model              string
	Prompt             string
	CustomInstructions string
	PlanModeRequired   bool
	Backend            Backend
	Cwd                string
	SubagentType       string
	AgentHost          string // identity dir name, e.g. "claude"
	SessionTarget      string   // tmux session/window to split from (terminal backend)
	AgentCommand       []string // the external agent binary + args, opaque to this package
	DesktopExtraArgs   []string
}

// TerminalBackend launches and controls a terminal-multiplexer-backed
// teammate process. *TmuxLauncher is the production implementation; tests
// substitute a fake to avoid shelling out.
type TerminalBackend interface {
	Spawn(ctx context.Context, sessionTarget, dir string, command []string) (paneID string, err error)
	Kill(ctx context.Context, paneID string) error
	CapturePane(ctx context.Context, paneID string) (string, error)
}

// DesktopBackendLauncher launches and controls a desktop-app-backed
// teammate process. *DesktopLauncher is the production implementation.
type DesktopBackendLauncher interface {
	Spawn(ctx context.Context, dir string, args []string) (pid int, err error)
	Kill(ctx context.Context, pid int) error
}

// Spawner implements the spawn/kill lifecycle of external teammate
// processes: identity file generation, launching the backend
// process, and registering/deregistering the teammate.
type Spawner struct {
	store    *store.Store
	registry *Registry
	inbox    *Inbox
	tasks    *TaskEngine
	clock    Clock
	terminal TerminalBackend
	desktop  DesktopBackendLauncher
}

// NewSpawner wires a Spawner from its collaborators.
func NewSpawner(s *store.Store, registry *Registry, inbox *Inbox, tasks *TaskEngine, clock Clock, terminal TerminalBackend, desktop DesktopBackendLauncher) *Spawner {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Spawner{store: s, registry: registry, inbox: inbox, tasks: tasks, clock: clock, terminal: terminal, desktop: desktop}
}

// SpawnTeammate runs a five-step process: resolve template, register the
// member and its inbox, write its identity file, launch the backend
// process, and record the resulting pane/process id. Failure after the
// member is registered rolls back everything already done.
func (s *Spawner) SpawnTeammate(ctx context.Context, leadAgentID string, p SpawnParams) (*Teammate, error) {
	identity, err := RenderIdentity(p.Template, p.Name, p.TeamName, p.Model, p.CustomInstructions)
	if err != nil {
		return nil, err
	}

	teammate, err := s.registry.AddMember(p.TeamName, func(colorIndex int) (*Teammate, error) {
		return NewTeammate(TeammateParams{
			Name:             p.Name,
			TeamName:         p.TeamName,
			Model:            p.Model,
			Prompt:           p.Prompt,
			Color:            ColorForIndex(colorIndex),
			PlanModeRequired: p.PlanModeRequired,
			JoinedAtMs:       s.clock.NowMs(),
			Backend:          p.Backend,
			Cwd:              p.Cwd,
			SubagentType:     p.SubagentType,
		})
	})
	if err != nil {
		return nil, err
	}

	rollback := func() {
		s.registry.RemoveMember(p.TeamName, p.Name)
		s.inbox.Delete(p.TeamName, teammate.AgentIDOf())
		os.Remove(identityPath(p.Cwd, p.AgentHost, p.Name))
	}

	if err := s.inbox.Create(p.TeamName, teammate.AgentIDOf()); err != nil {
		rollback()
		return nil, err
	}
	if _, err := s.inbox.Send(p.TeamName, leadAgentID, teammate.AgentIDOf(), MessageDirect, teammate.ColorOf(), p.Prompt, "initial assignment"); err != nil {
		rollback()
		return nil, err
	}

	idPath := identityPath(p.Cwd, p.AgentHost, p.Name)
	if err := os.MkdirAll(filepath.Dir(idPath), 0o755); err != nil {
		rollback()
		return nil, teamerrors.Wrap(teamerrors.Storage, "mkdir identity dir", err)
	}
	if err := os.WriteFile(idPath, []byte(identity), 0o644); err != nil {
		rollback()
		return nil, teamerrors.Wrap(teamerrors.Storage, "write identity file", err)
	}

	launched, err := s.launch(ctx, p, idPath)
	if err != nil {
		rollback()
		return nil, err
	}

	if err := s.registry.UpdateMember(p.TeamName, launched); err != nil {
		rollback()
		return nil, err
	}
	return launched, nil
}

func (s *Spawner) launch(ctx context.Context, p SpawnParams, idPath string) (*Teammate, error) {
	team, err := s.registry.ReadTeam(p.TeamName)
	if err != nil {
		return nil, err
	}
	teammate, ok := team.FindTeammate(p.Name)
	if !ok {
		return nil, teamerrors.New(teamerrors.NotFound, "teammate %q not found after registration", p.Name)
	}

	switch p.Backend {
	case BackendTerminal:
		command := terminalLaunchCommand(p, idPath)
		paneID, err := s.terminal.Spawn(ctx, p.SessionTarget, p.Cwd, command)
		if err != nil {
			return nil, err
		}
		return teammate.WithPaneID(paneID), nil
	case BackendDesktop:
		args := append([]string{"--identity", idPath}, p.DesktopExtraArgs...)
		pid, err := s.desktop.Spawn(ctx, p.Cwd, args)
		if err != nil {
			return nil, err
		}
		return teammate.WithProcessID(pid), nil
	default:
		return nil, teamerrors.New(teamerrors.InvalidArg, "unknown backend %q", p.Backend)
	}
}

// ForceKillTeammate removes a teammate and tears down its process,
// inbox, and identity file. Killing an agent that is already gone is a
// no-op success.
func (s *Spawner) ForceKillTeammate(ctx context.Context, teamName, name, agentHost, cwd string) error {
	team, err := s.registry.ReadTeam(teamName)
	if err != nil {
		return err
	}
	teammate, ok := team.FindTeammate(name)
	if !ok {
		return nil
	}

	switch teammate.BackendOf() {
	case BackendTerminal:
		if err := s.terminal.Kill(ctx, teammate.PaneID()); err != nil {
			return err
		}
	case BackendDesktop:
		if err := s.desktop.Kill(ctx, teammate.ProcessID()); err != nil {
			return err
		}
	}

	if err := s.tasks.ClearOwner(teamName, teammate.AgentIDOf()); err != nil {
		return err
	}
	if err := s.inbox.Delete(teamName, teammate.AgentIDOf()); err != nil {
		return err
	}
	os.Remove(identityPath(cwd, agentHost, name))

	return s.registry.RemoveMember(teamName, name)
}

func identityPath(cwd, agentHost, name string) string {
	return filepath.Join(cwd, "."+agentHost, "agents", name+"."+IdentityFileExt(agentHost))
}

// terminalLaunchCommand builds the argv run inside the new pane: a 300s
// wall-clock bound around the agent binary invoked in run mode with the
// teammate's name, model, and initial prompt. Each element is passed to
// the multiplexer as its own argv entry, so no element needs shell
// quoting even though the prompt may contain spaces or quotes.
func terminalLaunchCommand(p SpawnParams, idPath string) []string {
	bin := p.AgentCommand
	if len(bin) == 0 {
		bin = []string{os.Args[0]}
	}
	command := append([]string{"timeout", "300s"}, bin...)
	command = append(command, "run", "--agent", p.Name, "--model", p.Model, "--format", "json", "--", p.Prompt)
	return command
}
