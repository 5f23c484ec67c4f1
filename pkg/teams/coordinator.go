package teams

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/opencode-teams/coordinator/pkg/config"
	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// Coordinator is the single entry point a server process uses to drive
// the coordination substrate. It binds to at most one team at a time:
// CreateTeam binds it and DeleteTeam releases the binding. This is a
// one-active-team invariant, not a multi-tenant registry.
type Coordinator struct {
	store    *store.Store
	registry *Registry
	inbox    *Inbox
	tasks    *TaskEngine
	spawner  *Spawner
	health   *HealthProbe
	clock    Clock
	log      *slog.Logger

	mu   sync.Mutex
	team string
}

// NewCoordinator wires a Coordinator from a loaded Config.
func NewCoordinator(cfg *config.Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	s := store.New(cfg.RootDir)
	clock := SystemClock{}
	registry := NewRegistry(s, clock)
	inbox := NewInbox(s, clock)
	tasks := NewTaskEngine(s, clock)
	terminal := &TmuxLauncher{UseWindows: cfg.UseTmuxWindows}
	desktop := &DesktopLauncher{BinaryPath: cfg.DesktopBinaryPath}
	spawner := NewSpawner(s, registry, inbox, tasks, clock, terminal, desktop)
	health := NewHealthProbe(s, clock, terminal, nil)

	return &Coordinator{
		store: s, registry: registry, inbox: inbox, tasks: tasks,
		spawner: spawner, health: health, clock: clock, log: log,
	}
}

// ErrorEnvelope is the wire shape every coordinator error maps to.
type ErrorEnvelope struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToEnvelope converts any error returned by the Coordinator into the
// wire error envelope, falling back to "storage" for unrecognized errors.
func ToEnvelope(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	kind, ok := teamerrors.KindOf(err)
	if !ok {
		kind = teamerrors.Storage
	}
	return &ErrorEnvelope{Kind: string(kind), Message: err.Error()}
}

func (c *Coordinator) bind(team string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.team = team
}

func (c *Coordinator) boundTeam() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.team == "" {
		return "", teamerrors.New(teamerrors.InvalidArg, "no team bound to this session; call team_create first")
	}
	return c.team, nil
}

// CreateTeam creates a new team and binds this coordinator to it. Fails
// with ErrBusy if a team is already bound (one team per session).
func (c *Coordinator) CreateTeam(name, leadName, leadModel, sessionID string) (*Team, error) {
	c.mu.Lock()
	if c.team != "" {
		c.mu.Unlock()
		return nil, teamerrors.New(teamerrors.Busy, "session is already bound to team %q", c.team)
	}
	c.mu.Unlock()

	team, err := c.registry.CreateTeam(name, leadName, leadModel, sessionID)
	if err != nil {
		return nil, err
	}
	c.bind(name)
	c.log.Info("team created", "team", name, "lead", leadName)
	return team, nil
}

// DeleteTeam deletes the bound team, unbinding this coordinator on success.
func (c *Coordinator) DeleteTeam() error {
	team, err := c.boundTeam()
	if err != nil {
		return err
	}
	if err := c.registry.DeleteTeam(team); err != nil {
		return err
	}
	c.bind("")
	c.log.Info("team deleted", "team", team)
	return nil
}

// ReadConfig returns the bound team's full configuration.
func (c *Coordinator) ReadConfig() (*Team, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.registry.ReadTeam(team)
}

// SpawnTeammate spawns a new teammate on the bound team.
func (c *Coordinator) SpawnTeammate(ctx context.Context, leadAgentID string, p SpawnParams) (*Teammate, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	p.TeamName = team
	tm, err := c.spawner.SpawnTeammate(ctx, leadAgentID, p)
	if err != nil {
		return nil, err
	}
	c.log.Info("teammate spawned", "team", team, "name", p.Name, "backend", p.Backend)
	return tm, nil
}

// ForceKillTeammate tears down a teammate on the bound team. Idempotent.
func (c *Coordinator) ForceKillTeammate(ctx context.Context, name, agentHost, cwd string) error {
	team, err := c.boundTeam()
	if err != nil {
		return err
	}
	if err := c.spawner.ForceKillTeammate(ctx, team, name, agentHost, cwd); err != nil {
		return err
	}
	c.log.Info("teammate killed", "team", team, "name", name)
	return nil
}

// ProcessShutdownApproved notifies a teammate its shutdown request was
// approved, then tears it down.
func (c *Coordinator) ProcessShutdownApproved(ctx context.Context, from, to, agentHost, cwd string) error {
	team, err := c.boundTeam()
	if err != nil {
		return err
	}
	if _, err := c.inbox.Send(team, from, to, MessageShutdownApproved, "", "", ""); err != nil {
		return err
	}
	name, _ := splitAgentID(to)
	return c.spawner.ForceKillTeammate(ctx, team, name, agentHost, cwd)
}

// SendMessage delivers a direct message to one recipient.
func (c *Coordinator) SendMessage(from, to string, kind MessageKind, color, content, summary string) (*InboxMessage, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.inbox.Send(team, from, to, kind, color, content, summary)
}

// Broadcast delivers content to every member of the bound team except from.
func (c *Coordinator) Broadcast(from, color, content, summary string) error {
	team, err := c.boundTeam()
	if err != nil {
		return err
	}
	cfg, err := c.registry.ReadTeam(team)
	if err != nil {
		return err
	}
	recipients := make([]string, 0, cfg.MemberCount())
	for _, m := range cfg.Members() {
		recipients = append(recipients, m.AgentIDOf())
	}
	return c.inbox.Broadcast(team, from, color, content, summary, recipients)
}

// ReadInbox returns agent's unread messages, optionally marking them read.
func (c *Coordinator) ReadInbox(agent string, markAsRead bool) ([]InboxMessage, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.inbox.Read(team, agent, markAsRead)
}

// PollInbox long-polls agent's inbox.
func (c *Coordinator) PollInbox(ctx context.Context, agent string, timeoutMs int) ([]InboxMessage, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.inbox.Poll(ctx, team, agent, timeoutMs)
}

// CreateTask creates a task on the bound team.
func (c *Coordinator) CreateTask(subject, description string, blockedBy []int) (*Task, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.tasks.CreateTask(team, subject, description, blockedBy)
}

// UpdateTask applies diff to a task and relays any resulting
// notifications through the Inbox (outside the tasks lock).
func (c *Coordinator) UpdateTask(id int, diff TaskUpdate) (*Task, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	task, notifs, err := c.tasks.UpdateTask(team, id, diff)
	if err != nil {
		return nil, err
	}
	for _, n := range notifs {
		content := notificationContent(n)
		if _, sendErr := c.inbox.Send(team, "system@"+team, n.To, MessageDirect, "", content, ""); sendErr != nil {
			c.log.Warn("failed to deliver task notification", "to", n.To, "task", n.TaskID, "err", sendErr)
		}
	}
	return task, nil
}

func notificationContent(n Notification) string {
	id := strconv.Itoa(n.TaskID)
	switch n.Kind {
	case NotifyTaskAssigned:
		return "You were assigned task #" + id + ": " + n.Subject
	case NotifyTaskCompleted:
		return "Task #" + id + " you own was marked completed: " + n.Subject
	default:
		return n.Subject
	}
}

// ListTasks returns every task on the bound team.
func (c *Coordinator) ListTasks() ([]*Task, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.tasks.ListTasks(team)
}

// GetTask returns a single task on the bound team.
func (c *Coordinator) GetTask(id int) (*Task, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	return c.tasks.GetTask(team, id)
}

// ListAgentTemplates returns the built-in role templates.
func (c *Coordinator) ListAgentTemplates() []AgentTemplate {
	return ListAgentTemplates()
}

// CheckAgentHealth probes a single teammate on the bound team.
func (c *Coordinator) CheckAgentHealth(ctx context.Context, name string) (*AgentHealth, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	cfg, err := c.registry.ReadTeam(team)
	if err != nil {
		return nil, err
	}
	tm, ok := cfg.FindTeammate(name)
	if !ok {
		return nil, teamerrors.New(teamerrors.NotFound, "teammate %q not found", name)
	}
	return c.health.CheckTeammate(ctx, team, tm)
}

// CheckAllAgentHealth probes every teammate on the bound team.
func (c *Coordinator) CheckAllAgentHealth(ctx context.Context) ([]*AgentHealth, error) {
	team, err := c.boundTeam()
	if err != nil {
		return nil, err
	}
	cfg, err := c.registry.ReadTeam(team)
	if err != nil {
		return nil, err
	}
	return c.health.CheckAll(ctx, cfg)
}

func splitAgentID(agentID string) (name, team string) {
	for i := len(agentID) - 1; i >= 0; i-- {
		if agentID[i] == '@' {
			return agentID[:i], agentID[i+1:]
		}
	}
	return agentID, ""
}
