// Package teams implements the coordination substrate that lets
// independently spawned agent processes behave as one team: team
// membership, a shared task dependency graph, per-agent inboxes, and
// the spawn/kill/health lifecycle of external teammate processes. This
// file holds the immutable value model: teams,
// members (lead vs. teammate, a tagged sum rather than one struct with
// optional fields), and the fixed color palette.
package teams

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// nameRegexp matches valid team and member names.
var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateName reports a teamerrors.InvalidName error if name doesn't
// match the team/member name grammar.
func ValidateName(kind, name string) error {
	if !nameRegexp.MatchString(name) {
		return teamerrors.New(teamerrors.InvalidName, "%s name %q must match [A-Za-z0-9_-]{1,64}", kind, name)
	}
	return nil
}

// Palette is the fixed 8-color rotation assigned round-robin by member
// index.
var Palette = [8]string{
	"red", "orange", "yellow", "green", "cyan", "blue", "magenta", "white",
}

// ColorForIndex returns the palette entry for the given member index.
func ColorForIndex(index int) string {
	return Palette[index%len(Palette)]
}

// Role discriminates the two member variants.
type Role string

const (
	RoleLead     Role = "lead"
	RoleTeammate Role = "teammate"
)

// Backend selects the spawn mechanism for a teammate.
type Backend string

const (
	BackendTerminal Backend = "terminal"
	BackendDesktop  Backend = "desktop"
)

// AgentID builds the `"<member-name>@<team-name>"` identifier.
func AgentID(memberName, teamName string) string {
	return fmt.Sprintf("%s@%s", memberName, teamName)
}

// Member is the tagged sum over Lead and Teammate. Callers discriminate on
// RoleOf(); there is no base struct with role-dependent optional fields.
type Member interface {
	AgentIDOf() string
	NameOf() string
	RoleOf() Role
	ColorOf() string
	json.Marshaler
}

// Lead is the member variant created at team birth. The lead is the
// process that already exists when the team is created; it is never
// spawned as a process by this system.
type Lead struct {
	agentID    string
	name       string
	color      string
	joinedAtMs int64
	sessionID  string
}

// NewLead constructs a Lead, validating its name.
func NewLead(name, teamName, sessionID, color string, joinedAtMs int64) (*Lead, error) {
	if err := ValidateName("lead", name); err != nil {
		return nil, err
	}
	return &Lead{
		agentID:    AgentID(name, teamName),
		name:       name,
		color:      color,
		joinedAtMs: joinedAtMs,
		sessionID:  sessionID,
	}, nil
}

func (l *Lead) AgentIDOf() string  { return l.agentID }
func (l *Lead) NameOf() string     { return l.name }
func (l *Lead) RoleOf() Role       { return RoleLead }
func (l *Lead) ColorOf() string    { return l.color }
func (l *Lead) SessionID() string  { return l.sessionID }
func (l *Lead) JoinedAtMs() int64  { return l.joinedAtMs }

type leadWire struct {
	AgentID    string `json:"agentId"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	Color      string `json:"color"`
	JoinedAtMs int64  `json:"joinedAtMs"`
	SessionID  string `json:"sessionId,omitempty"`
}

// MarshalJSON implements the wire format for a lead member.
func (l *Lead) MarshalJSON() ([]byte, error) {
	return json.Marshal(leadWire{
		AgentID:    l.agentID,
		Name:       l.name,
		Role:       RoleLead,
		Color:      l.color,
		JoinedAtMs: l.joinedAtMs,
		SessionID:  l.sessionID,
	})
}

// Teammate is the spawned member variant.
type Teammate struct {
	agentID          string
	name             string
	model            string
	prompt           string
	color            string
	planModeRequired bool
	joinedAtMs       int64
	backend          Backend
	paneID           string
	processID        int
	cwd              string
	subagentType     string
}

// TeammateParams are the constructor arguments for NewTeammate.
type TeammateParams struct {
	Name             string
	TeamName         string
	Model            string
	Prompt           string
	Color            string
	PlanModeRequired bool
	JoinedAtMs       int64
	Backend          Backend
	Cwd              string
	SubagentType     string
}

// NewTeammate constructs a Teammate, validating its name, backend, and cwd.
func NewTeammate(p TeammateParams) (*Teammate, error) {
	if err := ValidateName("teammate", p.Name); err != nil {
		return nil, err
	}
	if p.Backend != BackendTerminal && p.Backend != BackendDesktop {
		return nil, teamerrors.New(teamerrors.InvalidArg, "backend must be %q or %q, got %q", BackendTerminal, BackendDesktop, p.Backend)
	}
	if p.Cwd == "" {
		return nil, teamerrors.New(teamerrors.InvalidArg, "cwd is required")
	}
	return &Teammate{
		agentID:          AgentID(p.Name, p.TeamName),
		name:             p.Name,
		model:            p.Model,
		prompt:           p.Prompt,
		color:            p.Color,
		planModeRequired: p.PlanModeRequired,
		joinedAtMs:       p.JoinedAtMs,
		backend:          p.Backend,
		cwd:              p.Cwd,
		subagentType:     p.SubagentType,
	}, nil
}

func (m *Teammate) AgentIDOf() string       { return m.agentID }
func (m *Teammate) NameOf() string          { return m.name }
func (m *Teammate) RoleOf() Role            { return RoleTeammate }
func (m *Teammate) ColorOf() string         { return m.color }
func (m *Teammate) Model() string           { return m.model }
func (m *Teammate) Prompt() string          { return m.prompt }
func (m *Teammate) PlanModeRequired() bool  { return m.planModeRequired }
func (m *Teammate) JoinedAtMs() int64       { return m.joinedAtMs }
func (m *Teammate) BackendOf() Backend      { return m.backend }
func (m *Teammate) PaneID() string          { return m.paneID }
func (m *Teammate) ProcessID() int          { return m.processID }
func (m *Teammate) Cwd() string             { return m.cwd }
func (m *Teammate) SubagentType() string    { return m.subagentType }

// WithPaneID returns a copy with the pane id set (terminal backend).
func (m *Teammate) WithPaneID(paneID string) *Teammate {
	cp := *m
	cp.paneID = paneID
	return &cp
}

// WithProcessID returns a copy with the process id set (desktop backend).
func (m *Teammate) WithProcessID(pid int) *Teammate {
	cp := *m
	cp.processID = pid
	return &cp
}

type teammateWire struct {
	AgentID          string  `json:"agentId"`
	Name             string  `json:"name"`
	Role             Role    `json:"role"`
	Model            string  `json:"model,omitempty"`
	Prompt           string  `json:"prompt,omitempty"`
	Color            string  `json:"color"`
	PlanModeRequired bool    `json:"planModeRequired,omitempty"`
	JoinedAtMs       int64   `json:"joinedAtMs"`
	Backend          Backend `json:"backend"`
	PaneID           string  `json:"paneId,omitempty"`
	ProcessID        int     `json:"processId,omitempty"`
	Cwd              string  `json:"cwd"`
	SubagentType     string  `json:"subagentType,omitempty"`
}

// MarshalJSON implements the wire format for a teammate member.
func (m *Teammate) MarshalJSON() ([]byte, error) {
	return json.Marshal(teammateWire{
		AgentID:          m.agentID,
		Name:             m.name,
		Role:             RoleTeammate,
		Model:            m.model,
		Prompt:           m.prompt,
		Color:            m.color,
		PlanModeRequired: m.planModeRequired,
		JoinedAtMs:       m.joinedAtMs,
		Backend:          m.backend,
		PaneID:           m.paneID,
		ProcessID:        m.processID,
		Cwd:              m.cwd,
		SubagentType:     m.subagentType,
	})
}

// Team is the full value model for a coordination scope.
type Team struct {
	Name        string
	CreatedAtMs int64
	SessionID   string
	LeadModel   string
	Lead        *Lead
	Teammates   []*Teammate // ordered by join (member index for color assignment)
}

// Members returns the lead followed by all teammates, in join order.
func (t *Team) Members() []Member {
	members := make([]Member, 0, 1+len(t.Teammates))
	members = append(members, t.Lead)
	for _, tm := range t.Teammates {
		members = append(members, tm)
	}
	return members
}

// MemberCount returns the total member count (lead + teammates), used for
// round-robin color assignment.
func (t *Team) MemberCount() int {
	return 1 + len(t.Teammates)
}

// FindTeammate returns the teammate with the given name, if any.
func (t *Team) FindTeammate(name string) (*Teammate, bool) {
	for _, tm := range t.Teammates {
		if tm.NameOf() == name {
			return tm, true
		}
	}
	return nil, false
}

type teamWire struct {
	Name        string          `json:"name"`
	CreatedAtMs int64           `json:"createdAtMs"`
	SessionID   string          `json:"sessionId,omitempty"`
	LeadModel   string          `json:"leadModel,omitempty"`
	Members     []json.RawMessage `json:"members"`
}

type memberDiscriminant struct {
	Role Role `json:"role"`
}

// MarshalJSON implements the on-disk team config format.
func (t *Team) MarshalJSON() ([]byte, error) {
	members := t.Members()
	raw := make([]json.RawMessage, 0, len(members))
	for _, m := range members {
		data, err := m.MarshalJSON()
		if err != nil {
			return nil, err
		}
		raw = append(raw, data)
	}
	return json.Marshal(teamWire{
		Name:        t.Name,
		CreatedAtMs: t.CreatedAtMs,
		SessionID:   t.SessionID,
		LeadModel:   t.LeadModel,
		Members:     raw,
	})
}

// UnmarshalJSON implements the on-disk team config format, dispatching
// each member entry on its "role" discriminant. Readers ignore unknown
// fields so the format can grow without breaking old readers.
func (t *Team) UnmarshalJSON(data []byte) error {
	var wire teamWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	t.Name = wire.Name
	t.CreatedAtMs = wire.CreatedAtMs
	t.SessionID = wire.SessionID
	t.LeadModel = wire.LeadModel
	t.Teammates = nil
	t.Lead = nil

	for _, raw := range wire.Members {
		var disc memberDiscriminant
		if err := json.Unmarshal(raw, &disc); err != nil {
			return fmt.Errorf("parse member role: %w", err)
		}
		switch disc.Role {
		case RoleLead:
			var lw leadWire
			if err := json.Unmarshal(raw, &lw); err != nil {
				return fmt.Errorf("parse lead member: %w", err)
			}
			t.Lead = &Lead{
				agentID:    lw.AgentID,
				name:       lw.Name,
				color:      lw.Color,
				joinedAtMs: lw.JoinedAtMs,
				sessionID:  lw.SessionID,
			}
		case RoleTeammate:
			var tw teammateWire
			if err := json.Unmarshal(raw, &tw); err != nil {
				return fmt.Errorf("parse teammate member: %w", err)
			}
			t.Teammates = append(t.Teammates, &Teammate{
				agentID:          tw.AgentID,
				name:             tw.Name,
				model:            tw.Model,
				prompt:           tw.Prompt,
				color:            tw.Color,
				planModeRequired: tw.PlanModeRequired,
				joinedAtMs:       tw.JoinedAtMs,
				backend:          tw.Backend,
				paneID:           tw.PaneID,
				processID:        tw.ProcessID,
				cwd:              tw.Cwd,
				subagentType:     tw.SubagentType,
			})
		default:
			return fmt.Errorf("unknown member role %q", disc.Role)
		}
	}
	return nil
}
