package teams

import (
	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// Registry implements team create/read/delete and membership mutation.
// Delete and membership mutation are serialized through the team-config
// lock; create and read do not take it.
type Registry struct {
	store *store.Store
	clock Clock
}

// NewRegistry creates a Registry backed by s.
func NewRegistry(s *store.Store, clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Registry{store: s, clock: clock}
}

// CreateTeam creates team with a single lead member and persists the
// initial config. Fails with ErrExists if the team's config file already
// exists, ErrInvalidName on regex mismatch.
func (r *Registry) CreateTeam(teamName, leadName, leadModel, sessionID string) (*Team, error) {
	if err := ValidateName("team", teamName); err != nil {
		return nil, err
	}
	if r.store.TeamExists(teamName) {
		return nil, teamerrors.New(teamerrors.Exists, "team %q already exists", teamName)
	}

	lead, err := NewLead(leadName, teamName, sessionID, ColorForIndex(0), r.clock.NowMs())
	if err != nil {
		return nil, err
	}

	team := &Team{
		Name:        teamName,
		CreatedAtMs: r.clock.NowMs(),
		SessionID:   sessionID,
		LeadModel:   leadModel,
		Lead:        lead,
	}

	if err := r.store.EnsureTeamDirs(teamName); err != nil {
		return nil, err
	}
	if err := r.store.WriteJSON(r.store.TeamConfigPath(teamName), team); err != nil {
		return nil, err
	}
	// The lead's own inbox exists as soon as the team does, even if empty.
	if err := NewInbox(r.store, r.clock).Create(teamName, lead.AgentIDOf()); err != nil {
		return nil, err
	}

	return team, nil
}

// ReadTeam loads a team's config. Fails with ErrNotFound if it doesn't exist.
func (r *Registry) ReadTeam(teamName string) (*Team, error) {
	var team Team
	if err := r.store.ReadJSON(r.store.TeamConfigPath(teamName), &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// DeleteTeam removes a team's directory tree. Fails with ErrBusy if any
// teammate member remains.
func (r *Registry) DeleteTeam(teamName string) error {
	var outcome error
	err := r.store.WithLock(r.store.TeamConfigLockPath(teamName), func() error {
		team, err := r.ReadTeam(teamName)
		if err != nil {
			outcome = err
			return nil
		}
		if len(team.Teammates) > 0 {
			outcome = teamerrors.New(teamerrors.Busy, "team %q still has %d teammate(s)", teamName, len(team.Teammates))
			return nil
		}
		outcome = r.store.RemoveTeam(teamName)
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

// AddMember appends teammate to the team config under the team-config
// lock and rewrites it atomically. The teammate's color is assigned
// round-robin by current member index.
func (r *Registry) AddMember(teamName string, build func(colorIndex int) (*Teammate, error)) (*Teammate, error) {
	var (
		added   *Teammate
		outcome error
	)
	err := r.store.WithLock(r.store.TeamConfigLockPath(teamName), func() error {
		team, err := r.ReadTeam(teamName)
		if err != nil {
			outcome = err
			return nil
		}
		teammate, err := build(team.MemberCount())
		if err != nil {
			outcome = err
			return nil
		}
		if _, exists := team.FindTeammate(teammate.NameOf()); exists {
			outcome = teamerrors.New(teamerrors.Exists, "teammate %q already exists", teammate.NameOf())
			return nil
		}
		team.Teammates = append(team.Teammates, teammate)
		if err := r.store.WriteJSON(r.store.TeamConfigPath(teamName), team); err != nil {
			outcome = err
			return nil
		}
		added = teammate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, outcome
}

// UpdateMember rewrites an existing teammate in place (used after the
// spawner learns the pane id / process id).
func (r *Registry) UpdateMember(teamName string, updated *Teammate) error {
	var outcome error
	err := r.store.WithLock(r.store.TeamConfigLockPath(teamName), func() error {
		team, err := r.ReadTeam(teamName)
		if err != nil {
			outcome = err
			return nil
		}
		found := false
		for i, tm := range team.Teammates {
			if tm.NameOf() == updated.NameOf() {
				team.Teammates[i] = updated
				found = true
				break
			}
		}
		if !found {
			outcome = teamerrors.New(teamerrors.NotFound, "teammate %q not found", updated.NameOf())
			return nil
		}
		outcome = r.store.WriteJSON(r.store.TeamConfigPath(teamName), team)
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}

// RemoveMember removes a teammate by name under the team-config lock and
// rewrites the config atomically.
func (r *Registry) RemoveMember(teamName, name string) error {
	var outcome error
	err := r.store.WithLock(r.store.TeamConfigLockPath(teamName), func() error {
		team, err := r.ReadTeam(teamName)
		if err != nil {
			outcome = err
			return nil
		}
		kept := team.Teammates[:0]
		found := false
		for _, tm := range team.Teammates {
			if tm.NameOf() == name {
				found = true
				continue
			}
			kept = append(kept, tm)
		}
		team.Teammates = kept
		if !found {
			// Idempotent: removing an already-gone member succeeds.
			return nil
		}
		outcome = r.store.WriteJSON(r.store.TeamConfigPath(teamName), team)
		return nil
	})
	if err != nil {
		return err
	}
	return outcome
}
