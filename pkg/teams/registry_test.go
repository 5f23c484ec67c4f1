package teams

import (
	"testing"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(store.New(t.TempDir()), &fakeClock{})
}

func TestCreateTeamThenReadRoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	team, err := r.CreateTeam("alpha", "lead", "claude-x", "sess-1")
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if team.Lead.NameOf() != "lead" {
		t.Fatalf("expected lead name 'lead', got %q", team.Lead.NameOf())
	}

	got, err := r.ReadTeam("alpha")
	if err != nil {
		t.Fatalf("ReadTeam: %v", err)
	}
	if got.Name != "alpha" || got.Lead.AgentIDOf() != "lead@alpha" {
		t.Fatalf("unexpected round-tripped team: %+v", got)
	}
}

func TestCreateTeamRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateTeam("alpha", "lead", "claude-x", "s1"); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	_, err := r.CreateTeam("alpha", "lead2", "claude-x", "s2")
	if !teamerrors.Is(err, teamerrors.Exists) {
		t.Fatalf("expected Exists, got %v", err)
	}
}

func TestCreateTeamRejectsInvalidName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateTeam("has a space", "lead", "claude-x", "s1")
	if !teamerrors.Is(err, teamerrors.InvalidName) {
		t.Fatalf("expected InvalidName, got %v", err)
	}
}

func TestAddMemberAssignsRoundRobinColor(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateTeam("alpha", "lead", "claude-x", "s1")

	tm, err := r.AddMember("alpha", func(colorIndex int) (*Teammate, error) {
		return NewTeammate(TeammateParams{Name: "bob", TeamName: "alpha", Backend: BackendTerminal, Cwd: "/tmp", Color: ColorForIndex(colorIndex)})
	})
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if tm.ColorOf() != ColorForIndex(1) {
		t.Fatalf("expected second member's color to be %s, got %s", ColorForIndex(1), tm.ColorOf())
	}
}

func TestAddMemberRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateTeam("alpha", "lead", "claude-x", "s1")
	build := func(colorIndex int) (*Teammate, error) {
		return NewTeammate(TeammateParams{Name: "bob", TeamName: "alpha", Backend: BackendTerminal, Cwd: "/tmp", Color: ColorForIndex(colorIndex)})
	}
	if _, err := r.AddMember("alpha", build); err != nil {
		t.Fatalf("first AddMember: %v", err)
	}
	_, err := r.AddMember("alpha", build)
	if !teamerrors.Is(err, teamerrors.Exists) {
		t.Fatalf("expected Exists, got %v", err)
	}
}

func TestDeleteTeamFailsWithTeammates(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateTeam("alpha", "lead", "claude-x", "s1")
	r.AddMember("alpha", func(colorIndex int) (*Teammate, error) {
		return NewTeammate(TeammateParams{Name: "bob", TeamName: "alpha", Backend: BackendTerminal, Cwd: "/tmp", Color: ColorForIndex(colorIndex)})
	})

	err := r.DeleteTeam("alpha")
	if !teamerrors.Is(err, teamerrors.Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}

	if err := r.RemoveMember("alpha", "bob"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := r.DeleteTeam("alpha"); err != nil {
		t.Fatalf("DeleteTeam after removing teammates: %v", err)
	}
}

func TestRemoveMemberIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateTeam("alpha", "lead", "claude-x", "s1")
	if err := r.RemoveMember("alpha", "nonexistent"); err != nil {
		t.Fatalf("expected idempotent success, got %v", err)
	}
}

func TestUpdateMemberRewritesInPlace(t *testing.T) {
	r := newTestRegistry(t)
	r.CreateTeam("alpha", "lead", "claude-x", "s1")
	tm, _ := r.AddMember("alpha", func(colorIndex int) (*Teammate, error) {
		return NewTeammate(TeammateParams{Name: "bob", TeamName: "alpha", Backend: BackendTerminal, Cwd: "/tmp", Color: ColorForIndex(colorIndex)})
	})

	updated := tm.WithPaneID("%3")
	if err := r.UpdateMember("alpha", updated); err != nil {
		t.Fatalf("UpdateMember: %v", err)
	}

	team, _ := r.ReadTeam("alpha")
	got, ok := team.FindTeammate("bob")
	if !ok || got.PaneID() != "%3" {
		t.Fatalf("expected pane id %%3 persisted, got %+v", got)
	}
}
