package teams

import (
	"encoding/json"
	"testing"
)

func TestTeamMarshalUnmarshalRoundTrips(t *testing.T) {
	lead, err := NewLead("lead", "alpha", "sess-1", ColorForIndex(0), 100)
	if err != nil {
		t.Fatalf("NewLead: %v", err)
	}
	mate, err := NewTeammate(TeammateParams{
		Name: "bob", TeamName: "alpha", Model: "claude-x", Color: ColorForIndex(1),
		Backend: BackendTerminal, Cwd: "/work", JoinedAtMs: 200,
	})
	if err != nil {
		t.Fatalf("NewTeammate: %v", err)
	}
	mate = mate.WithPaneID("%2")

	team := &Team{Name: "alpha", CreatedAtMs: 50, LeadModel: "claude-x", Lead: lead, Teammates: []*Teammate{mate}}

	data, err := json.Marshal(team)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Team
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Name != "alpha" || got.Lead == nil || got.Lead.NameOf() != "lead" {
		t.Fatalf("lead did not round-trip: %+v", got)
	}
	if len(got.Teammates) != 1 || got.Teammates[0].PaneID() != "%2" {
		t.Fatalf("teammate did not round-trip: %+v", got.Teammates)
	}
	if got.Members()[0].RoleOf() != RoleLead || got.Members()[1].RoleOf() != RoleTeammate {
		t.Fatalf("expected members in lead-then-teammate order, got %+v", got.Members())
	}
}

func TestValidateNameRejectsOutOfGrammar(t *testing.T) {
	cases := []string{"", "has space", "semi;colon", string(make([]byte, 65))}
	for _, c := range cases {
		if err := ValidateName("team", c); err == nil {
			t.Errorf("expected ValidateName to reject %q", c)
		}
	}
}

func TestColorForIndexWrapsAroundPalette(t *testing.T) {
	if ColorForIndex(0) != ColorForIndex(len(Palette)) {
		t.Fatalf("expected palette to wrap after %d entries", len(Palette))
	}
}
