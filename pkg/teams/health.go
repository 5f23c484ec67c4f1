package teams

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sys/unix"

	"github.com/opencode-teams/coordinator/pkg/store"
	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// HealthStatus classifies a teammate's liveness.
type HealthStatus string

const (
	HealthAlive   HealthStatus = "alive"
	HealthHung    HealthStatus = "hung"
	HealthDead    HealthStatus = "dead"
	HealthUnknown HealthStatus = "unknown"
)

const (
	healthGraceMs = 60_000
	healthHungMs  = 120_000
)

// AgentHealth is the persisted probe state for one teammate.
type AgentHealth struct {
	AgentName    string       `json:"agentName"`
	Status       HealthStatus `json:"status"`
	ContentHash  string       `json:"contentHash,omitempty"`
	LastChangeMs int64        `json:"lastChangeMs,omitempty"`
	CheckedAtMs  int64        `json:"checkedAtMs"`
}

// PaneCapturer captures the visible text of a terminal-backend teammate's
// pane, used to fingerprint activity.
type PaneCapturer interface {
	CapturePane(ctx context.Context, paneID string) (string, error)
}

// ProcessChecker reports whether a desktop-backend teammate's process is
// still alive.
type ProcessChecker interface {
	IsAlive(pid int) bool
}

// UnixProcessChecker probes liveness with signal 0, the POSIX idiom for
// "does this pid exist" without actually signalling the process.
type UnixProcessChecker struct{}

func (UnixProcessChecker) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// HealthProbe implements the terminal pane-hash and desktop liveness
// checks and persists one health.json per team. That file is
// unlocked: within a server process it has a single writer, the health
// check loop.
type HealthProbe struct {
	store    *store.Store
	clock    Clock
	capturer PaneCapturer
	checker  ProcessChecker
}

// NewHealthProbe creates a HealthProbe. capturer is used for terminal
// backends, checker for desktop backends.
func NewHealthProbe(s *store.Store, clock Clock, capturer PaneCapturer, checker ProcessChecker) *HealthProbe {
	if clock == nil {
		clock = SystemClock{}
	}
	if checker == nil {
		checker = UnixProcessChecker{}
	}
	return &HealthProbe{store: s, clock: clock, capturer: capturer, checker: checker}
}

// CheckTeammate probes tm and persists the result.
func (h *HealthProbe) CheckTeammate(ctx context.Context, team string, tm *Teammate) (*AgentHealth, error) {
	var result *AgentHealth
	switch tm.BackendOf() {
	case BackendTerminal:
		result = h.checkTerminal(ctx, team, tm)
	case BackendDesktop:
		result = h.checkDesktop(tm)
	default:
		return nil, teamerrors.New(teamerrors.InvalidArg, "unknown backend %q", tm.BackendOf())
	}
	if err := h.save(team, result); err != nil {
		return nil, err
	}
	return result, nil
}

// CheckAll probes every teammate in team, skipping the lead (never
// spawned as a process). Each teammate's result is persisted as soon as
// it is probed, not once for the whole batch.
func (h *HealthProbe) CheckAll(ctx context.Context, team *Team) ([]*AgentHealth, error) {
	results := make([]*AgentHealth, 0, len(team.Teammates))
	for _, tm := range team.Teammates {
		result, err := h.CheckTeammate(ctx, team.Name, tm)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (h *HealthProbe) checkTerminal(ctx context.Context, team string, tm *Teammate) *AgentHealth {
	now := h.clock.NowMs()
	text, err := h.capturer.CapturePane(ctx, tm.PaneID())
	if err != nil {
		return &AgentHealth{AgentName: tm.NameOf(), Status: HealthUnknown, CheckedAtMs: now}
	}
	hash := hashPane(text)

	prev, _ := h.load(team, tm.NameOf())
	changeMs := now
	status := HealthAlive
	if prev != nil && prev.ContentHash == hash {
		changeMs = prev.LastChangeMs
		elapsed := now - changeMs
		recentlySpawned := now-tm.JoinedAtMs() < healthGraceMs
		if !recentlySpawned && elapsed >= healthHungMs {
			status = HealthHung
		}
	}
	return &AgentHealth{
		AgentName:    tm.NameOf(),
		Status:       status,
		ContentHash:  hash,
		LastChangeMs: changeMs,
		CheckedAtMs:  now,
	}
}

func (h *HealthProbe) checkDesktop(tm *Teammate) *AgentHealth {
	status := HealthDead
	if h.checker.IsAlive(tm.ProcessID()) {
		status = HealthAlive
	}
	return &AgentHealth{AgentName: tm.NameOf(), Status: status, CheckedAtMs: h.clock.NowMs()}
}

func (h *HealthProbe) load(team, agentName string) (*AgentHealth, bool) {
	all, err := h.loadAll(team)
	if err != nil {
		return nil, false
	}
	entry, ok := all[agentName]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (h *HealthProbe) loadAll(team string) (map[string]AgentHealth, error) {
	all := map[string]AgentHealth{}
	if err := h.store.ReadJSON(h.store.HealthPath(team), &all); err != nil {
		if teamerrors.Is(err, teamerrors.NotFound) {
			return all, nil
		}
		return nil, err
	}
	return all, nil
}

func (h *HealthProbe) save(team string, result *AgentHealth) error {
	all, err := h.loadAll(team)
	if err != nil {
		return err
	}
	all[result.AgentName] = *result
	return h.store.WriteJSON(h.store.HealthPath(team), all)
}

func hashPane(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
