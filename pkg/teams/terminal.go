package teams

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// subprocessTimeout bounds every tmux subcommand invocation.
const subprocessTimeout = 5 * time.Second

// TmuxLauncher drives tmux directly via exec.Command as a subprocess,
// the same way a self-invocation spawner shells out to its own binary.
// Every call is bounded by subprocessTimeout.
type TmuxLauncher struct {
	// UseWindows selects `tmux new-window` over `tmux split-window`
	// (config.UseTmuxWindows).
	UseWindows bool
}

func (t *TmuxLauncher) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", teamerrors.Wrap(teamerrors.Spawn, "tmux "+args[0], fmt.Errorf("%w: %s", err, stderr.String()))
	}
	return stdout.String(), nil
}

// Spawn creates a new pane running command in dir and returns its tmux
// pane id.
func (t *TmuxLauncher) Spawn(ctx context.Context, sessionTarget, dir string, command []string) (paneID string, err error) {
	sub := "split-window"
	if t.UseWindows {
		sub = "new-window"
	}
	args := []string{sub, "-d", "-P", "-F", "#{pane_id}", "-c", dir, "-t", sessionTarget}
	args = append(args, command...)
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", err
	}
	id := firstLine(out)
	if id == "" {
		return "", teamerrors.New(teamerrors.Spawn, "tmux did not report a pane id")
	}
	return id, nil
}

// Kill terminates paneID. A pane that no longer exists is treated as
// already gone, matching force_kill_teammate's idempotence.
func (t *TmuxLauncher) Kill(ctx context.Context, paneID string) error {
	_, err := t.run(ctx, "kill-pane", "-t", paneID)
	if err != nil && !isNoSuchPane(err) {
		return err
	}
	return nil
}

// CapturePane implements PaneCapturer by shelling out to `tmux
// capture-pane`.
func (t *TmuxLauncher) CapturePane(ctx context.Context, paneID string) (string, error) {
	return t.run(ctx, "capture-pane", "-p", "-t", paneID)
}

func isNoSuchPane(err error) bool {
	return strings.Contains(err.Error(), "can't find pane")
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
