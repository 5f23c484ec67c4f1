package teams

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opencode-teams/coordinator/pkg/teamerrors"
)

// killGrace is how long DesktopLauncher.Kill waits after SIGTERM before
// escalating to SIGKILL (graceful vs. forced shutdown).
const killGrace = 3 * time.Second

// DesktopLauncher starts and stops a teammate as an opaque subprocess of
// the configured desktop binary, with no pane to introspect: health is
// liveness-only.
type DesktopLauncher struct {
	BinaryPath string
}

// Spawn starts the desktop binary with args in dir and returns its pid.
func (d *DesktopLauncher) Spawn(ctx context.Context, dir string, args []string) (pid int, err error) {
	cmd := exec.Command(d.BinaryPath, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, teamerrors.Wrap(teamerrors.Spawn, "start desktop process", err)
	}
	go cmd.Wait() // reap; the coordinator tracks liveness via health checks, not exit status
	return cmd.Process.Pid, nil
}

// Kill sends SIGTERM, waits killGrace, then SIGKILL if the process is
// still alive. Killing an already-dead pid is a no-op success.
func (d *DesktopLauncher) Kill(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	if unix.Kill(pid, 0) != nil {
		return nil // already gone
	}
	if err := unix.Kill(pid, syscall.SIGTERM); err != nil {
		return teamerrors.Wrap(teamerrors.Spawn, "sigterm desktop process", err)
	}

	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if unix.Kill(pid, 0) != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err := unix.Kill(pid, syscall.SIGKILL); err != nil && unix.Kill(pid, 0) == nil {
		return teamerrors.Wrap(teamerrors.Spawn, "sigkill desktop process", err)
	}
	return nil
}
