package proc

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps reading output after the process
// group was signalled.
const WaitDelay = 3 * time.Second

// Command returns a command that runs in its own process group. Cancelling
// ctx sends SIGTERM to the whole group so that helpers and background jobs
// stop with it and git can drop its lock files.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	setGroup(cmd)
	cmd.WaitDelay = WaitDelay
	return cmd
}

// Reap terminates whatever is left of the group after cmd has exited.
func Reap(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = signalGroup(cmd)
}
