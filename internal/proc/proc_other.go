//go:build !unix

package proc

import "os/exec"

func setGroup(*exec.Cmd) {}

func signalGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
