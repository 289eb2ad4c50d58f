//go:build !windows

package externalcmd

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

type osData struct{}

func command(cmdline string) (*exec.Cmd, error) {
	cmd := exec.Command("/bin/sh", "-c", "exec "+cmdline)

	// a dedicated process group allows to interrupt subprocesses too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return cmd, nil
}

func (c *Cmd) start() error {
	return c.cmd.Start()
}

func (c *Cmd) kill() {
	unix.Kill(-c.cmd.Process.Pid, unix.SIGINT) //nolint:errcheck
}

func (c *Cmd) release() {
}
