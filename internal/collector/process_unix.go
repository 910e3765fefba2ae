//go:build unix

package collector

import (
	"os/exec"
	"syscall"
)

// killProcessGroupOnCancel 让子进程独占一个进程组，取消时整组 SIGKILL，避免孙进程残留
func killProcessGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
