//go:build !unix

package collector

import "os/exec"

func killProcessGroupOnCancel(cmd *exec.Cmd) {}
