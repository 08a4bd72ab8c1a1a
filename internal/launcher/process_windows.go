//go:build windows

package launcher

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup kills the VM process.
// Windows has no Unix-style process groups; CREATE_NEW_PROCESS_GROUP keeps
// console signals aimed at the server away from the VM.
func killProcessGroup(_ int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
	}
	return nil
}

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
