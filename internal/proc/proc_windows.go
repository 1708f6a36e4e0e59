//go:build windows

package proc

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// taskkill exits with 128 when the pid does not exist.
const taskKillNotFound = 128

// Default returns the termination strategy for the running platform.
func Default() Strategy {
	return WindowsStrategy{CtrlBreak: ctrlBreak, TaskKill: taskKill}
}

func ctrlBreak(pid int) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}

func taskKill(pid int) error {
	args := TaskKillArgs(pid)
	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == taskKillNotFound {
		return ErrProcessDone
	}
	return err
}

// SysProcAttr starts the child in a new process group so CTRL_BREAK reaches
// it without hitting the host.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}
