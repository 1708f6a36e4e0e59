//go:build unix

package proc

import (
	"errors"
	"syscall"
)

// Default returns the termination strategy for the running platform.
func Default() Strategy {
	return PosixStrategy{Signal: signalGroup}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return ErrProcessDone
	}
	return err
}

// SysProcAttr places the child in a new session so its group id equals its
// pid and the whole tree can be signalled at once.
func SysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
