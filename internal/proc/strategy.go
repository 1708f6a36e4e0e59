package proc

import (
	"strconv"
	"syscall"
)

// PosixStrategy signals the whole process group (negative pid).
type PosixStrategy struct {
	// Signal delivers sig to pid; it must map "no such process" to
	// ErrProcessDone.
	Signal func(pid int, sig syscall.Signal) error
}

func (PosixStrategy) Name() string { return "posix" }

func (s PosixStrategy) Interrupt(pid int) error {
	return s.Signal(-pid, syscall.SIGTERM)
}

func (s PosixStrategy) Kill(pid int) error {
	return s.Signal(-pid, syscall.SIGKILL)
}

// WindowsStrategy uses CTRL_BREAK for the graceful step and taskkill for
// the tree kill, since a bare TerminateProcess leaves descendants running.
type WindowsStrategy struct {
	CtrlBreak func(pid int) error
	TaskKill  func(pid int) error
}

func (WindowsStrategy) Name() string { return "windows" }

func (s WindowsStrategy) Interrupt(pid int) error {
	return s.CtrlBreak(pid)
}

func (s WindowsStrategy) Kill(pid int) error {
	return s.TaskKill(pid)
}

// TaskKillArgs returns the argv used to kill the tree rooted at pid.
func TaskKillArgs(pid int) []string {
	return []string{"taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)}
}
