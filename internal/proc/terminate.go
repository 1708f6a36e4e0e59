// Package proc spawns and terminates child process trees.
//
// Children are started in their own session (POSIX) or process group
// (Windows) via SysProcAttr so that TerminateProcessTree can reach every
// descendant. Termination is graceful first, then forced:
//
//	POSIX:   SIGTERM to the group, wait, SIGKILL to the group
//	Windows: CTRL_BREAK_EVENT to the group, wait, taskkill /T /F
//
// The OS strategy is a value chosen by the caller (Default picks the one for
// the running platform) so both paths can be exercised anywhere.
package proc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/mcphost/internal/logging"
)

// DefaultGrace is how long TerminateProcessTree waits after the graceful
// signal before escalating.
const DefaultGrace = 2 * time.Second

// ErrProcessDone is returned by a Strategy when the target no longer exists.
var ErrProcessDone = errors.New("process already finished")

// Process is the view of a running child that termination needs.
type Process interface {
	Pid() int
	// Done is closed once the process has been reaped.
	Done() <-chan struct{}
}

// Strategy delivers the platform's termination signals to a process group.
type Strategy interface {
	Name() string
	// Interrupt asks the group to exit.
	Interrupt(pid int) error
	// Kill forcibly terminates the process and all descendants.
	Kill(pid int) error
}

// Options tune TerminateProcessTree.
type Options struct {
	Grace  time.Duration
	Logger *zerolog.Logger
}

// TerminateProcessTree stops p and its descendants using s. Terminating a
// process that has already exited is a no-op.
func TerminateProcessTree(ctx context.Context, p Process, s Strategy, opts Options) error {
	if p == nil || exited(p) {
		return nil
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	log := logging.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	}
	pid := p.Pid()

	if err := s.Interrupt(pid); err != nil {
		if errors.Is(err, ErrProcessDone) {
			return nil
		}
		log.Debug().Err(err).Int("pid", pid).Str("strategy", s.Name()).Msg("graceful signal failed, escalating")
	} else {
		timer := time.NewTimer(opts.Grace)
		defer timer.Stop()
		select {
		case <-p.Done():
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	if exited(p) {
		return nil
	}
	if err := s.Kill(pid); err != nil && !errors.Is(err, ErrProcessDone) {
		return err
	}
	return nil
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// handle adapts a pid and a reap channel to Process.
type handle struct {
	pid  int
	done <-chan struct{}
}

// NewProcess returns a Process for pid whose Done is done.
func NewProcess(pid int, done <-chan struct{}) Process {
	return &handle{pid: pid, done: done}
}

func (h *handle) Pid() int              { return h.pid }
func (h *handle) Done() <-chan struct{} { return h.done }
