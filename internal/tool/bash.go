package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"

	"github.com/opencode-ai/mcphost/internal/proc"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
)

const bashDescription = `Executes a shell command.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Provide a brief description of what the command does
- Output is captured from stdout and stderr
- On timeout the whole process tree is terminated`

// BashTool implements shell command execution.
type BashTool struct {
	workDir  string
	shell    string
	strategy proc.Strategy
	grace    time.Duration
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description"`
}

// BashToolOption configures the bash tool.
type BashToolOption func(*BashTool)

// WithShell overrides the detected shell.
func WithShell(shell string) BashToolOption {
	return func(t *BashTool) { t.shell = shell }
}

// WithKillGrace sets how long a timed-out command gets between the
// graceful signal and the forced kill.
func WithKillGrace(d time.Duration) BashToolOption {
	return func(t *BashTool) { t.grace = d }
}

// NewBashTool creates a new bash tool.
func NewBashTool(workDir string, opts ...BashToolOption) *BashTool {
	t := &BashTool{
		workDir:  workDir,
		shell:    detectShell(),
		strategy: proc.Default(),
		grace:    proc.DefaultGrace,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		// Exclude unsupported shells
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if runtime.GOOS == "windows" {
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}

	return "/bin/sh"
}

func (t *BashTool) ID() string          { return "bash" }
func (t *BashTool) Description() string { return bashDescription }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command", "description"]
	}`)
}

// lockedBuffer collects combined output from two pipes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.Command == "" {
		return nil, errors.New("invalid input: command is required")
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Millisecond
		if timeout > MaxBashTimeout {
			timeout = MaxBashTimeout
		}
	}

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.Command(t.shell, "/c", params.Command)
	} else {
		cmd = exec.Command(t.shell, "-c", params.Command)
	}
	if toolCtx != nil && toolCtx.WorkDir != "" {
		cmd.Dir = toolCtx.WorkDir
	} else if t.workDir != "" {
		cmd.Dir = t.workDir
	}
	cmd.Env = os.Environ()
	// Own process group so a timeout takes the descendants down too.
	cmd.SysProcAttr = proc.SysProcAttr()
	cmd.WaitDelay = time.Second

	var out lockedBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if toolCtx != nil {
		toolCtx.SetMetadata(params.Description, map[string]any{
			"output":      "",
			"description": params.Description,
		})
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut, aborted bool
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		aborted = true
	}
	if timedOut || aborted {
		killCtx, cancel := context.WithTimeout(context.Background(), t.grace+5*time.Second)
		_ = proc.TerminateProcessTree(killCtx, proc.NewProcess(cmd.Process.Pid, done), t.strategy, proc.Options{Grace: t.grace})
		cancel()
		<-done
	}

	result := out.String()
	if len(result) > MaxOutputLength {
		result = result[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	if timedOut {
		result += fmt.Sprintf("\n\n(Command timed out after %v)", timeout)
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !timedOut && !aborted && !errors.As(waitErr, &exitErr) {
		result += fmt.Sprintf("\n\nError: %v", waitErr)
	}

	title := params.Description
	if title == "" {
		title = "Run command"
	}

	if aborted {
		return nil, ctx.Err()
	}
	return &Result{
		Title:  title,
		Output: result,
		Metadata: map[string]any{
			"output":      result,
			"exit":        exitCode,
			"description": params.Description,
			"timedOut":    timedOut,
		},
	}, nil
}

func (t *BashTool) EinoTool() einotool.InvokableTool {
	return NewEinoTool(t)
}
