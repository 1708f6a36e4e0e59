package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/mcphost/internal/proc"
)

// stdinCloseWait is how long Close waits for a server to exit on its own
// after stdin is closed, before signalling it.
const stdinCloseWait = 500 * time.Millisecond

var errFrameTooLarge = errors.New("frame exceeds size limit")

// StdioTransport speaks newline-delimited JSON-RPC to a child process.
type StdioTransport struct {
	cfg  ServerConfig
	opts transportOptions
	log  zerolog.Logger

	d      *dispatcher
	stderr *lineRing

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	errPipe *os.File
	done    chan struct{}

	writeMu   sync.Mutex
	started   atomic.Bool
	connected atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

// NewStdioTransport returns an unconnected transport for cfg.
func NewStdioTransport(cfg ServerConfig, opts ...TransportOption) *StdioTransport {
	o := defaultTransportOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger.With().Str("mcp_server", cfg.Name).Str("transport", "stdio").Logger()
	return &StdioTransport{
		cfg:    cfg,
		opts:   o,
		log:    log,
		d:      newDispatcher(log, o.queueSize),
		stderr: newLineRing(StderrTailLines),
		done:   make(chan struct{}),
	}
}

// ErrorContext describes the server, including the current stderr tail.
func (t *StdioTransport) ErrorContext() ErrorContext {
	ec := t.cfg.errorContext()
	ec.StderrTail = t.stderr.Lines()
	return ec
}

func (t *StdioTransport) transportErr(kind TransportErrorKind, op string, err error) *TransportError {
	return &TransportError{Context: t.ErrorContext(), Kind: kind, Op: op, Err: err}
}

// Connect spawns the server. ctx bounds only the spawn itself; the process
// outlives it.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if !t.started.CompareAndSwap(false, true) {
		return errors.New("stdio transport already started")
	}
	if err := ctx.Err(); err != nil {
		return t.transportErr(TransportTimeout, "spawn", err)
	}

	target, err := ResolveTarget(t.cfg)
	if err != nil {
		return err
	}
	env := buildEnv(t.opts.goos, t.opts.lookupEnv, t.cfg.EnvPassthrough, t.cfg.Env)
	launcher, err := resolveLauncher(t.opts.goos, target.Argv[0], t.cfg.Cwd, env, isExecutableFile)
	if err != nil {
		te := t.transportErr(TransportNotFound, "spawn", err)
		te.Executable = target.Argv[0]
		return te
	}

	cmd := exec.Command(launcher, target.Argv[1:]...)
	cmd.Env = env
	cmd.Dir = t.cfg.Cwd
	cmd.SysProcAttr = proc.SysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return t.transportErr(TransportSpawn, "spawn", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		return t.transportErr(TransportSpawn, "spawn", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return t.transportErr(TransportSpawn, "spawn", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			f.Close()
		}
		kind := TransportSpawn
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			kind = TransportNotFound
		}
		te := t.transportErr(kind, "spawn", err)
		te.Executable = target.Argv[0]
		return te
	}
	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = outR
	t.errPipe = errR
	t.mu.Unlock()
	t.connected.Store(true)

	t.log.Debug().Int("pid", cmd.Process.Pid).Strs("argv", target.Argv).Msg("spawned mcp server")

	go t.drainStderr(errR)
	go t.readLoop(outR)
	go t.wait(cmd)
	return nil
}

func (t *StdioTransport) wait(cmd *exec.Cmd) {
	_ = cmd.Wait()
	t.connected.Store(false)
	close(t.done)

	if t.closing.Load() {
		t.d.fail(t.transportErr(TransportClosed, "", nil))
		return
	}
	te := t.transportErr(TransportExited, "", nil)
	te.ExitCode = cmd.ProcessState.ExitCode()
	t.log.Warn().Int("exit_code", te.ExitCode).Strs("stderr", te.Context.StderrTail).Msg("mcp server exited")
	t.d.fail(te)
}

func (t *StdioTransport) drainStderr(r io.Reader) {
	br := bufio.NewReaderSize(r, 4096)
	for {
		b, cut, err := readLineCapped(br, StderrLineLimit)
		if err != nil {
			return
		}
		line := string(b)
		if cut {
			line += truncatedMarker
		}
		t.stderr.Add(line)
		t.log.Debug().Str("stderr", line).Msg("mcp server stderr")
	}
}

func (t *StdioTransport) readLoop(r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		frame, err := readFrame(br, t.opts.maxFrameSize)
		if err != nil {
			switch {
			case errors.Is(err, errFrameTooLarge):
				t.abort(t.transportErr(TransportFrameTooLarge, "read", err))
			case t.closing.Load(), errors.Is(err, os.ErrClosed):
				// Torn down by Close.
			case errors.Is(err, io.EOF):
				// The exit is reported by wait.
			default:
				t.abort(t.transportErr(TransportIO, "read", err))
			}
			return
		}
		lineNo++
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		msgs, err := decodeBatch(frame)
		if err != nil {
			te := t.transportErr(TransportMalformedFrame, "read", err)
			te.Frame = &FrameError{Line: lineNo, Snippet: snippet(frame, 120)}
			var se *json.SyntaxError
			if errors.As(err, &se) {
				te.Frame.Column = se.Offset
			}
			t.abort(te)
			return
		}
		for _, m := range msgs {
			t.d.deliver(m)
		}
	}
}

// abort fails the connection after a protocol violation and kills the
// process in the background.
func (t *StdioTransport) abort(err *TransportError) {
	t.log.Error().Err(err).Msg("closing mcp connection")
	t.connected.Store(false)
	t.d.fail(err)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.grace+time.Second)
		defer cancel()
		_ = t.Close(ctx)
	}()
}

// readFrame reads one newline-terminated line of at most max bytes, with
// the newline and any trailing carriage return stripped.
func readFrame(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			line := bytes.TrimRight(buf[:len(buf)-1], "\r")
			if len(line) > max {
				return nil, errFrameTooLarge
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(buf) > max+1 {
				return nil, errFrameTooLarge
			}
		case errors.Is(err, io.EOF) && len(buf) > 0:
			line := bytes.TrimRight(buf, "\r")
			if len(line) > max {
				return nil, errFrameTooLarge
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

// readLineCapped reads one line and keeps at most limit bytes of it. The
// rest of an overlong line is consumed and dropped, so the reader is left at
// the start of the next line.
func readLineCapped(r *bufio.Reader, limit int) (line []byte, cut bool, err error) {
	for {
		chunk, rerr := r.ReadSlice('\n')
		if rerr == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := limit - len(line); len(chunk) > room {
			chunk, cut = chunk[:max(room, 0)], true
		}
		line = append(line, chunk...)
		switch {
		case rerr == nil:
			return bytes.TrimRight(line, "\r"), cut, nil
		case errors.Is(rerr, bufio.ErrBufferFull):
		case errors.Is(rerr, io.EOF) && (len(line) > 0 || cut):
			return bytes.TrimRight(line, "\r"), cut, nil
		default:
			return nil, false, rerr
		}
	}
}

func snippet(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Send writes one message as a single line.
func (t *StdioTransport) Send(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return t.write(ctx, data)
}

func (t *StdioTransport) write(ctx context.Context, data []byte) error {
	if !t.IsConnected() {
		if err := t.d.err(); err != nil {
			return err
		}
		return t.transportErr(TransportClosed, "write", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	w := t.stdin
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := w.Write(append(data, '\n')); err != nil {
		return t.transportErr(TransportClosed, "write", err)
	}
	return nil
}

// Request sends a request and waits for its response.
func (t *StdioTransport) Request(ctx context.Context, method string, params any) (*Response, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id, ch, err := t.d.register()
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, &Request{ID: NumericID(id), Method: method, Params: raw}); err != nil {
		t.d.forget(id)
		return nil, err
	}
	msg, err := t.d.await(ctx, ch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, t.transportErr(TransportTimeout, method, err)
		}
		return nil, err
	}
	return responseOf(t.ErrorContext(), method, msg)
}

// responseOf converts a correlated answer into a Response or ProtocolError.
func responseOf(ec ErrorContext, method string, msg Message) (*Response, error) {
	switch m := msg.(type) {
	case *Response:
		return m, nil
	case *ErrorResponse:
		return nil, &ProtocolError{
			Context: ec,
			Method:  method,
			Code:    m.Error.Code,
			Message: m.Error.Message,
			Data:    m.Error.Data,
		}
	default:
		return nil, fmt.Errorf("unexpected %s in reply to %s", msg.Kind(), method)
	}
}

// Receive returns the next server notification or request.
func (t *StdioTransport) Receive(ctx context.Context) (Message, error) {
	return t.d.inbound.pop(ctx)
}

// IsConnected reports whether the child is running and the stream is
// healthy.
func (t *StdioTransport) IsConnected() bool {
	if !t.connected.Load() || t.d.isClosed() {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Pid returns the child's pid, or 0 before Connect.
func (t *StdioTransport) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// Close closes stdin, gives the server a moment to exit, then terminates
// its process tree. ctx bounds the whole sequence.
func (t *StdioTransport) Close(ctx context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		t.connected.Store(false)

		t.mu.Lock()
		cmd, stdin, stdout, errPipe := t.cmd, t.stdin, t.stdout, t.errPipe
		t.mu.Unlock()

		if cmd == nil {
			t.d.fail(t.transportErr(TransportClosed, "", nil))
			return
		}
		_ = stdin.Close()

		wait := time.NewTimer(stdinCloseWait)
		select {
		case <-t.done:
		case <-wait.C:
		case <-ctx.Done():
		}
		wait.Stop()

		p := proc.NewProcess(cmd.Process.Pid, t.done)
		err = proc.TerminateProcessTree(ctx, p, t.opts.strategy, proc.Options{Grace: t.opts.grace, Logger: &t.log})

		select {
		case <-t.done:
		case <-ctx.Done():
			t.log.Warn().Int("pid", cmd.Process.Pid).Msg("mcp server did not exit before close deadline")
		}
		_ = stdout.Close()
		_ = errPipe.Close()
		t.d.fail(t.transportErr(TransportClosed, "", nil))
	})
	return err
}
