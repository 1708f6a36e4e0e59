package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by the registry.
var (
	ErrServerNotFound = errors.New("mcp server not found")
	ErrServerExists   = errors.New("mcp server already connected")
	ErrNotConnected   = errors.New("mcp server not connected")
	ErrSkillNotFound  = errors.New("mcp skill not found")
)

// ErrorContext records where a failing server came from. It is carried by
// every error this package surfaces and never drives control flow.
type ErrorContext struct {
	Server      string   `json:"server"`
	SourcePath  string   `json:"sourcePath,omitempty"`
	SourceLayer string   `json:"sourceLayer,omitempty"`
	Command     []string `json:"command,omitempty"`
	URL         string   `json:"url,omitempty"`
	StderrTail  []string `json:"stderrTail,omitempty"`
}

// Origin describes the config source in one phrase.
func (c ErrorContext) Origin() string {
	switch {
	case c.SourceLayer != "" && c.SourcePath != "":
		return fmt.Sprintf("%s config %s", c.SourceLayer, c.SourcePath)
	case c.SourcePath != "":
		return c.SourcePath
	case c.SourceLayer != "":
		return c.SourceLayer + " config"
	default:
		return ""
	}
}

// Target is the command line or URL of the server.
func (c ErrorContext) Target() string {
	if c.URL != "" {
		return c.URL
	}
	return strings.Join(c.Command, " ")
}

// ConfigError reports an invalid server definition.
type ConfigError struct {
	Context ErrorContext
	Field   string
	Problem string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("mcp server %q: invalid %s: %s", e.Context.Server, e.Field, e.Problem)
	}
	return fmt.Sprintf("mcp server %q: %s", e.Context.Server, e.Problem)
}

// TransportErrorKind classifies a transport failure.
type TransportErrorKind string

const (
	TransportSpawn          TransportErrorKind = "spawn"
	TransportNotFound       TransportErrorKind = "not_found"
	TransportRefused        TransportErrorKind = "refused"
	TransportMalformedFrame TransportErrorKind = "malformed_frame"
	TransportFrameTooLarge  TransportErrorKind = "frame_too_large"
	TransportTimeout        TransportErrorKind = "timeout"
	TransportExited         TransportErrorKind = "exited"
	TransportClosed         TransportErrorKind = "closed"
	TransportHTTPStatus     TransportErrorKind = "http_status"
	TransportSessionExpired TransportErrorKind = "session_expired"
	TransportIO             TransportErrorKind = "io"
)

// FrameError locates a malformed frame in the stream.
type FrameError struct {
	Line    int
	Column  int64
	Snippet string
}

// TransportError is fatal to one connection.
type TransportError struct {
	Context    ErrorContext
	Kind       TransportErrorKind
	Op         string
	Executable string
	ExitCode   int
	StatusCode int
	Frame      *FrameError
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mcp server %q: ", e.Context.Server)
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch e.Kind {
	case TransportNotFound:
		fmt.Fprintf(&b, "executable %q not found", e.Executable)
	case TransportExited:
		fmt.Fprintf(&b, "process exited with code %d", e.ExitCode)
	case TransportHTTPStatus:
		fmt.Fprintf(&b, "http status %d", e.StatusCode)
	case TransportSessionExpired:
		b.WriteString("session expired")
	case TransportFrameTooLarge:
		b.WriteString("frame exceeds size limit")
	case TransportMalformedFrame:
		if e.Frame != nil {
			fmt.Fprintf(&b, "malformed frame at line %d column %d", e.Frame.Line, e.Frame.Column)
		} else {
			b.WriteString("malformed frame")
		}
	default:
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a JSON-RPC error answer to one request. The connection
// stays usable.
type ProtocolError struct {
	Context ErrorContext
	Method  string
	Code    int
	Message string
	Data    []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp server %q: %s failed: %s (code %d)", e.Context.Server, e.Method, e.Message, e.Code)
}

// IsTransportError reports whether err is, or wraps, a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ContextOf extracts the ErrorContext carried by err, if any.
func ContextOf(err error) (ErrorContext, bool) {
	var (
		ce *ConfigError
		te *TransportError
		pe *ProtocolError
	)
	switch {
	case errors.As(err, &te):
		return te.Context, true
	case errors.As(err, &pe):
		return pe.Context, true
	case errors.As(err, &ce):
		return ce.Context, true
	}
	return ErrorContext{}, false
}
