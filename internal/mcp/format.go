package mcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opencode-ai/mcphost/internal/sanitize"
)

// FormatError renders err as a short diagnostic block suitable for showing
// to the agent or the user. The output is always sanitized.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	var (
		b  strings.Builder
		ce *ConfigError
		te *TransportError
		pe *ProtocolError
	)
	switch {
	case errors.As(err, &ce):
		header(&b, ce.Context)
		line(&b, "problem", configProblem(ce))
		if ce.Field != "" {
			line(&b, "fix", fmt.Sprintf("correct the %q field of this server definition", ce.Field))
		}
	case errors.As(err, &te):
		header(&b, te.Context)
		writeTransport(&b, te)
	case errors.As(err, &pe):
		header(&b, pe.Context)
		line(&b, "problem", fmt.Sprintf("%s returned error %d: %s", pe.Method, pe.Code, pe.Message))
		if pe.Code == CodeMethodNotFound {
			line(&b, "fix", "the server does not implement this method")
		} else if pe.Code == CodeInvalidParams {
			line(&b, "fix", "check the arguments against the tool's input schema")
		}
	default:
		b.WriteString("MCP error\n")
		line(&b, "problem", err.Error())
	}
	return sanitize.Text(strings.TrimRight(b.String(), "\n"))
}

func header(b *strings.Builder, c ErrorContext) {
	fmt.Fprintf(b, "MCP server %q", c.Server)
	if o := c.Origin(); o != "" {
		fmt.Fprintf(b, " (from %s)", o)
	}
	b.WriteString("\n")
	if t := c.Target(); t != "" {
		if c.URL != "" {
			line(b, "url", t)
		} else {
			line(b, "command", t)
		}
	}
}

func line(b *strings.Builder, label, text string) {
	fmt.Fprintf(b, "  %s: %s\n", label, text)
}

func configProblem(e *ConfigError) string {
	if e.Field == "" {
		return e.Problem
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Problem)
}

func writeTransport(b *strings.Builder, e *TransportError) {
	switch e.Kind {
	case TransportNotFound:
		line(b, "problem", fmt.Sprintf("launcher %q was not found", e.Executable))
		line(b, "fix", "install it or add its directory to PATH; on Windows make sure PATHEXT lists its extension (.cmd, .bat)")
	case TransportSpawn:
		line(b, "problem", "could not start the server process: "+errText(e.Err))
		line(b, "fix", "check that the command is executable and cwd exists")
	case TransportExited:
		line(b, "problem", fmt.Sprintf("server process exited with code %d", e.ExitCode))
	case TransportMalformedFrame:
		if e.Frame != nil {
			line(b, "problem", fmt.Sprintf("malformed JSON on stdout at line %d, column %d", e.Frame.Line, e.Frame.Column))
			if e.Frame.Snippet != "" {
				line(b, "frame", e.Frame.Snippet)
			}
		} else {
			line(b, "problem", "malformed JSON-RPC frame: "+errText(e.Err))
		}
		line(b, "fix", "the server must write only JSON-RPC messages to stdout; send logs to stderr")
	case TransportFrameTooLarge:
		line(b, "problem", fmt.Sprintf("a single frame exceeded %d bytes", MaxFrameSize))
	case TransportTimeout:
		line(b, "problem", "timed out waiting for the server")
		line(b, "fix", "raise the server timeout or check that it starts promptly")
	case TransportRefused:
		line(b, "problem", "connection refused: "+errText(e.Err))
		line(b, "fix", "check that the server is running and the url is correct")
	case TransportHTTPStatus:
		line(b, "problem", fmt.Sprintf("HTTP %d: %s", e.StatusCode, errText(e.Err)))
		switch {
		case e.StatusCode == 401 || e.StatusCode == 403:
			line(b, "fix", "check the authorization headers for this server")
		case e.StatusCode >= 300 && e.StatusCode < 400:
			line(b, "fix", "redirects are not followed; configure the final url directly")
		}
	case TransportSessionExpired:
		line(b, "problem", "the server no longer recognises this session")
		line(b, "fix", "the connection will be re-established on next use")
	default:
		line(b, "problem", errText(e))
	}
	if len(e.Context.StderrTail) > 0 {
		fmt.Fprintf(b, "  stderr (last %d lines):\n", len(e.Context.StderrTail))
		for _, l := range e.Context.StderrTail {
			fmt.Fprintf(b, "    %s\n", l)
		}
	}
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
