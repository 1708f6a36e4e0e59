package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/opencode-ai/mcphost/internal/mcp"
)

// serverEntry is one server as written in a config file.
type serverEntry struct {
	Type           string            `json:"type,omitempty"`
	Command        commandLine       `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	EnvFile        string            `json:"envFile,omitempty"`
	EnvPassthrough []string          `json:"envPassthrough,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`
	URL            string            `json:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Timeout        duration          `json:"timeout,omitempty"`
	MaxRetries     *int              `json:"maxRetries,omitempty"`
	RetryBackoff   duration          `json:"retryBackoff,omitempty"`
	FailIfNoTools  bool              `json:"failIfNoTools,omitempty"`
	IncludeTools   []string          `json:"includeTools,omitempty"`
	ExcludeTools   []string          `json:"excludeTools,omitempty"`
	Disabled       bool              `json:"disabled,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

// commandLine accepts "npx" or ["npx", "-y", "server"].
type commandLine []string

func (c *commandLine) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*c = nil
		} else {
			*c = commandLine{s}
		}
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return errors.New("command must be a string or an array of strings")
	}
	*c = argv
	return nil
}

// duration accepts a Go duration string ("30s") or a number of
// milliseconds.
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*d = duration(v)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration %s must be a string like \"30s\" or milliseconds", data)
	}
	*d = duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

var transportTypes = map[string]mcp.TransportKind{
	"":                mcp.TransportKind(""),
	"stdio":           mcp.TransportStdio,
	"local":           mcp.TransportStdio,
	"http":            mcp.TransportHTTP,
	"remote":          mcp.TransportHTTP,
	"streamable-http": mcp.TransportHTTP,
}

// DecodeServer turns one config-file entry into a ServerConfig. Problems
// are reported as *mcp.ConfigError carrying the source.
func DecodeServer(name string, raw json.RawMessage, src mcp.Source, baseDir string) (mcp.ServerConfig, error) {
	fail := func(field, problem string) error {
		return &mcp.ConfigError{
			Context: mcp.ErrorContext{Server: name, SourcePath: src.Path, SourceLayer: src.Layer},
			Field:   field,
			Problem: problem,
		}
	}

	var e serverEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) && ute.Field != "" {
			return mcp.ServerConfig{}, fail(ute.Field, fmt.Sprintf("expected %s, got %s", ute.Type, ute.Value))
		}
		return mcp.ServerConfig{}, fail("", err.Error())
	}

	kind, ok := transportTypes[strings.ToLower(e.Type)]
	if !ok {
		return mcp.ServerConfig{}, fail("type", fmt.Sprintf("unknown transport %q", e.Type))
	}
	switch {
	case kind == mcp.TransportStdio && e.URL != "":
		return mcp.ServerConfig{}, fail("type", fmt.Sprintf("%q servers take a command, not a url", e.Type))
	case kind == mcp.TransportHTTP && len(e.Command) > 0:
		return mcp.ServerConfig{}, fail("type", fmt.Sprintf("%q servers take a url, not a command", e.Type))
	}

	cfg := mcp.ServerConfig{
		Name:           name,
		EnvPassthrough: e.EnvPassthrough,
		URL:            e.URL,
		Headers:        e.Headers,
		Timeout:        time.Duration(e.Timeout),
		MaxRetries:     e.MaxRetries,
		RetryBackoff:   time.Duration(e.RetryBackoff),
		FailIfNoTools:  e.FailIfNoTools,
		IncludeTools:   e.IncludeTools,
		ExcludeTools:   e.ExcludeTools,
		Disabled:       e.Disabled || (e.Enabled != nil && !*e.Enabled),
		Source:         src,
	}
	if len(e.Command) > 0 {
		cfg.Command = e.Command[0]
		cfg.Args = append(append([]string(nil), e.Command[1:]...), e.Args...)
	} else {
		cfg.Args = e.Args
	}
	if e.Cwd != "" {
		cfg.Cwd = resolvePath(e.Cwd, baseDir)
	}

	env := make(map[string]string)
	if e.EnvFile != "" {
		fromFile, err := godotenv.Read(resolvePath(e.EnvFile, baseDir))
		if err != nil {
			return mcp.ServerConfig{}, fail("envFile", err.Error())
		}
		maps.Copy(env, fromFile)
	}
	maps.Copy(env, e.Environment)
	maps.Copy(env, e.Env)
	if len(env) > 0 {
		cfg.Env = env
	}
	return cfg, nil
}
