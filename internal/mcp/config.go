package mcp

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Defaults applied by ServerConfig when a field is zero.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Source records which config file and layer defined a server.
type Source struct {
	Path  string `json:"path,omitempty"`
	Layer string `json:"layer,omitempty"`
}

// ServerConfig is a normalized server definition. Exactly one of Command and
// URL is set. It is a value type: copy it, don't mutate a shared one.
type ServerConfig struct {
	Name string `json:"name"`

	// Stdio servers.
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	EnvPassthrough []string          `json:"envPassthrough,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`

	// HTTP servers.
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// MaxRetries bounds HTTP retries on transient statuses. Nil means
	// DefaultMaxRetries; zero disables retries.
	MaxRetries    *int          `json:"maxRetries,omitempty"`
	RetryBackoff  time.Duration `json:"retryBackoff,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	FailIfNoTools bool          `json:"failIfNoTools,omitempty"`

	IncludeTools []string `json:"includeTools,omitempty"`
	ExcludeTools []string `json:"excludeTools,omitempty"`
	Disabled     bool     `json:"disabled,omitempty"`

	Source Source `json:"source,omitempty"`
}

// TransportKind names the transport a config selects.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// Transport reports which transport the config selects.
func (c ServerConfig) Transport() TransportKind {
	if c.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// Target is the resolved connection target: an argv for stdio servers or a
// URL for HTTP servers.
type Target struct {
	Kind TransportKind
	Argv []string
	URL  string
}

func (t Target) String() string {
	if t.Kind == TransportHTTP {
		return t.URL
	}
	return strings.Join(t.Argv, " ")
}

// ResolveTarget maps a config to its argv or URL. It performs no I/O.
func ResolveTarget(c ServerConfig) (Target, error) {
	if err := c.Validate(); err != nil {
		return Target{}, err
	}
	if c.URL != "" {
		return Target{Kind: TransportHTTP, URL: c.URL}, nil
	}
	argv := make([]string, 0, 1+len(c.Args))
	argv = append(argv, c.Command)
	argv = append(argv, c.Args...)
	return Target{Kind: TransportStdio, Argv: argv}, nil
}

// Validate checks the definition once, at the registry boundary.
func (c ServerConfig) Validate() error {
	fail := func(field, problem string) error {
		return &ConfigError{Context: c.errorContext(), Field: field, Problem: problem}
	}

	if strings.TrimSpace(c.Name) == "" {
		return fail("name", "must not be empty")
	}
	hasCmd := strings.TrimSpace(c.Command) != ""
	hasURL := strings.TrimSpace(c.URL) != ""
	switch {
	case hasCmd && hasURL:
		return fail("", "both command and url are set; choose one transport")
	case !hasCmd && !hasURL:
		return fail("", "neither command nor url is set")
	case !hasCmd && len(c.Args) > 0:
		return fail("args", "args require a command")
	case hasURL && (len(c.Env) > 0 || len(c.EnvPassthrough) > 0 || c.Cwd != ""):
		return fail("url", "env, envPassthrough and cwd only apply to command servers")
	case hasCmd && len(c.Headers) > 0:
		return fail("headers", "headers only apply to url servers")
	}
	if hasURL {
		if err := ValidateURL(c.URL); err != nil {
			return fail("url", err.Error())
		}
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fail("maxRetries", "must not be negative")
	}
	if c.RetryBackoff < 0 {
		return fail("retryBackoff", "must not be negative")
	}
	if c.Timeout < 0 {
		return fail("timeout", "must not be negative")
	}
	for _, p := range slices.Concat(c.IncludeTools, c.ExcludeTools) {
		if !doublestar.ValidatePattern(p) {
			return fail("includeTools/excludeTools", fmt.Sprintf("invalid glob %q", p))
		}
	}
	for _, name := range c.EnvPassthrough {
		if name == "" || strings.ContainsAny(name, "=\x00") {
			return fail("envPassthrough", fmt.Sprintf("invalid variable name %q", name))
		}
	}
	return nil
}

// Equal reports whether two configs describe the same connection.
func (c ServerConfig) Equal(o ServerConfig) bool {
	return c.Name == o.Name &&
		c.Command == o.Command &&
		slices.Equal(c.Args, o.Args) &&
		maps.Equal(c.Env, o.Env) &&
		slices.Equal(c.EnvPassthrough, o.EnvPassthrough) &&
		c.Cwd == o.Cwd &&
		c.URL == o.URL &&
		maps.Equal(c.Headers, o.Headers) &&
		c.maxRetries() == o.maxRetries() &&
		c.RetryBackoff == o.RetryBackoff &&
		c.Timeout == o.Timeout &&
		c.FailIfNoTools == o.FailIfNoTools &&
		slices.Equal(c.IncludeTools, o.IncludeTools) &&
		slices.Equal(c.ExcludeTools, o.ExcludeTools) &&
		c.Disabled == o.Disabled
}

// AllowsTool applies the include/exclude globs to a tool name. An empty
// include list admits everything; excludes win over includes.
func (c ServerConfig) AllowsTool(name string) bool {
	if len(c.IncludeTools) > 0 {
		matched := false
		for _, p := range c.IncludeTools {
			if ok, _ := doublestar.Match(p, name); ok {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	for _, p := range c.ExcludeTools {
		if ok, _ := doublestar.Match(p, name); ok {
			return false
		}
	}
	return true
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c ServerConfig) maxRetries() int {
	if c.MaxRetries != nil {
		return *c.MaxRetries
	}
	return DefaultMaxRetries
}

func (c ServerConfig) retryBackoff() time.Duration {
	if c.RetryBackoff > 0 {
		return c.RetryBackoff
	}
	return DefaultRetryBackoff
}

func (c ServerConfig) errorContext() ErrorContext {
	ec := ErrorContext{
		Server:      c.Name,
		SourcePath:  c.Source.Path,
		SourceLayer: c.Source.Layer,
		URL:         c.URL,
	}
	if c.Command != "" {
		ec.Command = append([]string{c.Command}, c.Args...)
	}
	return ec
}
