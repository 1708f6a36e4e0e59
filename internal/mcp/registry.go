package mcp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/mcphost/internal/event"
	"github.com/opencode-ai/mcphost/internal/logging"
)

// DefaultCloseTimeout bounds closing one server during disconnect or
// shutdown.
const DefaultCloseTimeout = 5 * time.Second

// Scope controls which callers see a server's skills. It is a read-side
// filter only.
type Scope struct {
	// Owner is empty for servers shared by every caller.
	Owner string `json:"owner,omitempty"`
}

// SharedScope makes a server visible to every caller.
func SharedScope() Scope { return Scope{} }

// PrivateScope makes a server visible only to owner.
func PrivateScope(owner string) Scope { return Scope{Owner: owner} }

// Shared reports whether every caller can see the server.
func (s Scope) Shared() bool { return s.Owner == "" }

// VisibleTo reports whether caller may see the server.
func (s Scope) VisibleTo(caller string) bool {
	return s.Owner == "" || s.Owner == caller
}

func (s Scope) String() string {
	if s.Shared() {
		return "shared"
	}
	return "private:" + s.Owner
}

// TransportFactory builds the transport for one connection attempt.
type TransportFactory func(cfg ServerConfig) Transport

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTransportFactory replaces NewTransport, mainly for tests.
func WithTransportFactory(f TransportFactory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithTransportOptions passes options to every transport built by the
// default factory.
func WithTransportOptions(opts ...TransportOption) RegistryOption {
	return func(r *Registry) { r.transportOpts = append(r.transportOpts, opts...) }
}

// WithEventBus publishes server lifecycle events to bus.
func WithEventBus(bus *event.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithCloseTimeout overrides DefaultCloseTimeout.
func WithCloseTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// WithRegistryClientInfo sets the identity sent in every handshake.
func WithRegistryClientInfo(info Implementation) RegistryOption {
	return func(r *Registry) { r.clientInfo = info }
}

// WithRegistryLogger sets the registry's logger.
func WithRegistryLogger(l zerolog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// ConnectOption configures one Connect call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	scope  Scope
	pinned bool
}

// WithScope sets the visibility of the server. The default is shared.
func WithScope(s Scope) ConnectOption {
	return func(o *connectOptions) { o.scope = s }
}

// Pinned keeps the server out of Sync: it is neither replaced nor removed
// when the config set changes. Used for servers added at runtime.
func Pinned() ConnectOption {
	return func(o *connectOptions) { o.pinned = true }
}

// Registry owns the connected servers of one host process. It is an
// explicit object; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*ConnectedServer

	factory       TransportFactory
	transportOpts []TransportOption
	bus           *event.Bus
	closeTimeout  time.Duration
	clientInfo    Implementation
	log           zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		servers:      make(map[string]*ConnectedServer),
		closeTimeout: DefaultCloseTimeout,
		clientInfo:   DefaultClientInfo,
		log:          logging.Component("mcp.registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.factory == nil {
		r.factory = func(cfg ServerConfig) Transport {
			return NewTransport(cfg, append([]TransportOption{WithLogger(r.log)}, r.transportOpts...)...)
		}
	}
	return r
}

// ConnectedServer is one registry entry. Its mutex serializes reconnects
// and rediscovery against in-flight tool calls, which hold the read lock.
type ConnectedServer struct {
	reg *Registry

	mu       sync.RWMutex
	id       string
	config   ServerConfig
	scope    Scope
	pinned   bool
	client   *Client
	tools    []Tool
	skills   []*Skill
	state    State
	lastErr  error
	warnings []string

	// live mirrors client so Disconnect can close it without waiting for
	// the write lock.
	live    atomic.Pointer[Client]
	removed atomic.Bool
	dirty   atomic.Bool
}

// Name returns the server's unique name.
func (s *ConnectedServer) Name() string { return s.config.Name }

// Config returns the validated definition.
func (s *ConnectedServer) Config() ServerConfig { return s.config }

// Scope returns the server's visibility.
func (s *ConnectedServer) Scope() Scope { return s.scope }

// Pinned reports whether Sync leaves the server alone.
func (s *ConnectedServer) Pinned() bool { return s.pinned }

// ID returns the identifier of the current connection generation.
func (s *ConnectedServer) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the registry-level state.
func (s *ConnectedServer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

func (s *ConnectedServer) stateLocked() State {
	if s.state == StateActive && s.client != nil && !s.client.IsConnected() {
		return StateStale
	}
	return s.state
}

// Tools returns the last discovered tool list after include/exclude
// filtering.
func (s *ConnectedServer) Tools() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tools)
}

// Skills returns the adapters built from the last discovery without any
// liveness check. Registry.Skills is the checked read.
func (s *ConnectedServer) Skills() []*Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.skills)
}

// Err returns the last connection or discovery error.
func (s *ConnectedServer) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Status returns a read-only snapshot.
func (s *ConnectedServer) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := ServerStatus{
		Name:         s.config.Name,
		ConnectionID: s.id,
		State:        s.stateLocked(),
		Transport:    string(s.config.Transport()),
		Target:       s.config.errorContext().Target(),
		ToolCount:    len(s.tools),
		Scope:        s.scope.String(),
		Pinned:       s.pinned,
		Source:       s.config.errorContext().Origin(),
		Warnings:     slices.Clone(s.warnings),
	}
	if s.client != nil {
		if ir := s.client.InitializeResult(); ir != nil {
			st.Server = ir.ServerInfo.Name
			st.Protocol = ir.ProtocolVersion
		}
	}
	if s.lastErr != nil {
		msg := FormatError(s.lastErr)
		st.Error = &msg
	}
	return st
}

func (s *ConnectedServer) publish(t event.EventType) {
	s.reg.publish(t, s)
}

// Connect validates cfg, connects, handshakes and discovers tools. The
// server is registered only if the handshake succeeds; a discovery failure
// leaves it registered with no skills unless FailIfNoTools is set.
func (r *Registry) Connect(ctx context.Context, cfg ServerConfig, opts ...ConnectOption) (*ConnectedServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Disabled {
		return nil, &ConfigError{Context: cfg.errorContext(), Field: "disabled", Problem: "server is disabled"}
	}
	var o connectOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.RLock()
	_, exists := r.servers[cfg.Name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrServerExists, cfg.Name)
	}

	srv := &ConnectedServer{reg: r, config: cfg, scope: o.scope, pinned: o.pinned, state: StateConnecting}
	srv.mu.Lock()
	err := srv.establishLocked(ctx)
	srv.mu.Unlock()
	if err != nil {
		r.log.Warn().Str("mcp_server", cfg.Name).Msg(FormatError(err))
		r.publishErr(event.ServerFailed, cfg.Name, err)
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.servers[cfg.Name]; exists {
		r.mu.Unlock()
		srv.closeClient(ctx)
		return nil, fmt.Errorf("%w: %s", ErrServerExists, cfg.Name)
	}
	r.servers[cfg.Name] = srv
	r.mu.Unlock()

	r.log.Info().Str("mcp_server", cfg.Name).Str("transport", string(cfg.Transport())).
		Int("tools", len(srv.Tools())).Msg("mcp server connected")
	srv.mu.RLock()
	srv.publish(event.ServerConnected)
	srv.mu.RUnlock()
	return srv, nil
}

// establishLocked builds a fresh transport and client and runs discovery.
// On failure nothing is left running.
func (s *ConnectedServer) establishLocked(ctx context.Context) error {
	r := s.reg
	cfg := s.config

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	t := r.factory(cfg)
	client := NewClient(cfg.Name, t,
		WithClientInfo(r.clientInfo),
		WithClientLogger(r.log),
		WithRequestTimeout(cfg.timeout()),
	)
	client.OnToolsChanged(func() {
		s.dirty.Store(true)
		r.log.Debug().Str("mcp_server", cfg.Name).Msg("tool list changed")
	})

	fail := func(err error) error {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), r.closeTimeout)
		defer closeCancel()
		_ = client.Close(closeCtx)
		s.tools = nil
		s.skills = nil
		s.lastErr = err
		s.state = StateFailed
		return err
	}

	if err := client.Connect(ctx); err != nil {
		return fail(err)
	}
	if _, err := client.Initialize(ctx); err != nil {
		return fail(err)
	}

	s.setClientLocked(client)
	s.id = ulid.Make().String()
	s.lastErr = nil
	s.warnings = nil
	s.dirty.Store(false)

	if err := s.discoverLocked(ctx); err != nil {
		if cfg.FailIfNoTools {
			s.setClientLocked(nil)
			return fail(err)
		}
	} else if cfg.FailIfNoTools && len(s.tools) == 0 {
		s.setClientLocked(nil)
		return fail(&ProtocolError{
			Context: t.ErrorContext(),
			Method:  MethodToolsList,
			Message: "server exposes no tools and failIfNoTools is set",
		})
	}
	s.state = StateActive
	return nil
}

// discoverLocked lists tools and rebuilds the skills. A failure empties the
// skill set and is recorded as a warning; the connection is kept.
func (s *ConnectedServer) discoverLocked(ctx context.Context) error {
	tools, err := s.client.ListTools(ctx)
	if err != nil {
		s.tools = nil
		s.skills = nil
		s.lastErr = err
		s.warnings = append(s.warnings, "tool discovery failed: "+FormatError(err))
		s.reg.log.Warn().Str("mcp_server", s.config.Name).Msg(FormatError(err))
		s.publish(event.ToolsDiscoveryFail)
		return err
	}

	filtered := tools[:0:0]
	for _, t := range tools {
		if s.config.AllowsTool(t.Name) {
			filtered = append(filtered, t)
		}
	}
	skills := make([]*Skill, 0, len(filtered))
	for _, t := range filtered {
		skills = append(skills, newSkill(s, t))
	}
	s.tools = filtered
	s.skills = skills
	s.lastErr = nil
	s.warnings = nil
	s.reg.log.Debug().Str("mcp_server", s.config.Name).Int("listed", len(tools)).
		Int("kept", len(filtered)).Msg("mcp tools discovered")
	s.publish(event.ToolsUpdated)
	return nil
}

// RetryTools re-runs discovery on an existing connection without
// reconnecting.
func (r *Registry) RetryTools(ctx context.Context, name string) ([]Tool, error) {
	srv, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.removed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if srv.client == nil || !srv.client.IsConnected() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	if err := srv.discoverLocked(ctx); err != nil {
		return nil, err
	}
	srv.dirty.Store(false)
	return slices.Clone(srv.tools), nil
}

// Reconnect replaces the server's transport and client and rediscovers its
// tools. It waits for in-flight calls on that server to finish.
func (r *Registry) Reconnect(ctx context.Context, name string) error {
	srv, err := r.Get(name)
	if err != nil {
		return err
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.removed.Load() {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return srv.reconnectLocked(ctx)
}

func (s *ConnectedServer) reconnectLocked(ctx context.Context) error {
	s.state = StateReconnecting

	if s.client != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), s.reg.closeTimeout)
		_ = s.client.Close(closeCtx)
		cancel()
		s.setClientLocked(nil)
	}
	s.tools = nil
	s.skills = nil

	if err := s.establishLocked(ctx); err != nil {
		s.reg.log.Warn().Str("mcp_server", s.config.Name).Msg("reconnect failed: " + FormatError(err))
		s.publish(event.ServerFailed)
		return err
	}
	s.reg.log.Info().Str("mcp_server", s.config.Name).Str("connection_id", s.id).Msg("mcp server reconnected")
	s.publish(event.ServerReconnected)
	return nil
}

// refresh makes the server's skills current for one read: it rediscovers
// after a list_changed notification and reconnects once if the connection
// is dead.
func (s *ConnectedServer) refresh(ctx context.Context) ([]*Skill, error) {
	s.mu.RLock()
	healthy := s.healthyLocked()
	if healthy && !s.dirty.Load() {
		skills := s.skills
		s.mu.RUnlock()
		return skills, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, s.config.Name)
	}
	if !s.healthyLocked() {
		s.reg.log.Warn().Str("mcp_server", s.config.Name).Str("state", string(s.state)).
			Msg("mcp server is not connected, reconnecting")
		if s.state == StateActive {
			s.state = StateStale
		}
		s.publish(event.ServerStale)
		if err := s.reconnectLocked(ctx); err != nil {
			return nil, err
		}
		return s.skills, nil
	}
	if s.dirty.CompareAndSwap(true, false) {
		// A failed rediscovery leaves the connection up with no skills.
		_ = s.discoverLocked(ctx)
	}
	return s.skills, nil
}

func (s *ConnectedServer) healthyLocked() bool {
	return s.state == StateActive && s.client != nil && s.client.IsConnected()
}

// DegradedServer names a server skipped by a Skills read.
type DegradedServer struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// SkillSet is the result of a checked registry read.
type SkillSet struct {
	Skills   []*Skill
	Degraded []DegradedServer
}

// Skills returns every skill visible to callerID. Each server is checked
// for liveness first; dead servers get one reconnect attempt, concurrently
// across servers, and are reported as degraded if it fails.
func (r *Registry) Skills(ctx context.Context, callerID string) SkillSet {
	servers := r.visible(callerID)

	results := make([][]*Skill, len(servers))
	errs := make([]error, len(servers))
	var g errgroup.Group
	for i, srv := range servers {
		g.Go(func() error {
			results[i], errs[i] = srv.refresh(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var set SkillSet
	for i, srv := range servers {
		if errs[i] != nil {
			if errors.Is(errs[i], ErrServerNotFound) {
				continue
			}
			r.log.Warn().Str("mcp_server", srv.Name()).Msg("skipping mcp server for this read")
			set.Degraded = append(set.Degraded, DegradedServer{Name: srv.Name(), Error: FormatError(errs[i])})
			continue
		}
		set.Skills = append(set.Skills, results[i]...)
	}
	return set
}

// FindSkill returns the skill with id if it is visible to callerID.
func (r *Registry) FindSkill(ctx context.Context, callerID, id string) (*Skill, error) {
	for _, s := range r.Skills(ctx, callerID).Skills {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSkillNotFound, id)
}

func (r *Registry) visible(callerID string) []*ConnectedServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ConnectedServer, 0, len(r.servers))
	for _, srv := range r.servers {
		if srv.scope.VisibleTo(callerID) {
			out = append(out, srv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Disconnect closes the server within the close timeout and removes it.
func (r *Registry) Disconnect(ctx context.Context, name string) error {
	r.mu.Lock()
	srv, ok := r.servers[name]
	if ok {
		delete(r.servers, name)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}

	// Close before locking so in-flight calls fail fast and release the
	// read lock. Taking even the read lock here could queue behind a
	// pending writer that is itself waiting on a long call.
	srv.removed.Store(true)
	client := srv.live.Swap(nil)
	if client != nil {
		r.closeWithTimeout(ctx, client)
	}

	srv.mu.Lock()
	// a reconnect that held the lock may have installed a newer client
	if srv.client != nil && srv.client != client {
		r.closeWithTimeout(ctx, srv.client)
	}
	srv.setClientLocked(nil)
	srv.skills = nil
	srv.state = StateDisconnected
	srv.publish(event.ServerDisconnected)
	srv.mu.Unlock()

	r.log.Info().Str("mcp_server", name).Msg("mcp server disconnected")
	return nil
}

func (r *Registry) closeWithTimeout(ctx context.Context, c *Client) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.closeTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		r.log.Debug().Err(err).Str("mcp_server", c.Name()).Msg("close reported an error")
	}
}

func (s *ConnectedServer) setClientLocked(c *Client) {
	s.client = c
	s.live.Store(c)
}

func (s *ConnectedServer) closeClient(ctx context.Context) {
	if s.client != nil {
		s.reg.closeWithTimeout(ctx, s.client)
	}
}

// Shutdown disconnects every server concurrently.
func (r *Registry) Shutdown(ctx context.Context) error {
	names := r.Names()
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if err := r.Disconnect(ctx, name); err != nil && !errors.Is(err, ErrServerNotFound) {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// ConnectAll connects every enabled definition concurrently. Failures are
// joined; successful servers stay registered.
func (r *Registry) ConnectAll(ctx context.Context, defs []ServerConfig, opts ...ConnectOption) error {
	errs := make([]error, len(defs))
	var g errgroup.Group
	for i, cfg := range defs {
		if cfg.Disabled {
			continue
		}
		g.Go(func() error {
			_, errs[i] = r.Connect(ctx, cfg, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Sync reconciles the registry with defs: servers no longer defined or now
// disabled are removed, changed definitions are reconnected and new ones
// connected. Scopes of kept servers are preserved. Pinned servers are
// skipped, and a definition sharing a pinned server's name is ignored.
func (r *Registry) Sync(ctx context.Context, defs []ServerConfig) error {
	want := make(map[string]ServerConfig, len(defs))
	for _, cfg := range defs {
		if !cfg.Disabled {
			want[cfg.Name] = cfg
		}
	}

	var errs []error
	for _, name := range r.Names() {
		if srv, err := r.Get(name); err == nil && srv.Pinned() {
			if _, clash := want[name]; clash {
				r.log.Warn().Str("mcp_server", name).Msg("config definition ignored, server was added at runtime")
				delete(want, name)
			}
			continue
		}
		cfg, keep := want[name]
		if keep {
			srv, err := r.Get(name)
			if err != nil {
				continue
			}
			if srv.Config().Equal(cfg) {
				delete(want, name)
				continue
			}
			scope := srv.Scope()
			if err := r.Disconnect(ctx, name); err != nil && !errors.Is(err, ErrServerNotFound) {
				errs = append(errs, err)
			}
			if _, err := r.Connect(ctx, cfg, WithScope(scope)); err != nil {
				errs = append(errs, err)
			}
			delete(want, name)
			continue
		}
		if err := r.Disconnect(ctx, name); err != nil && !errors.Is(err, ErrServerNotFound) {
			errs = append(errs, err)
		}
	}

	added := make([]ServerConfig, 0, len(want))
	for _, cfg := range want {
		added = append(added, cfg)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Name < added[j].Name })
	if err := r.ConnectAll(ctx, added); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Get returns the named server.
func (r *Registry) Get(name string) (*ConnectedServer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	srv, ok := r.servers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	return srv, nil
}

// Names returns the registered server names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns a snapshot of every server, ordered by name.
func (r *Registry) Status() []ServerStatus {
	r.mu.RLock()
	servers := make([]*ConnectedServer, 0, len(r.servers))
	for _, srv := range r.servers {
		servers = append(servers, srv)
	}
	r.mu.RUnlock()

	out := make([]ServerStatus, 0, len(servers))
	for _, srv := range servers {
		out = append(out, srv.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ServerStatus returns the snapshot of one server.
func (r *Registry) ServerStatus(name string) (ServerStatus, error) {
	srv, err := r.Get(name)
	if err != nil {
		return ServerStatus{}, err
	}
	return srv.Status(), nil
}

func (r *Registry) publish(t event.EventType, s *ConnectedServer) {
	if r.bus == nil {
		return
	}
	// Callers hold s.mu.
	data := event.ServerData{
		Server:       s.config.Name,
		ConnectionID: s.id,
		State:        string(s.state),
		ToolCount:    len(s.tools),
	}
	if s.lastErr != nil {
		data.Error = FormatError(s.lastErr)
	}
	r.bus.Publish(event.Event{Type: t, Data: data})
}

func (r *Registry) publishErr(t event.EventType, name string, err error) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{Type: t, Data: event.ServerData{
		Server: name,
		State:  string(StateFailed),
		Error:  FormatError(err),
	}})
}
