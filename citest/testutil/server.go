package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/opencode-ai/mcphost/internal/config"
	"github.com/opencode-ai/mcphost/internal/event"
	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/server"
	"github.com/opencode-ai/mcphost/pkg/mcpserver/echo"
)

// TestServer wraps a running registry API for testing
type TestServer struct {
	Server   *server.Server
	Registry *mcp.Registry
	Bus      *event.Bus
	BaseURL  string
	TempDir  string
	WorkDir  string
	port     int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	workDir string
	envFile string
}

// WithWorkDir sets the project directory whose .mcp.json is loaded
func WithWorkDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.workDir = dir
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// StartTestServer starts the HTTP API on a free port. User-level config is
// pointed at a temp directory so only the project's files are loaded.
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
		_ = godotenv.Load("../.env")
		_ = godotenv.Load(".env")
	}

	tempDir, err := os.MkdirTemp("", "mcphost-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	os.Setenv("XDG_CONFIG_HOME", tempDir)
	os.Setenv("HOME", tempDir)

	workDir := cfg.workDir
	if workDir == "" {
		workDir = tempDir
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	bus := event.NewBus()
	reg := mcp.NewRegistry(mcp.WithEventBus(bus))

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port
	serverConfig.Directory = workDir
	srv := server.New(serverConfig, reg, bus)
	srv.SetReloader(func(ctx context.Context) error {
		set, loadErr := config.LoadServers(workDir)
		return errors.Join(loadErr, reg.Sync(ctx, set.Enabled()))
	})

	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(context.Background())
		reg.Shutdown(context.Background())
		bus.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:   srv,
		Registry: reg,
		Bus:      bus,
		BaseURL:  baseURL,
		TempDir:  tempDir,
		WorkDir:  workDir,
		port:     port,
	}, nil
}

// Stop shuts down the server, disconnects every MCP server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if ts.Server != nil {
		errs = append(errs, ts.Server.Shutdown(ctx))
	}
	if ts.Registry != nil {
		errs = append(errs, ts.Registry.Shutdown(ctx))
	}
	if ts.Bus != nil {
		ts.Bus.Close()
	}
	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return errors.Join(errs...)
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// EchoHTTPServer serves the echo tools over streamable HTTP. The returned
// URL is the MCP endpoint.
func EchoHTTPServer() (string, func()) {
	ts := httptest.NewServer(mcpserver.NewStreamableHTTPServer(echo.NewServer()))
	return ts.URL + "/mcp", ts.Close
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
