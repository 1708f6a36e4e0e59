// Package commands provides the CLI commands for mcphost.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/config"
	"github.com/opencode-ai/mcphost/internal/event"
	"github.com/opencode-ai/mcphost/internal/logging"
	"github.com/opencode-ai/mcphost/internal/mcp"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	logFile   bool
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "mcphost",
	Short: "mcphost - MCP server registry for agent hosts",
	Long: `mcphost connects to the MCP servers defined in your config files,
discovers their tools and exposes them to an agent host.

Run 'mcphost servers' to check every configured server, or 'mcphost serve'
to run the registry behind an HTTP API.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Also write JSON logs under the state directory")
	rootCmd.PersistentFlags().StringVarP(&workDir, "directory", "C", "", "Project directory (defaults to the current directory)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("mcphost %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command.
func Execute() error {
	defer logging.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// initLogging keeps stderr quiet unless --print-logs is given, so command
// output stays readable.
func initLogging() {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.Pretty = true
	if !printLogs {
		cfg.Level = logging.ErrorLevel
	}
	if logFile {
		paths := config.GetPaths()
		if err := paths.EnsurePaths(); err == nil {
			cfg.LogToFile = true
			cfg.LogDir = paths.LogDir()
		}
	}
	logging.Init(cfg)
}

// connectTimeout bounds startup of all servers in one-shot commands.
const connectTimeout = 60 * time.Second

// loadServers reads every config layer for dir. Problems are printed as
// warnings; the usable definitions are returned regardless.
func loadServers(dir string) *config.ServerSet {
	set, err := config.LoadServers(dir)
	for _, p := range problems(err) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", mcp.FormatError(p))
	}
	return set
}

// problems flattens joined errors back into their parts.
func problems(err error) []error {
	if err == nil {
		return nil
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, problems(e)...)
	}
	return out
}

// host is a registry connected from the config files.
type host struct {
	reg *mcp.Registry
	set *config.ServerSet
	// failed maps server names to the error that kept them out.
	failed map[string]error
}

// openRegistry loads the config and connects every enabled server. Servers
// that fail to connect are logged and recorded in failed.
func openRegistry(ctx context.Context, bus *event.Bus) (*host, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}
	set := loadServers(dir)

	var opts []mcp.RegistryOption
	if bus != nil {
		opts = append(opts, mcp.WithEventBus(bus))
	}
	h := &host{reg: mcp.NewRegistry(opts...), set: set, failed: make(map[string]error)}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	for _, p := range problems(h.reg.ConnectAll(ctx, set.Enabled())) {
		name := "?"
		if ec, ok := mcp.ContextOf(p); ok {
			name = ec.Server
		}
		h.failed[name] = p
		logging.Warn().Str("mcp_server", name).Err(p).Msg("mcp server failed to connect")
	}
	return h, nil
}

func shutdown(reg *mcp.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("shutdown")
	}
}
