package commands

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/mcphost/internal/config"
	"github.com/opencode-ai/mcphost/internal/event"
	"github.com/opencode-ai/mcphost/internal/logging"
	"github.com/opencode-ai/mcphost/internal/mcp"
	"github.com/opencode-ai/mcphost/internal/server"
)

var (
	servePort     int
	serveHostname string
	serveNoWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry behind an HTTP API",
	Long: `Connect every configured server and expose the registry over HTTP.

Config files are watched; an edit reloads them and reconciles the registry,
connecting new servers, reconnecting changed ones and dropping removed ones.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 4096, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Don't watch config files for changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	log := logging.Component("serve")
	log.Info().Str("version", Version).Str("directory", dir).Msg("starting mcphost")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	bus := event.NewBus()
	defer bus.Close()
	reg := mcp.NewRegistry(mcp.WithEventBus(bus))
	defer shutdown(reg)

	// Reloads are serialized; the watcher and POST /mcp/reload share one.
	var reloadMu sync.Mutex
	reload := func(ctx context.Context) error {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		set, loadErr := config.LoadServers(dir)
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		syncErr := reg.Sync(ctx, set.Enabled())
		log.Info().Int("servers", len(reg.Names())).Msg("config reconciled")
		return errors.Join(loadErr, syncErr)
	}

	if err := reload(ctx); err != nil {
		for _, p := range problems(err) {
			log.Warn().Msg(mcp.FormatError(p))
		}
	}

	if !serveNoWatch {
		var files []string
		for _, f := range config.Files(dir) {
			files = append(files, f.Path)
		}
		w, err := config.NewWatcher(files, func(changed []string) {
			bus.Publish(event.Event{Type: event.ConfigChanged, Data: event.ConfigChangedData{Paths: changed}})
			if err := reload(ctx); err != nil {
				log.Warn().Err(err).Msg("reload after config change")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = serveHostname
	srvCfg.Port = servePort
	srvCfg.Directory = dir
	srv := server.New(srvCfg, reg, bus)
	srv.SetReloader(reload)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}
