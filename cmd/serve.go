package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/api"
	"github.com/flexquest/flexquest/internal/api/handler"
	"github.com/flexquest/flexquest/internal/cache"
	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/flexquest/flexquest/internal/scheduler"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the diagnostics server",
	Long: `Start an HTTP server reporting backend health and the tool run history.
Backends are probed in the background every health_check_interval and the
latest result is served from the status cache.`,
	Example: `flexquest serve --config config.yml
  flexquest serve -c /path/to/config.yml --log-level debug`,
	Args: cobra.NoArgs,
	RunE: startServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeHistory(db)

	local := newLocalBackend(cfg)
	var remote store.Backend
	collectorOpts := []diagnostics.Option{}
	if cfg.RemoteConfigured() {
		r, err := newRemoteBackend(cfg)
		if err != nil {
			return err
		}
		defer closeBackends(r)
		remote = r
		collectorOpts = append(collectorOpts, diagnostics.WithRemote(r))
	}

	coordinator, err := newCoordinator(cfg, local, remote)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	collectorOpts = append(collectorOpts,
		diagnostics.WithStore(coordinator),
		diagnostics.WithFallbacks(coordinator.Fallbacks),
	)
	collector := diagnostics.NewCollector(string(coordinator.Mode()), local, collectorOpts...)

	// a snapshot older than a few intervals means the refresh job is stuck
	statusCache := cache.NewStatusCache(cfg.Cache, 3*cfg.HealthCheckInterval)

	sched, err := scheduler.New()
	if err != nil {
		return err
	}
	if err := sched.AddHealthRefresh(cfg.HealthCheckInterval, scheduler.RefreshStatus(collector, statusCache)); err != nil {
		return err
	}

	server, err := api.New(cfg, handler.New(collector, statusCache, db, sched), log.GetLevel() == log.DebugLevel)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Error("failed to stop scheduler", "error", err)
		}
	}()

	log.Info("flexquest started", "listen", cfg.Listen, "mode", coordinator.Mode())
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	log.Info("shutting down gracefully...")
	return nil
}
