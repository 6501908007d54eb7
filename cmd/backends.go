package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/config"
	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/failover"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/flexquest/flexquest/internal/store/docstore"
	"github.com/flexquest/flexquest/internal/store/jsonfile"
)

const closeTimeout = 5 * time.Second

var errRemoteNotConfigured = errors.New("remote store is not configured, set remote.endpoint and remote.database")

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootCmdPersistentFlags.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLocalBackend(cfg *config.Config) *jsonfile.Backend {
	return jsonfile.NewOS(jsonfile.Options{
		Dir:       cfg.DataDir,
		UsersFile: cfg.UsersFile,
		AdminFile: cfg.AdminFile,
	})
}

func remoteOptions(cfg *config.Config) docstore.Options {
	r := cfg.Remote
	return docstore.Options{
		Endpoint:                 r.Endpoint,
		Database:                 r.Database,
		UseTLS:                   r.UseTLS,
		AllowInvalidCertificates: r.AllowInvalidCertificates,
		ConnectTimeout:           r.ConnectTimeout,
		OperationTimeout:         r.OperationTimeout,
	}
}

// newRemoteBackend returns the document store backend. It does not connect.
func newRemoteBackend(cfg *config.Config) (*docstore.Backend, error) {
	if !cfg.RemoteConfigured() {
		return nil, errRemoteNotConfigured
	}
	return docstore.New(remoteOptions(cfg))
}

// backendByName opens the backend an operator named on the command line.
func backendByName(cfg *config.Config, name string) (store.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case jsonfile.Name, "local":
		return newLocalBackend(cfg), nil
	case docstore.Name:
		return newRemoteBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q, must be %q or %q", name, jsonfile.Name, docstore.Name)
	}
}

// allBackends returns the remote backend, when configured, followed by the
// local one.
func allBackends(cfg *config.Config) ([]store.Backend, error) {
	local := newLocalBackend(cfg)
	if !cfg.RemoteConfigured() {
		return []store.Backend{local}, nil
	}
	remote, err := newRemoteBackend(cfg)
	if err != nil {
		return nil, err
	}
	return []store.Backend{remote, local}, nil
}

// newCoordinator wires the store the application reads and writes through.
func newCoordinator(cfg *config.Config, local *jsonfile.Backend, remote store.Backend) (*failover.Coordinator, error) {
	mode, err := failover.ParseMode(cfg.PersistenceMode())
	if err != nil {
		return nil, err
	}
	if mode == failover.ModeLocal {
		remote = nil
	}
	return failover.New(mode, local, remote)
}

func closeBackends(backends ...store.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for _, b := range backends {
		if b == nil {
			continue
		}
		if err := b.Close(ctx); err != nil {
			log.Warn("failed to close backend", "backend", b.Name(), "error", err)
		}
	}
}

// openHistory opens the run history. Tools keep working without it.
func openHistory(cfg *config.Config) database.DB {
	db, err := database.New(cfg.History.Path)
	if err != nil {
		log.Warn("run history unavailable", "path", cfg.History.Path, "error", err)
		return nil
	}
	return db
}

// recordRun stores run in the history. Failures are logged only.
func recordRun(ctx context.Context, db database.DB, run *database.ToolRun) {
	if db == nil {
		return
	}
	if err := db.RecordRun(ctx, run); err != nil {
		log.Warn("failed to record run in history", "type", run.Type, "error", err)
		return
	}
	log.Debug("recorded run in history", "id", run.ID, "type", run.Type, "status", run.Status)
}

func closeHistory(db database.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.Warn("failed to close history database", "error", err)
	}
}
