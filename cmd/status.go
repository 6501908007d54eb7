package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"
)

var statusCmdFlags struct {
	JSON bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of every backend",
	Long: `Probe the local JSON files and, when configured, the remote store. For each
backend show whether it is reachable, how many users it holds, whether admin
settings exist and when a migration last stamped them.`,
	Example: `flexquest status
  flexquest status --json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusCmdFlags.JSON, "json", false, "Print the snapshot as JSON")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	local := newLocalBackend(cfg)
	opts := []diagnostics.Option{}
	if cfg.RemoteConfigured() {
		remote, err := newRemoteBackend(cfg)
		if err != nil {
			return err
		}
		defer closeBackends(remote)
		opts = append(opts, diagnostics.WithRemote(remote))
	}

	snap := diagnostics.NewCollector(cfg.PersistenceMode(), local, opts...).Collect(cmd.Context())

	if statusCmdFlags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	var lastMigration *database.ToolRun
	if history := openHistory(cfg); history != nil {
		defer closeHistory(history)
		lastMigration, err = history.GetLastRun(cmd.Context(), database.RunTypeMigrate)
		if err != nil {
			log.Warn("failed to read last migration", "error", err)
		}
	}

	printSnapshot(cmd.OutOrStdout(), snap, lastMigration)
	return nil
}

func printSnapshot(w io.Writer, snap *diagnostics.Snapshot, lastMigration *database.ToolRun) {
	fmt.Fprintf(w, "Persistence mode: %s\n", snap.Mode)
	if snap.Degraded() {
		fmt.Fprintln(w, "Remote store unreachable, requests are served from the local files")
	}

	for _, b := range snap.Backends {
		fmt.Fprintf(w, "\n%s\n", b.Name)
		if b.Reachable {
			fmt.Fprintf(w, "  reachable:  yes (%s)\n", b.Latency.Round(time.Millisecond))
		} else {
			fmt.Fprintln(w, "  reachable:  no")
		}
		if b.Error != "" {
			fmt.Fprintf(w, "  error:      [%s] %s\n", b.ErrorClass, b.Error)
			if !b.Reachable {
				continue
			}
		}
		fmt.Fprintf(w, "  users:      %d\n", b.Users)
		fmt.Fprintf(w, "  admin:      %s\n", yesNo(b.Admin))
		if b.MigratedAt != nil {
			fmt.Fprintf(w, "  migrated:   %s (%s)\n", b.MigratedAt.Format(time.RFC3339), timediff.TimeDiff(*b.MigratedAt))
		} else {
			fmt.Fprintln(w, "  migrated:   never")
		}
		for _, f := range b.Files {
			if f.Exists {
				fmt.Fprintf(w, "  %-10s  %s (%s)\n", string(f.Kind)+":", f.Path, humanize.Bytes(uint64(f.Size)))
			} else {
				fmt.Fprintf(w, "  %-10s  %s (missing)\n", string(f.Kind)+":", f.Path)
			}
		}
	}

	if snap.Disk != nil {
		fmt.Fprintf(w, "\nDisk %s: %s free of %s (%.0f%% used)\n",
			snap.Disk.Path,
			humanize.Bytes(snap.Disk.Free),
			humanize.Bytes(snap.Disk.Total),
			snap.Disk.UsedPercent,
		)
	}

	if lastMigration != nil {
		fmt.Fprintf(w, "Last migration: %s -> %s, %s %s\n",
			lastMigration.Source,
			lastMigration.Destination,
			lastMigration.Status,
			timediff.TimeDiff(lastMigration.StartedAt),
		)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
