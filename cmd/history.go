package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/flexquest/flexquest/internal/database"
	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"
)

var historyCmdFlags struct {
	Limit   int
	Type    string
	Entries bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent migrate and remove-user runs",
	Example: `flexquest history
  flexquest history --type migrate --limit 5 --entries`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyCmdFlags.Limit, "limit", "n", 10, "Number of runs to show")
	historyCmd.Flags().StringVar(&historyCmdFlags.Type, "type", "", "Only show runs of this type (migrate, remove_user)")
	historyCmd.Flags().BoolVar(&historyCmdFlags.Entries, "entries", false, "Show per-kind and per-backend counts")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	runType := database.RunType(historyCmdFlags.Type)
	switch runType {
	case "", database.RunTypeMigrate, database.RunTypeRemoveUser:
	default:
		return fmt.Errorf("unknown run type %q", historyCmdFlags.Type)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := database.New(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer closeHistory(db)

	runs, total, err := db.GetRuns(cmd.Context(), database.RunFilter{Type: runType, Limit: historyCmdFlags.Limit})
	if err != nil {
		return fmt.Errorf("failed to get run history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tSUBJECT\tBACKENDS\tSTARTED\tDURATION")
	for _, run := range runs {
		backends := run.Source
		if run.Destination != "" {
			backends += " -> " + run.Destination
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID, run.Type, run.Status, run.Subject, backends,
			timediff.TimeDiff(run.StartedAt), run.Duration().Round(time.Millisecond),
		)
		if !historyCmdFlags.Entries {
			continue
		}
		for _, e := range run.Entries {
			fmt.Fprintf(tw, "\t  %s\t%s\tread %d, committed %d, pending %d\t%s\t\t\n",
				e.Target, e.Status, e.Read, e.Committed, e.Pending, e.Error)
		}
	}
	_ = tw.Flush()

	fmt.Fprintf(out, "\nShowing %d of %d runs\n", len(runs), total)
	return nil
}
