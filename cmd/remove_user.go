package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/flexquest/flexquest/internal/database"
	"github.com/flexquest/flexquest/internal/repair"
	"github.com/flexquest/flexquest/internal/store"
	"github.com/spf13/cobra"
)

var removeUserCmd = &cobra.Command{
	Use:   "remove-user <username>",
	Short: "Remove a user from every backend",
	Long: `Delete every user record with the given username from the local JSON files
and, when configured, from the remote store, regardless of the persistence mode.
Usernames match exactly. Each backend is reported on its own and a failure in
one does not stop the other.`,
	Example: `flexquest remove-user bob`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRemoveUser,
}

func init() {
	rootCmd.AddCommand(removeUserCmd)
}

func runRemoveUser(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backends, err := allBackends(cfg)
	if err != nil {
		return err
	}
	defer closeBackends(backends...)

	history := openHistory(cfg)
	defer closeHistory(history)

	started := time.Now()
	report, err := repair.RemoveUser(cmd.Context(), args[0], backends...)
	if report == nil {
		return err
	}

	printRemovalReport(cmd.OutOrStdout(), report)
	recordRun(cmd.Context(), history, database.RemovalRun(report, started, err))
	return err
}

func printRemovalReport(w io.Writer, report *repair.Report) {
	fmt.Fprintf(w, "Remove user %q\n", report.Username)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tSTATUS\tFOUND\tREMOVED\tERROR")
	for _, o := range report.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = fmt.Sprintf("[%s] %v", store.Class(o.Err), o.Err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", o.Backend, o.Status(), o.Found, o.Removed, errText)
	}
	_ = tw.Flush()
}
