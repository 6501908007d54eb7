package cmd

import (
	"fmt"
	"time"

	"github.com/flexquest/flexquest/internal/diagnostics"
	"github.com/flexquest/flexquest/internal/store/docstore"
	"github.com/spf13/cobra"
)

var probeCmdFlags struct {
	AllowInvalidCertificates bool
	Timeout                  time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test the connection to the remote store",
	Long: `Connect to the configured remote store, ping it and read its user count and
admin settings. On failure the error class tells a bad host name apart from a
timeout, an unreachable server or rejected credentials.

--allow-invalid-certificates skips certificate verification for this probe
only. Use it to tell a certificate problem from a network problem.`,
	Example: `flexquest probe
  flexquest probe --allow-invalid-certificates --timeout 3s`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeCmdFlags.AllowInvalidCertificates, "allow-invalid-certificates", false, "Skip TLS certificate verification")
	probeCmd.Flags().DurationVar(&probeCmdFlags.Timeout, "timeout", 0, "Connect timeout (default from config)")

	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.RemoteConfigured() {
		return errRemoteNotConfigured
	}

	opts := remoteOptions(cfg)
	if probeCmdFlags.AllowInvalidCertificates {
		opts.AllowInvalidCertificates = true
	}
	if probeCmdFlags.Timeout > 0 {
		opts.ConnectTimeout = probeCmdFlags.Timeout
	}

	remote, err := docstore.New(opts)
	if err != nil {
		return err
	}
	defer closeBackends(remote)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "endpoint:   %s\n", docstore.Redact(opts.Endpoint))
	fmt.Fprintf(out, "database:   %s\n", opts.Database)
	fmt.Fprintf(out, "tls:        %s\n", yesNo(opts.TLSEnabled()))
	if opts.AllowInvalidCertificates {
		fmt.Fprintln(out, "warning:    certificate verification disabled")
	}

	st := diagnostics.Probe(cmd.Context(), remote)
	if st.Error != "" {
		fmt.Fprintf(out, "result:     failed [%s]\n", st.ErrorClass)
		return fmt.Errorf("probe failed: %s", st.Error)
	}

	fmt.Fprintf(out, "result:     ok (%s)\n", st.Latency.Round(time.Millisecond))
	fmt.Fprintf(out, "users:      %d\n", st.Users)
	fmt.Fprintf(out, "admin:      %s\n", yesNo(st.Admin))
	return nil
}
