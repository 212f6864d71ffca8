package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/decom/pkg/engine"
)

func newRemoveCommand() *cobra.Command {
	var (
		skipConfirmation bool
		preserveAdapters bool
		failOnResiduals  bool
		journalPath      string
		metricsTextfile  string
		hostOpts         hostOptions
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove the product and everything it left behind",
		Long: `Run a full decommissioning pass.

The run:
  - Locates the product's installer records
  - Plans the keys, directories, services and modules that exist
  - Drops anything a plan policy refuses
  - Asks for confirmation unless --skip-confirmation is set
  - Unregisters modules, deletes services, removes targets with retries
  - Removes the product's virtual adapters and devices
  - Restores the platform services it stopped
  - Reports what is still present

Removal failures never abort the run. Exit status is 0 unless
--fail-on-residuals is set and residuals remain (exit 3).`,
		Example: `  # Remove using the built-in profile
  decom remove --profile contoso-secure-client

  # Unattended, keeping the journal and a textfile for the node exporter
  decom remove -c contoso.cue -y --journal C:\ProgramData\decom\journal.db \
    --metrics-textfile C:\ProgramData\windows_exporter\textfile\decom.prom

  # Rehearse against a host fixture
  decom remove --profile contoso-secure-client --simulate host.yaml -y`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			doc, err := loadDocument()
			if err != nil {
				return err
			}
			settings := &doc.Settings
			settings.SkipConfirmation = settings.SkipConfirmation || skipConfirmation
			settings.PreserveNetworkAdapters = settings.PreserveNetworkAdapters || preserveAdapters
			settings.FailOnResiduals = settings.FailOnResiduals || failOnResiduals
			if journalPath != "" {
				settings.Journal.Path = journalPath
			}
			if metricsTextfile != "" {
				settings.Metrics.Textfile = metricsTextfile
			}

			s, err := newSession(ctx, doc, hostOpts, true)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			o, err := s.orchestrator(newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			report, runErr := o.Run(ctx)
			s.logSimulatedCalls()
			if report != nil {
				if jsonOutput {
					if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
						return err
					}
				} else {
					renderReport(cmd.OutOrStdout(), report)
				}
			}
			if runErr != nil {
				return runErr
			}

			if settings.FailOnResiduals && report.State == engine.StateCompletedWithResiduals {
				return &ExitError{Code: ExitResiduals}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&skipConfirmation, "skip-confirmation", "y", false, "do not ask before removing")
	cmd.Flags().BoolVar(&preserveAdapters, "preserve-network-adapters", false, "keep the product's virtual adapters and devices")
	cmd.Flags().BoolVar(&failOnResiduals, "fail-on-residuals", false, "exit 3 when verification finds residuals")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite run journal path")
	cmd.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write run metrics to this textfile collector file")
	hostOpts.register(cmd)

	return cmd
}
