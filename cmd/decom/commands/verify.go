package commands

import (
	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var hostOpts hostOptions

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Scan for anything the product left behind",
		Long: `Scan the host for the product's services, keys and directories
without changing anything. Exits 3 when residuals are found.`,
		Example: `  decom verify --profile contoso-secure-client`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()

			doc, err := loadDocument()
			if err != nil {
				return err
			}
			s, err := newSession(ctx, doc, hostOpts, false)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := s.Close(ctx); cerr != nil && err == nil {
					err = cerr
				}
			}()

			o, err := s.orchestrator(nil)
			if err != nil {
				return err
			}
			plan, err := o.Discover(ctx)
			if err != nil {
				return err
			}
			outcome, err := o.Verify(ctx, plan)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), outcome); err != nil {
					return err
				}
			} else {
				renderOutcome(cmd.OutOrStdout(), outcome)
			}

			if !outcome.Succeeded {
				return &ExitError{Code: ExitResiduals}
			}
			return nil
		},
	}

	hostOpts.register(cmd)
	return cmd
}
