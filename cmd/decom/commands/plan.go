package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPlanCommand() *cobra.Command {
	var (
		format   string
		outFile  string
		hostOpts hostOptions
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a removal would do",
		Long: `Locate the product, compute the plan and apply the plan policies
without changing anything on the host.`,
		Example: `  # Human-readable plan
  decom plan --profile contoso-secure-client

  # Save the plan as YAML
  decom plan -c contoso.cue --format yaml --out plan.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			if jsonOutput {
				format = "json"
			}
			switch format {
			case "text", "json", "yaml":
			default:
				return fmt.Errorf("unsupported format %q (text, json, yaml)", format)
			}

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

			w := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", outFile, err)
				}
				defer f.Close()
				w = f
			}

			switch format {
			case "json":
				return writeJSON(w, plan)
			case "yaml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(plan); err != nil {
					return err
				}
				return enc.Close()
			default:
				renderPlan(w, plan)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text, json, yaml)")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to a file")
	hostOpts.register(cmd)

	return cmd
}
