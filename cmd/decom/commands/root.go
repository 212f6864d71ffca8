package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	profileName string
	logLevel    string
	logFormat   string
	jsonOutput  bool
	policyPaths []string

	buildVersion = "dev"
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitResiduals is returned by remove --fail-on-residuals when verification
// found leftovers.
const ExitResiduals = 3

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "decom",
		Short: "decom - software decommissioning for Windows endpoints",
		Long: `decom removes an installed product and everything it leaves behind.

A run locates the product's installer records, plans the registry keys,
directories, services and virtual devices to remove, asks for confirmation,
then removes them with bounded retries. Platform services holding file
handles are stopped for the removal and restored afterwards. A final scan
reports anything that survived.

Products are described by CUE profiles; see 'decom profile list'.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "CUE configuration file or directory")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "", "built-in profile name")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringSliceVar(&policyPaths, "policy", nil, "extra .rego or .json policy file or directory")
	rootCmd.MarkFlagsMutuallyExclusive("config", "profile")

	rootCmd.AddCommand(newRemoveCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
