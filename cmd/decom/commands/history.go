package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/decom/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		journalPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show journaled runs",
		Long: `List the runs recorded in the journal, newest first, or show the
actions and residuals of one run. A run id may be abbreviated to any
unique prefix.`,
		Example: `  decom history --journal C:\ProgramData\decom\journal.db
  decom history -c contoso.cue 3f2a9c1e`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if journalPath == "" && (configPath != "" || profileName != "") {
				doc, err := loadDocument()
				if err != nil {
					return err
				}
				journalPath = doc.Settings.Journal.Path
			}
			if journalPath == "" {
				return errors.New("no journal configured; pass --journal or a config with settings.journal.path")
			}

			store, err := openJournal(ctx, journalPath)
			if err != nil {
				return err
			}
			defer store.Close()

			w := cmd.OutOrStdout()
			if len(args) == 1 {
				detail, err := store.GetRunDetail(ctx, args[0])
				if errors.Is(err, stores.ErrNotFound) {
					return fmt.Errorf("no run matches %q", args[0])
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(w, detail)
				}
				renderRunDetail(w, detail)
				return nil
			}

			runs, err := store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(w, runs)
			}
			renderRuns(w, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite run journal path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	return cmd
}
