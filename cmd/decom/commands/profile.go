package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/decom/pkg/config"
)

func newProfileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect product profiles",
	}

	cmd.AddCommand(newProfileListCommand())
	cmd.AddCommand(newProfileShowCommand())
	cmd.AddCommand(newProfileValidateCommand())

	return cmd
}

func newProfileListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewLoader()
			if err != nil {
				return err
			}

			type entry struct {
				Name    string `json:"name"`
				Product string `json:"product"`
			}
			var entries []entry
			for _, name := range config.Profiles() {
				doc, err := loader.LoadProfile(name)
				if err != nil {
					return err
				}
				entries = append(entries, entry{Name: name, Product: doc.Profile.Product})
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(w, entries)
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%-28s %s\n", e.Name, mutedStyle.Render(e.Product))
			}
			return nil
		},
	}
}

func newProfileShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show [name]",
		Short: "Print a profile with its effective settings",
		Long: `Print a built-in profile, or the document given with --config, after
schema defaults have been applied.`,
		Example: `  decom profile show contoso-secure-client
  decom profile show -c contoso.cue --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				profileName = args[0]
			}
			doc, err := loadDocument()
			if err != nil {
				return err
			}

			if jsonOutput {
				format = "json"
			}
			var out []byte
			switch format {
			case "yaml":
				out, err = doc.ExportYAML()
			case "json":
				out, err = doc.ExportJSON()
			default:
				return fmt.Errorf("unsupported format %q (yaml, json)", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	return cmd
}

func newProfileValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate profile documents",
		Long: `Check CUE documents against the schema, the struct rules and the
condition syntax, and that the profile converts into product knowledge.`,
		Example: `  decom profile validate contoso.cue ./profiles/fabrikam`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewLoader()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				doc, err := loader.LoadFile(path)
				if err == nil {
					_, err = doc.Profile.Knowledge()
				}
				if err == nil {
					_, err = doc.Settings.EngineSettings()
				}
				if err == nil {
					item(w, symbolSuccess, successStyle, fmt.Sprintf("%s %s", path, mutedStyle.Render(doc.Profile.Name)))
					continue
				}

				failed++
				var loadErr *config.LoadError
				if errors.As(err, &loadErr) {
					item(w, symbolError, errorStyle, path)
					for _, v := range loadErr.Errors {
						fmt.Fprintf(w, "      %s\n", v.String())
					}
					continue
				}
				item(w, symbolError, errorStyle, fmt.Sprintf("%s: %v", path, err))
			}

			if failed > 0 {
				return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d documents are invalid", failed, len(args))}
			}
			return nil
		},
	}
}
