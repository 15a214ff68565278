package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dvloznov/column-analyzer/internal/app"
	"github.com/dvloznov/column-analyzer/internal/logger"
	"github.com/dvloznov/column-analyzer/internal/templates"
)

func newTemplatesCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage bank statement templates",
	}
	cmd.AddCommand(
		newTemplatesListCommand(o),
		newTemplatesImportCommand(o),
		newTemplatesExportCommand(o),
	)
	return cmd
}

func newTemplatesListCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates in matching order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := loadAll(cmd, o)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRIORITY\tACTIVE\tBANK\tMATCHES\tIDENTIFIERS")
			for _, t := range tpls {
				fmt.Fprintf(w, "%s\t%d\t%t\t%s\t%d\t%s\n",
					t.ID, t.Priority, t.IsActive, t.BankName, t.MatchCount, strings.Join(t.Identifiers, ", "))
			}
			return w.Flush()
		},
	}
}

func newTemplatesExportCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print all templates as a YAML seed file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tpls, err := loadAll(cmd, o)
			if err != nil {
				return err
			}
			data, err := templates.WriteSeed(tpls)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newTemplatesImportCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <seed-file>",
		Short: "Insert or update templates from a YAML or JSON seed file",
		Long: `Import upserts every template of the seed file by id.

With the bigquery or postgres source the templates are written to the
database. With the file source they are merged into templates.file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, o, args[0])
		},
	}
}

// loadAll returns every stored template ordered the way the registry matches
// them.
func loadAll(cmd *cobra.Command, o *options) ([]templates.Template, error) {
	ctx := logger.WithContext(cmd.Context(), o.log)
	tb, err := app.OpenTemplates(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	defer tb.Close()

	tpls, err := tb.Source.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	reg := templates.NewRegistry()
	if err := reg.Replace(tpls); err != nil {
		return nil, err
	}
	return reg.All(), nil
}

func runImport(cmd *cobra.Command, o *options, path string) error {
	ctx := logger.WithContext(cmd.Context(), o.log)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	incoming, err := templates.ParseSeed(data, filepath.Ext(path))
	if err != nil {
		return err
	}

	tb, err := app.OpenTemplates(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer tb.Close()

	if tb.Store != nil {
		for _, t := range incoming {
			if err := tb.Store.UpsertTemplate(ctx, t); err != nil {
				return fmt.Errorf("importing template %s: %w", t.ID, err)
			}
		}
	} else if err := mergeIntoFile(cmd, o, tb.Source, incoming); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d template(s)\n", len(incoming))
	return err
}

func mergeIntoFile(cmd *cobra.Command, o *options, src templates.Source, incoming []templates.Template) error {
	reg := templates.NewRegistry()

	existing, err := src.ListTemplates(cmd.Context())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existing = nil
	case err != nil:
		return err
	}
	if err := reg.Replace(existing); err != nil {
		return err
	}
	for _, t := range incoming {
		if err := reg.Upsert(t); err != nil {
			return err
		}
	}

	data, err := templates.WriteSeed(reg.All())
	if err != nil {
		return err
	}
	return os.WriteFile(o.cfg.Templates.File, data, 0o644)
}
