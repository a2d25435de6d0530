package ctl

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newExportsCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Inspect export jobs",
	}
	cmd.AddCommand(newExportsListCommand(flags))
	return cmd
}

func newExportsListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent exports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Exports []domain.Export `json:"exports"`
			}
			if err := flags.Client().Get(cmd.Context(), "/api/exports", &resp); err != nil {
				return fmt.Errorf("failed to list exports: %w", err)
			}

			if len(resp.Exports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No exports found")
				return nil
			}
			renderExports(cmd.OutOrStdout(), resp.Exports)
			return nil
		},
	}
}

func renderExports(out io.Writer, exports []domain.Export) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Format", "Status", "Items", "File", "Created"})
	for i := range exports {
		e := &exports[i]
		t.AppendRow(table.Row{
			e.ID, e.Format, e.Status, e.ItemCount, deref(e.FilePath),
			formatTime(&e.CreatedAt),
		})
	}
	t.Render()
}
