package ctl

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newSourcesCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage event sources",
	}
	cmd.AddCommand(newSourcesListCommand(flags))
	return cmd
}

func newSourcesListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configured sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Sources []domain.Source `json:"sources"`
				Count   int             `json:"count"`
			}
			if err := flags.Client().Get(cmd.Context(), "/api/sources", &resp); err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}

			if len(resp.Sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources configured")
				return nil
			}
			renderSources(cmd.OutOrStdout(), resp.Sources)
			return nil
		},
	}
}

func renderSources(out io.Writer, sources []domain.Source) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Name", "Type", "Module", "Active", "Base URL"})
	for i := range sources {
		s := &sources[i]
		t.AppendRow(table.Row{s.ID, s.Name, s.SourceType, s.ModuleKey, s.Active, s.BaseURL})
	}
	t.Render()
}
