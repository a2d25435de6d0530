package ctl

import (
	"fmt"
	"io"
	"net/url"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newRunsCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect scrape runs",
	}
	cmd.AddCommand(newRunsListCommand(flags))
	cmd.AddCommand(newRunsCancelCommand(flags))
	return cmd
}

func newRunsListCommand(flags *GlobalFlags) *cobra.Command {
	var (
		sourceID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := fmt.Sprintf("/api/runs?limit=%d", limit)
			if sourceID != "" {
				path += "&source_id=" + url.QueryEscape(sourceID)
			}

			var resp struct {
				Runs []domain.Run `json:"runs"`
			}
			if err := flags.Client().Get(cmd.Context(), path, &resp); err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if len(resp.Runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
				return nil
			}
			renderRuns(cmd.OutOrStdout(), resp.Runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&sourceID, "source", "", "Filter by source ID")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

func newRunsCancelCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Run       *domain.Run `json:"run"`
				Finalized bool        `json:"finalized"`
			}
			path := "/api/runs/" + url.PathEscape(args[0]) + "/cancel"
			if err := flags.Client().Post(cmd.Context(), path, nil, &resp); err != nil {
				return fmt.Errorf("failed to cancel run: %w", err)
			}

			if resp.Finalized {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s cancelled: %s\n", resp.Run.ID, resp.Run.Status)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s cancellation requested; the worker will finalize it\n", resp.Run.ID)
			}
			return nil
		},
	}
}

func renderRuns(out io.Writer, list []domain.Run) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Source", "Status", "Events", "Pages", "Started", "Finished"})
	for i := range list {
		r := &list[i]
		t.AppendRow(table.Row{
			r.ID, r.SourceID, r.Status, r.EventsFound, r.PagesCrawled,
			formatTime(r.StartedAt), formatTime(r.FinishedAt),
		})
	}
	t.Render()
}
