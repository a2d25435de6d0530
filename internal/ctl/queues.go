package ctl

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// queueStatus mirrors the API's queue status rows.
type queueStatus struct {
	Name    string `json:"name"`
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
	Delayed int64  `json:"delayed"`
	Paused  bool   `json:"paused"`
}

func newQueuesCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show live queue depths",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Queues []queueStatus `json:"queues"`
			}
			if err := flags.Client().Get(cmd.Context(), "/api/queues/status", &resp); err != nil {
				return fmt.Errorf("failed to read queue status: %w", err)
			}

			renderQueues(cmd.OutOrStdout(), resp.Queues)
			return nil
		},
	}
}

func renderQueues(out io.Writer, queues []queueStatus) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Queue", "Waiting", "Active", "Delayed", "Paused"})
	for i := range queues {
		q := &queues[i]
		t.AppendRow(table.Row{q.Name, q.Waiting, q.Active, q.Delayed, q.Paused})
	}
	t.Render()
}
