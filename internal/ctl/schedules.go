package ctl

import (
	"fmt"
	"io"
	"net/url"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newSchedulesCommand(flags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage recurring schedules",
	}
	cmd.AddCommand(newSchedulesListCommand(flags))
	cmd.AddCommand(newSchedulesTriggerCommand(flags))
	return cmd
}

func newSchedulesListCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Schedules []domain.Schedule `json:"schedules"`
			}
			if err := flags.Client().Get(cmd.Context(), "/api/schedules", &resp); err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}

			if len(resp.Schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedules configured")
				return nil
			}
			renderSchedules(cmd.OutOrStdout(), resp.Schedules)
			return nil
		},
	}
}

func newSchedulesTriggerCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <schedule-id>",
		Short: "Fire a schedule once, bypassing cron",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				JobID string `json:"job_id"`
			}
			path := "/api/schedules/" + url.PathEscape(args[0]) + "/trigger"
			if err := flags.Client().Post(cmd.Context(), path, nil, &resp); err != nil {
				return fmt.Errorf("failed to trigger schedule: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schedule trigger enqueued: job %s\n", resp.JobID)
			return nil
		},
	}
}

func renderSchedules(out io.Writer, schedules []domain.Schedule) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Name", "Type", "Cron", "Timezone", "Active"})
	for i := range schedules {
		s := &schedules[i]
		t.AppendRow(table.Row{s.ID, s.Name, s.ScheduleType, s.Cron, s.Timezone, s.Active})
	}
	t.Render()
}
