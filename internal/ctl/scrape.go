package ctl

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/Over-the-Edge-Newspaper-Society/EventScrape-sub003/internal/domain"
)

func newScrapeCommand(flags *GlobalFlags) *cobra.Command {
	var testMode bool

	cmd := &cobra.Command{
		Use:   "scrape <module-key>",
		Short: "Trigger a scrape run for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if testMode {
				body = map[string]any{"test_mode": true}
			}

			var resp struct {
				Run   domain.Run `json:"run"`
				JobID string     `json:"job_id"`
			}
			path := "/api/runs/scrape/" + url.PathEscape(args[0])
			if err := flags.Client().Post(cmd.Context(), path, body, &resp); err != nil {
				return fmt.Errorf("failed to trigger scrape: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Run %s queued (job %s)\n", resp.Run.ID, resp.JobID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&testMode, "test", false, "Pass the test-mode hint to the scraper module")
	return cmd
}
