// Package ctl implements the eventscrapectl operator CLI. Every command
// talks to a running EventScrape API over HTTP; nothing here touches the
// database or Redis directly.
package ctl

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const (
	appName        = "eventscrapectl"
	defaultAPIURL  = "http://localhost:3001"
	defaultTimeout = 30 * time.Second
)

// GlobalFlags carries the persistent flags shared by every command.
type GlobalFlags struct {
	APIURL  string
	Timeout time.Duration
}

// Client builds the API client configured by the flags.
func (f *GlobalFlags) Client() *Client {
	return NewClient(f.APIURL, f.Timeout)
}

// Execute runs the root command against os.Args.
func Execute(version string) error {
	return NewRootCommand(version).Execute()
}

// NewRootCommand builds the root command with every group attached.
func NewRootCommand(version string) *cobra.Command {
	flags := &GlobalFlags{}

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "EventScrape operator CLI",
		Long:          "eventscrapectl inspects and drives a running EventScrape deployment through its HTTP API.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&flags.APIURL, "api", defaultAPIBase(), "Base URL of the EventScrape API")
	cmd.PersistentFlags().DurationVar(&flags.Timeout, "timeout", defaultTimeout, "Request timeout")

	cmd.AddCommand(newSourcesCommand(flags))
	cmd.AddCommand(newRunsCommand(flags))
	cmd.AddCommand(newSchedulesCommand(flags))
	cmd.AddCommand(newExportsCommand(flags))
	cmd.AddCommand(newQueuesCommand(flags))
	cmd.AddCommand(newScrapeCommand(flags))

	return cmd
}

// defaultAPIBase prefers the environment so operators can point a shell at
// one deployment once.
func defaultAPIBase() string {
	if url := os.Getenv("EVENTSCRAPE_API_URL"); url != "" {
		return url
	}
	return defaultAPIURL
}
