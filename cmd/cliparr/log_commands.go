package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"cliparr/internal/api"
	"cliparr/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var tail int
	var level string
	var component string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail structured daemon logs over the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			if cfg == nil {
				return fmt.Errorf("configuration not available")
			}
			client, err := logs.NewStreamClient(cfg.APIBind)
			if err != nil {
				return fmt.Errorf("build log client: %w", err)
			}
			if client == nil {
				return fmt.Errorf("api_bind is not configured")
			}

			query := logs.StreamQuery{Level: level, Component: component}
			if tail > 0 {
				query.Tail = true
				query.Limit = tail
			}

			stdout := cmd.OutOrStdout()
			var since uint64
			for {
				query.Since = since
				resp, err := client.Fetch(cmd.Context(), query)
				if err != nil {
					if logs.IsAPIUnavailable(err) {
						return fmt.Errorf("cliparr daemon API is not reachable at %s", cfg.APIBind)
					}
					return err
				}
				for _, event := range resp.Events {
					printLogEvent(stdout, event)
				}
				since = resp.Next
				if !follow {
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(time.Second):
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().IntVarP(&tail, "tail", "n", 50, "Number of historical events to show first")
	cmd.Flags().StringVar(&level, "level", "", "Filter by minimum log level")
	cmd.Flags().StringVar(&component, "component", "", "Filter by component name")
	return cmd
}

func printLogEvent(w io.Writer, event api.LogEvent) {
	fmt.Fprintf(w, "%s [%s] %s", event.Timestamp.Format("15:04:05.000"), event.Level, event.Message)
	if event.Component != "" {
		fmt.Fprintf(w, " component=%s", event.Component)
	}
	if event.Stage != "" {
		fmt.Fprintf(w, " stage=%s", event.Stage)
	}
	if event.ItemID != 0 {
		fmt.Fprintf(w, " item=%d", event.ItemID)
	}
	fmt.Fprintln(w)
}
