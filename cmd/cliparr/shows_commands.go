package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"cliparr/internal/ipc"
)

func newShowsCommand(ctx *commandContext) *cobra.Command {
	showsCmd := &cobra.Command{
		Use:   "shows",
		Short: "Trigger Sonarr-driven show scans",
	}
	showsCmd.AddCommand(newShowsScanCommand(ctx))
	showsCmd.AddCommand(newShowsRescanCommand(ctx))
	return showsCmd
}

func newShowsScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [sonarr-series-id...]",
		Short: "Queue newly imported episodes for processing, optionally scoped to series",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseInt64Args(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ShowsScan(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d show(s), enqueued %d job(s)\n", resp.Scanned, resp.Enqueued)
				return nil
			})
		},
	}
}

func newShowsRescanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rescan [show-id...]",
		Short: "Discard prior detections and re-queue already imported shows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseInt64Args(args)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ShowsRescan(ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rescanned %d show(s), enqueued %d job(s)\n", resp.Scanned, resp.Enqueued)
				return nil
			})
		},
	}
}

func parseInt64Args(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
