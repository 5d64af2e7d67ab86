package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var at string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <content-id>",
		Short: "Show which video a content item plays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				now = t
			}

			return ctx.withApp(func(a *app) error {
				res, err := a.resolver.Resolve(cmd.Context(), args[0], now)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Date:    %s\n", res.Date)
				fmt.Fprintf(out, "Reason:  %s\n", res.Reason)
				if res.Found() {
					fmt.Fprintf(out, "Video:   %s\n", res.VideoID)
					fmt.Fprintf(out, "URL:     %s\n", res.VideoURL)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Instant to evaluate (RFC3339, default now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
