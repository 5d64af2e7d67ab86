package main

import (
	"fmt"
	"strconv"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/spf13/cobra"
)

func newVideoCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Manage the videos attached to a content item",
	}
	cmd.AddCommand(newVideoAddCommand(ctx))
	cmd.AddCommand(newVideoListCommand(ctx))
	cmd.AddCommand(newVideoDefaultCommand(ctx))
	cmd.AddCommand(newVideoRemoveCommand(ctx))
	return cmd
}

func newVideoAddCommand(ctx *commandContext) *cobra.Command {
	var id, from, until string
	var weight, order int
	var isDefault bool

	cmd := &cobra.Command{
		Use:   "add <content-id> <url>",
		Short: "Attach a video, or update it when --id already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := &domain.Video{
				ID:        id,
				ContentID: args[0],
				URL:       args[1],
				Weight:    weight,
				Order:     order,
				IsDefault: isDefault,
			}
			var err error
			if v.ActiveFrom, err = optionalDate(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if v.ActiveUntil, err = optionalDate(until); err != nil {
				return fmt.Errorf("--until: %w", err)
			}
			if v.ActiveFrom != nil && v.ActiveUntil != nil && v.ActiveUntil.Before(*v.ActiveFrom) {
				return fmt.Errorf("--until %s is before --from %s", v.ActiveUntil, v.ActiveFrom)
			}

			return ctx.withApp(func(a *app) error {
				if err := a.resolver.SaveVideo(cmd.Context(), v); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Video id (generated when empty)")
	cmd.Flags().StringVar(&from, "from", "", "First active date, YYYY-MM-DD")
	cmd.Flags().StringVar(&until, "until", "", "Last active date, YYYY-MM-DD")
	cmd.Flags().IntVar(&weight, "weight", 1, "Weight for random daily selection")
	cmd.Flags().IntVar(&order, "order", 0, "Position in listings")
	cmd.Flags().BoolVar(&isDefault, "default", false, "Make this the fallback video")

	return cmd
}

func newVideoListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <content-id>",
		Short: "List videos of a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				videos, err := a.resolver.ListVideos(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, videos)
				}
				if len(videos) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No videos")
					return nil
				}
				rows := make([][]string, 0, len(videos))
				for _, v := range videos {
					rows = append(rows, []string{
						v.ID,
						v.URL,
						dateOrDash(v.ActiveFrom),
						dateOrDash(v.ActiveUntil),
						strconv.Itoa(v.Weight),
						yesNo(v.IsDefault),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "URL", "From", "Until", "Weight", "Default"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print videos as JSON")
	return cmd
}

func newVideoDefaultCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "default <content-id> <video-id>",
		Short: "Make a video the fallback for its content item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				return a.resolver.SetDefaultVideo(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func newVideoRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <content-id> <video-id>",
		Short: "Detach a video",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				return a.resolver.DeleteVideo(cmd.Context(), args[0], args[1])
			})
		},
	}
}

func optionalDate(s string) (*domain.Date, error) {
	if s == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func dateOrDash(d *domain.Date) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
