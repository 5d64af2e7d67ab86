package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/infrastructure/logger"
	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs [content-id]",
		Short: "List marker jobs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contentID := ""
			if len(args) == 1 {
				contentID = args[0]
			}
			return ctx.withApp(func(a *app) error {
				jobs, err := a.markers.ListJobs(cmd.Context(), contentID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No marker jobs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderJobsTable(jobs))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print jobs as JSON")

	return cmd
}

func renderJobsTable(jobs []*domain.MarkerJob) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		errText := ""
		if job.ErrorKind != "" {
			errText = string(job.ErrorKind) + ": " + logger.Tail(job.ErrorMessage, 60)
		}
		rows = append(rows, []string{
			shortID(job.ID),
			job.ContentID,
			string(job.Status),
			strconv.Itoa(job.Attempts) + "/" + strconv.Itoa(job.MaxAttempts),
			job.UpdatedAt.Local().Format(time.DateTime),
			errText,
		})
	}
	return renderTable(
		[]string{"Job", "Content", "Status", "Attempts", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
