package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bnema/arpipe/internal/domain"
	"github.com/bnema/arpipe/internal/service"
	"github.com/spf13/cobra"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var req service.TriggerRequest
	var flow string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "generate <content-id> <source-image>",
		Short: "Compile a marker synchronously, retrying until it succeeds or fails",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ContentID = args[0]
			src, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			req.SourceImagePath = src
			req.Flow = domain.ObjectFlow(flow)

			return ctx.withApp(func(a *app) error {
				res, err := a.markers.Generate(cmd.Context(), req)
				var failure *domain.MarkerError
				if errors.As(err, &failure) {
					return fmt.Errorf("marker generation failed (%s): %s", failure.Kind, failure.Detail())
				}
				if err != nil {
					return err
				}

				if asJSON {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:       %s\n", res.JobID)
				fmt.Fprintf(out, "Status:    %s\n", res.Status)
				fmt.Fprintf(out, "Artifact:  %s\n", res.ArtifactPath)
				fmt.Fprintf(out, "URL:       %s\n", res.ArtifactURL)
				fmt.Fprintf(out, "Size:      %d bytes\n", res.Metadata.SizeBytes)
				if res.Metadata.FeaturePoints > 0 {
					fmt.Fprintf(out, "Features:  %d\n", res.Metadata.FeaturePoints)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&req.MaxFeatures, "max-features", 0, "Feature point ceiling (0 uses the configured default)")
	cmd.Flags().BoolVar(&req.Regenerate, "regenerate", false, "Compile again even when a ready marker exists")
	cmd.Flags().StringVar(&flow, "flow", string(domain.ObjectFlowContent), "Object naming flow: content or standalone")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}
