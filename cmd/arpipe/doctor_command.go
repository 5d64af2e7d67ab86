package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/arpipe/config"
	"github.com/spf13/cobra"
)

type checkResult struct {
	Name   string
	OK     bool
	Detail string
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage and the marker compiler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app) error {
				results := runChecks(cmd, a)

				rows := make([][]string, 0, len(results))
				failed := 0
				for _, r := range results {
					status := "ok"
					if !r.OK {
						status = "FAIL"
						failed++
					}
					rows = append(rows, []string{r.Name, status, r.Detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Check", "Status", "Detail"}, rows, nil))

				if failed > 0 {
					return fmt.Errorf("%d check(s) failed", failed)
				}
				return nil
			})
		},
	}
}

func runChecks(cmd *cobra.Command, a *app) []checkResult {
	var results []checkResult
	add := func(name string, err error, detail string) {
		if err != nil {
			detail = err.Error()
		}
		results = append(results, checkResult{Name: name, OK: err == nil, Detail: detail})
	}

	add("compiler", a.compiler.CheckAvailable(), a.compiler.Binary())
	add("database", a.store.Ping(cmd.Context()), a.cfg.DBDir())
	add("data dir", checkWritable(a.cfg.Server.DataDir), a.cfg.Server.DataDir)
	add("artifacts", nil, describeArtifacts(a.cfg))
	add("timezone", nil, a.cfg.Location().String())
	return results
}

func checkWritable(dir string) error {
	tmp, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := tmp.Name()
	return errors.Join(tmp.Close(), os.Remove(name))
}

func describeArtifacts(cfg *config.Config) string {
	detail := cfg.Artifacts.Backend + " bucket=" + cfg.Artifacts.Bucket
	switch cfg.Artifacts.Backend {
	case "s3", "minio":
		detail += " endpoint=" + cfg.S3.Endpoint
	default:
		detail += " root=" + filepath.Clean(cfg.ArtifactsDir())
	}
	if len(cfg.Artifacts.BucketOverrides) > 0 {
		detail += " overrides=" + config.FormatBucketOverrides(cfg.Artifacts.BucketOverrides)
	}
	return detail
}
