package main

import (
	"fmt"
	"os"

	"github.com/bnema/arpipe/config"
	"github.com/bnema/arpipe/internal/adapter/artifact"
	"github.com/bnema/arpipe/internal/adapter/artifact/s3"
	"github.com/bnema/arpipe/internal/adapter/compiler/mindar"
	"github.com/bnema/arpipe/internal/adapter/lease"
	"github.com/bnema/arpipe/internal/adapter/metadata"
	sqlitestore "github.com/bnema/arpipe/internal/adapter/storage/sqlite"
	"github.com/bnema/arpipe/internal/port"
	"github.com/bnema/arpipe/internal/service"
	"github.com/rs/zerolog"
)

// app is the wired component graph shared by every command.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     *sqlitestore.Store
	queue     *sqlitestore.JobQueue
	compiler  *mindar.Compiler
	artifacts port.ArtifactStore
	bus       *service.EventBus
	resolver  *service.Resolver
	markers   *service.MarkerService
}

func newApp(cfg *config.Config, log zerolog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store, err := sqlitestore.NewStore(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	locker, err := lease.NewFileLocker(cfg.LeaseDir())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	artifacts, err := artifact.New(artifact.Options{
		Backend:       cfg.Artifacts.Backend,
		LocalRoot:     cfg.ArtifactsDir(),
		PublicBaseURL: cfg.Artifacts.PublicBaseURL,
		S3: s3.Options{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			UseSSL:    cfg.S3.UseSSL,
			Region:    cfg.S3.Region,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		queue:     sqlitestore.NewJobQueue(store),
		compiler:  mindar.NewCompiler(cfg.Compiler.Binary),
		artifacts: artifacts,
		bus:       service.NewEventBus(),
	}
	a.resolver = service.NewResolver(store, store, cfg.Location(), log)
	a.markers = service.NewMarkerService(service.MarkerDeps{
		Jobs:      store,
		Contents:  store,
		Queue:     a.queue,
		Compiler:  a.compiler,
		Artifacts: artifacts,
		Metadata:  metadata.NewExtractor(log),
		Locker:    locker,
		Events:    service.Publishers{a.bus, a.resolver},
		Backoff:   service.NewBackoff(cfg.Compiler.BackoffBase.Std(), cfg.Compiler.BackoffCap.Std()),
		Log:       log,
	}, service.MarkerConfig{
		OutputDir:        cfg.MarkersDir(),
		MaxFeatures:      cfg.Compiler.MaxFeatures,
		CompileTimeout:   cfg.Compiler.CompileTimeout.Std(),
		MaxAttempts:      cfg.Compiler.MaxAttempts,
		MinArtifactBytes: cfg.Artifacts.MinBytes,
		MaxArtifactBytes: cfg.Artifacts.MaxBytes,
		Bucket:           cfg.Artifacts.Bucket,
		BucketOverrides:  cfg.Artifacts.BucketOverrides,
	})
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
