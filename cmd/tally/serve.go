package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/tally/internal/config"
	"github.com/crimson-sun/tally/internal/embed"
	"github.com/crimson-sun/tally/internal/engine"
	"github.com/crimson-sun/tally/internal/experiment"
	"github.com/crimson-sun/tally/internal/export"
	"github.com/crimson-sun/tally/internal/logging"
	"github.com/crimson-sun/tally/internal/monitor"
	"github.com/crimson-sun/tally/internal/production"
	"github.com/crimson-sun/tally/internal/server"
)

func newServeCmd() *cobra.Command {
	var noVariants bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the classification HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(noVariants)
		},
	}
	cmd.Flags().BoolVar(&noVariants, "no-variants", false, "serve the base model only, skipping quantized variant builds")
	return cmd
}

func serve(noVariants bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))

	emb, err := embed.NewONNX(embed.Options{
		ModelPath:      cfg.Engine.ModelPath,
		VocabPath:      cfg.Engine.VocabPath,
		ProjectionPath: cfg.Engine.ProjectionPath,
	})
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}

	store := embed.NewPrototypeStore(emb, "fp32")
	if err := store.Initialize(nil); err != nil {
		emb.Close()
		return fmt.Errorf("initializing prototypes: %w", err)
	}

	defaultEngine := engine.New(emb, store, engine.Options{
		ModelVersion: "fp32",
		CacheSize:    cfg.Engine.CacheSize,
		MediumCutoff: cfg.Engine.MediumCutoff,
		HighCutoff:   cfg.Engine.HighCutoff,
	})

	mon := monitor.New(monitor.Options{
		SampleInterval: cfg.Monitor.SampleInterval,
		MetricCapacity: cfg.Monitor.MetricCapacity,
		AlertCapacity:  cfg.Monitor.AlertCapacity,
		WindowCapacity: cfg.Monitor.WindowCapacity,
	})

	framework, err := experiment.New(cfg.Experiment.DataDir)
	if err != nil {
		return fmt.Errorf("creating experiment framework: %w", err)
	}

	opts := production.Options{
		DefaultEngine: defaultEngine,
		Monitor:       mon,
		Experiments:   framework,
		Targets: production.Targets{
			MaxInferenceTimeMs:     cfg.Production.MaxInferenceTimeMs,
			MinAccuracy:            cfg.Production.MinAccuracy,
			MaxErrorRate:           cfg.Production.MaxErrorRate,
			MinThroughputPerSecond: cfg.Production.MinThroughputPerSecond,
		},
	}
	if !noVariants {
		exporter, err := export.New(export.Options{
			ModelPath: cfg.Engine.ModelPath,
			VocabPath: cfg.Engine.VocabPath,
			HeadPath:  cfg.Engine.ProjectionPath,
		})
		if err != nil {
			return fmt.Errorf("creating exporter: %w", err)
		}
		opts.Builder = exporter
		opts.ModelDir = cfg.Production.ModelDir
		opts.NewEngine = variantEngineFactory(cfg, store)
	}

	orch, err := production.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing production: %w", err)
	}
	defer orch.Shutdown()

	srv := server.New(cfg.Server.Addr, orch, mon)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()
	slog.Info("serving", "addr", cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "\nshutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// variantEngineFactory builds an engine per exported variant. Every variant
// shares the prototype store: prototypes are embedded by the base model and
// scored in the same vector space.
func variantEngineFactory(cfg config.Config, store *embed.PrototypeStore) func(export.Variant) (production.Classifier, error) {
	return func(v export.Variant) (production.Classifier, error) {
		emb, err := embed.NewONNX(embed.Options{
			ModelPath:      v.ModelPath,
			VocabPath:      cfg.Engine.VocabPath,
			ProjectionPath: v.HeadPath,
		})
		if err != nil {
			return nil, err
		}
		return engine.New(emb, store, engine.Options{
			ModelVersion: v.Name,
			CacheSize:    cfg.Engine.CacheSize,
			MediumCutoff: cfg.Engine.MediumCutoff,
			HighCutoff:   cfg.Engine.HighCutoff,
		}), nil
	}
}
