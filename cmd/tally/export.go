package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/tally/internal/config"
	"github.com/crimson-sun/tally/internal/export"
	"github.com/crimson-sun/tally/internal/logging"
)

func newExportCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "export-models",
		Short: "Build, validate, and benchmark the production model variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
			if outDir == "" {
				outDir = cfg.Production.ModelDir
			}

			exporter, err := export.New(export.Options{
				ModelPath: cfg.Engine.ModelPath,
				VocabPath: cfg.Engine.VocabPath,
				HeadPath:  cfg.Engine.ProjectionPath,
			})
			if err != nil {
				return err
			}

			models, err := exporter.CreateProductionModels(outDir)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(models)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: the configured production model dir)")
	return cmd
}

func newBenchmarkCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark previously exported model variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
			if dir == "" {
				dir = cfg.Production.ModelDir
			}

			data, err := os.ReadFile(dir + "/benchmark_report.json")
			if err != nil {
				return fmt.Errorf("no export found in %s, run export-models first: %w", dir, err)
			}
			var models export.ProductionModels
			if err := json.Unmarshal(data, &models); err != nil {
				return err
			}

			exporter, err := export.New(export.Options{
				ModelPath: cfg.Engine.ModelPath,
				VocabPath: cfg.Engine.VocabPath,
				HeadPath:  cfg.Engine.ProjectionPath,
			})
			if err != nil {
				return err
			}

			variants := make([]export.Variant, 0, len(models.Variants))
			for _, v := range models.Variants {
				variants = append(variants, v)
			}
			results, err := exporter.Benchmark(variants, export.BenchmarkTexts())
			if err != nil {
				return err
			}

			for _, r := range results {
				fmt.Printf("%-14s avg=%.2fms p95=%.2fms throughput=%.0f/s size=%dB\n",
					r.Variant, r.AvgLatencyMs, r.P95LatencyMs, r.ThroughputPerSecond, r.ModelSizeBytes)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "exported model directory (default: the configured production model dir)")
	return cmd
}
