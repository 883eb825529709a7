package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Tally configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Production ProductionConfig `yaml:"production"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig holds inference engine settings.
type EngineConfig struct {
	ModelPath      string  `yaml:"model_path"`
	VocabPath      string  `yaml:"vocab_path"`
	ProjectionPath string  `yaml:"projection_path"`
	CacheSize      int     `yaml:"cache_size"`
	MediumCutoff   float64 `yaml:"medium_cutoff"`
	HighCutoff     float64 `yaml:"high_cutoff"`
	WarmupRuns     int     `yaml:"warmup_runs"`
	BatchSize      int     `yaml:"batch_size"`
}

// MonitorConfig holds model monitor settings.
type MonitorConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	MetricCapacity  int           `yaml:"metric_capacity"`
	AlertCapacity   int           `yaml:"alert_capacity"`
	WindowCapacity  int           `yaml:"window_capacity"`
	ExportDirectory string        `yaml:"export_directory"`
}

// ExperimentConfig holds A/B framework settings.
type ExperimentConfig struct {
	DataDir           string  `yaml:"data_dir"`
	MinimumSampleSize int     `yaml:"minimum_sample_size"`
	SignificanceLevel float64 `yaml:"significance_level"`
}

// ProductionConfig holds orchestrator settings and performance targets.
type ProductionConfig struct {
	ModelDir               string  `yaml:"model_dir"`
	MaxInferenceTimeMs     float64 `yaml:"max_inference_time_ms"`
	MinAccuracy            float64 `yaml:"min_accuracy"`
	MaxErrorRate           float64 `yaml:"max_error_rate"`
	MinThroughputPerSecond float64 `yaml:"min_throughput_per_second"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Format string `yaml:"format"` // "text" or "json"
	Level  string `yaml:"level"`
}

// Load reads configuration from environment variables with sensible defaults.
// When TALLY_CONFIG points at a YAML file, its values are applied first and
// environment variables override them.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("TALLY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Engine: EngineConfig{
			ModelPath:      "models/model_quantized.onnx",
			VocabPath:      "models/vocab.txt",
			ProjectionPath: "models/2_Dense/model.safetensors",
			CacheSize:      10000,
			MediumCutoff:   0.6,
			HighCutoff:     0.8,
			WarmupRuns:     3,
			BatchSize:      32,
		},
		Monitor: MonitorConfig{
			SampleInterval: 30 * time.Second,
			MetricCapacity: 10000,
			AlertCapacity:  500,
			WindowCapacity: 1000,
		},
		Experiment: ExperimentConfig{
			DataDir:           "data/experiments",
			MinimumSampleSize: 100,
			SignificanceLevel: 0.05,
		},
		Production: ProductionConfig{
			ModelDir:               "models/production",
			MaxInferenceTimeMs:     10,
			MinAccuracy:            0.85,
			MaxErrorRate:           0.01,
			MinThroughputPerSecond: 100,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Engine.ModelPath = getenv("TALLY_MODEL_PATH", cfg.Engine.ModelPath)
	cfg.Engine.VocabPath = getenv("TALLY_VOCAB_PATH", cfg.Engine.VocabPath)
	cfg.Engine.ProjectionPath = getenv("TALLY_PROJECTION_PATH", cfg.Engine.ProjectionPath)
	cfg.Engine.CacheSize = getenvInt("TALLY_CACHE_SIZE", cfg.Engine.CacheSize)
	cfg.Engine.MediumCutoff = getenvFloat("TALLY_MEDIUM_CUTOFF", cfg.Engine.MediumCutoff)
	cfg.Engine.HighCutoff = getenvFloat("TALLY_HIGH_CUTOFF", cfg.Engine.HighCutoff)
	cfg.Engine.BatchSize = getenvInt("TALLY_BATCH_SIZE", cfg.Engine.BatchSize)

	cfg.Monitor.ExportDirectory = getenv("TALLY_EXPORT_DIR", cfg.Monitor.ExportDirectory)

	cfg.Experiment.DataDir = getenv("TALLY_EXPERIMENT_DIR", cfg.Experiment.DataDir)
	cfg.Experiment.SignificanceLevel = getenvFloat("TALLY_SIGNIFICANCE_LEVEL", cfg.Experiment.SignificanceLevel)

	cfg.Production.ModelDir = getenv("TALLY_PRODUCTION_MODEL_DIR", cfg.Production.ModelDir)
	cfg.Production.MaxInferenceTimeMs = getenvFloat("TALLY_MAX_INFERENCE_MS", cfg.Production.MaxInferenceTimeMs)
	cfg.Production.MinAccuracy = getenvFloat("TALLY_MIN_ACCURACY", cfg.Production.MinAccuracy)

	cfg.Server.Addr = getenv("TALLY_ADDR", cfg.Server.Addr)

	cfg.Logging.Format = getenv("TALLY_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenv("TALLY_LOG_LEVEL", cfg.Logging.Level)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
