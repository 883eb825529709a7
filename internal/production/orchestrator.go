// Package production composes the engine, monitor, A/B framework, and model
// export pipeline into one serving system: variants are built and
// benchmarked at startup, live traffic is routed by experiment assignment,
// and telemetry flows to the monitor and the framework.
package production

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crimson-sun/tally/internal/experiment"
	"github.com/crimson-sun/tally/internal/export"
	"github.com/crimson-sun/tally/internal/model"
	"github.com/crimson-sun/tally/internal/monitor"
)

// Classifier is the engine surface the orchestrator routes traffic to.
type Classifier interface {
	Classify(ctx context.Context, req model.ClassificationRequest) (model.InferenceResult, error)
	ClassifyBatch(ctx context.Context, reqs []model.ClassificationRequest, batchSize int) ([]model.InferenceResult, model.BatchStats, error)
	WarmUp(n int) error
	OptimizeForProduction() error
	CacheStats() (hits, misses uint64)
	ModelVersion() string
	Close() error
}

// Telemetry is the monitor surface the orchestrator reports into.
type Telemetry interface {
	Start()
	Stop()
	Running() bool
	RecordInference(latencyMs, confidence float64, modelVersion string, isCorrect *bool)
	RecordError(kind string)
	RecordCacheStats(hits, misses uint64)
	PerformanceSnapshot() monitor.Snapshot
	Dashboard(hours float64) monitor.DashboardData
}

// Experiments is the A/B framework surface used for routing and telemetry.
type Experiments interface {
	Create(cfg experiment.Config) error
	Start(id string) error
	Stop(id, reason string) (*experiment.Report, error)
	Status(id string) (experiment.Status, error)
	Assign(id, userID string) (*experiment.ModelVariant, error)
	Record(result experiment.Result) error
	Feedback(experimentID, userID, prediction string, isCorrect bool) (bool, error)
	GenerateReport(id string) (*experiment.Report, error)
}

// ModelBuilder produces the deployable variants. Satisfied by
// export.Exporter.
type ModelBuilder interface {
	CreateProductionModels(outDir string) (*export.ProductionModels, error)
}

// Targets are the performance bars a variant must clear to serve traffic.
type Targets struct {
	MaxInferenceTimeMs     float64
	MinAccuracy            float64
	MaxErrorRate           float64
	MinThroughputPerSecond float64
}

// Options wires an Orchestrator. DefaultEngine is required and always
// serves as the "default" model; Builder and NewEngine are optional and
// enable quantized variants.
type Options struct {
	DefaultEngine Classifier
	Monitor       Telemetry
	Experiments   Experiments

	// Builder produces model variants under ModelDir at initialization.
	Builder   ModelBuilder
	ModelDir  string
	NewEngine func(v export.Variant) (Classifier, error)

	Targets Targets
}

// activeModel is one registered serving configuration.
type activeModel struct {
	engine       Classifier
	variant      export.Variant
	benchmark    *export.BenchmarkResult
	meetsTargets bool
}

// Orchestrator routes classification traffic across active models.
type Orchestrator struct {
	opts Options

	mu           sync.Mutex
	models       map[string]*activeModel
	experimentID string
	ready        bool
	startedAt    time.Time
}

// New validates the wiring and returns a stopped Orchestrator; Initialize
// brings it up.
func New(opts Options) (*Orchestrator, error) {
	if opts.DefaultEngine == nil {
		return nil, fmt.Errorf("production: default engine is required")
	}
	if opts.Monitor == nil {
		return nil, fmt.Errorf("production: monitor is required")
	}
	if opts.Experiments == nil {
		return nil, fmt.Errorf("production: experiment framework is required")
	}
	if opts.Builder != nil && opts.NewEngine == nil {
		return nil, fmt.Errorf("production: model builder needs an engine factory")
	}
	return &Orchestrator{
		opts:   opts,
		models: make(map[string]*activeModel),
	}, nil
}

// Initialize brings the system up: build and register variants, start the
// monitor, benchmark everything against the targets, start an experiment
// when at least two variants qualify, and run the readiness check.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startedAt = time.Now().UTC()

	if err := o.opts.DefaultEngine.WarmUp(3); err != nil {
		return fmt.Errorf("production: warmup: %w", err)
	}
	if err := o.opts.DefaultEngine.OptimizeForProduction(); err != nil {
		return fmt.Errorf("production: optimize: %w", err)
	}
	o.models["default"] = &activeModel{engine: o.opts.DefaultEngine}

	if o.opts.Builder != nil {
		if err := o.buildVariants(ctx); err != nil {
			return err
		}
	}

	o.opts.Monitor.Start()
	o.evaluateTargets()

	qualified := o.qualifiedVariants()
	if len(qualified) >= 2 {
		if err := o.startExperiment(qualified); err != nil {
			slog.Warn("experiment auto-start failed", "error", err)
		}
	} else {
		slog.Info("not enough qualifying variants for an experiment", "qualified", len(qualified))
	}

	if err := o.readinessCheck(ctx); err != nil {
		return fmt.Errorf("production: readiness check failed: %w", err)
	}
	o.ready = true
	slog.Info("production initialized",
		"models", len(o.models),
		"experiment_id", o.experimentID)
	return nil
}

func (o *Orchestrator) buildVariants(ctx context.Context) error {
	built, err := o.opts.Builder.CreateProductionModels(o.opts.ModelDir)
	if err != nil {
		return fmt.Errorf("production: building variants: %w", err)
	}
	for name, variant := range built.Variants {
		if err := ctx.Err(); err != nil {
			return err
		}
		engine, err := o.opts.NewEngine(variant)
		if err != nil {
			slog.Warn("variant engine failed to load, skipping", "variant", name, "error", err)
			continue
		}
		if err := engine.WarmUp(3); err != nil {
			slog.Warn("variant warmup failed, skipping", "variant", name, "error", err)
			engine.Close()
			continue
		}
		am := &activeModel{engine: engine, variant: variant}
		for i := range built.Benchmarks {
			if built.Benchmarks[i].Variant == name {
				am.benchmark = &built.Benchmarks[i]
			}
		}
		o.models[name] = am
		slog.Info("registered model variant", "variant", name, "model_version", engine.ModelVersion())
	}
	return nil
}

// evaluateTargets marks each model against the configured performance bars.
// Accuracy and error rate are live signals with no data at startup, so the
// startup gate is latency and throughput from the benchmark; models without
// a benchmark pass by default.
func (o *Orchestrator) evaluateTargets() {
	t := o.opts.Targets
	for name, am := range o.models {
		am.meetsTargets = true
		if am.benchmark == nil {
			continue
		}
		if t.MaxInferenceTimeMs > 0 && am.benchmark.AvgLatencyMs > t.MaxInferenceTimeMs {
			am.meetsTargets = false
		}
		if t.MinThroughputPerSecond > 0 && am.benchmark.ThroughputPerSecond < t.MinThroughputPerSecond {
			am.meetsTargets = false
		}
		if !am.meetsTargets {
			slog.Warn("model does not meet performance targets",
				"variant", name,
				"avg_latency_ms", am.benchmark.AvgLatencyMs,
				"throughput_per_s", am.benchmark.ThroughputPerSecond)
		}
	}
}

// qualifiedVariants lists target-meeting models that came from the export
// pipeline, the only ones an experiment can route between.
func (o *Orchestrator) qualifiedVariants() []string {
	var names []string
	for name, am := range o.models {
		if name == "default" || !am.meetsTargets {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (o *Orchestrator) startExperiment(names []string) error {
	variants := make([]experiment.ModelVariant, 0, len(names))
	weight := 1.0 / float64(len(names))
	for _, name := range names {
		am := o.models[name]
		variants = append(variants, experiment.ModelVariant{
			Name:         name,
			ModelPath:    am.variant.ModelPath,
			ModelVersion: am.engine.ModelVersion(),
			Weight:       weight,
		})
	}

	id := "prod-" + uuid.NewString()
	cfg := experiment.Config{
		ExperimentID:   id,
		Description:    "automatic production variant comparison",
		Variants:       variants,
		Strategy:       experiment.SplitUserIDHash,
		StartTime:      time.Now().UTC(),
		SuccessMetrics: []string{"accuracy", "inference_time"},
		GuardRails: &experiment.GuardRails{
			MinAccuracy:        o.opts.Targets.MinAccuracy,
			MaxInferenceTimeMs: o.opts.Targets.MaxInferenceTimeMs,
		},
	}
	if err := o.opts.Experiments.Create(cfg); err != nil {
		return err
	}
	if err := o.opts.Experiments.Start(id); err != nil {
		return err
	}
	o.experimentID = id
	slog.Info("production experiment started", "experiment_id", id, "variants", names)
	return nil
}

// readinessCheck is called with the lock held, before ready is set.
func (o *Orchestrator) readinessCheck(ctx context.Context) error {
	anyMeets := false
	for _, am := range o.models {
		if am.meetsTargets {
			anyMeets = true
			break
		}
	}
	if !anyMeets {
		return fmt.Errorf("no model meets performance targets")
	}
	if !o.opts.Monitor.Running() {
		return fmt.Errorf("monitor is not running")
	}
	smoke := model.ClassificationRequest{Description: "readiness check coffee purchase"}
	if _, err := o.opts.DefaultEngine.Classify(ctx, smoke); err != nil {
		return fmt.Errorf("smoke inference: %w", err)
	}
	return nil
}

// routeRequest picks the serving model. Assignment failures fall back to
// the default model rather than failing the request.
func (o *Orchestrator) routeRequest(userID string) (name string, am *activeModel) {
	o.mu.Lock()
	defer o.mu.Unlock()

	name = "default"
	if o.experimentID != "" {
		v, err := o.opts.Experiments.Assign(o.experimentID, userID)
		if err != nil {
			slog.Warn("variant assignment failed", "error", err)
		} else if v != nil {
			if _, ok := o.models[v.Name]; ok {
				name = v.Name
			}
		}
	}
	return name, o.models[name]
}

// ClassifyTransaction classifies one transaction on the experiment-assigned
// variant. Failures are recorded as monitoring errors and returned to the
// caller.
func (o *Orchestrator) ClassifyTransaction(ctx context.Context, req model.ClassificationRequest) (model.InferenceResult, error) {
	variantName, am := o.routeRequest(req.UserID)
	if am == nil {
		err := fmt.Errorf("production: no active model")
		o.opts.Monitor.RecordError("no_active_model")
		return model.InferenceResult{}, err
	}

	result, err := am.engine.Classify(ctx, req)
	if err != nil {
		o.opts.Monitor.RecordError("inference_failure")
		return model.InferenceResult{}, fmt.Errorf("production: %w", err)
	}

	o.opts.Monitor.RecordInference(result.InferenceTimeMs, result.Confidence, result.ModelVersion, nil)
	o.opts.Monitor.RecordCacheStats(am.engine.CacheStats())

	o.mu.Lock()
	experimentID := o.experimentID
	o.mu.Unlock()
	if experimentID != "" && variantName != "default" {
		record := experiment.Result{
			Timestamp:       time.Now().UTC(),
			ExperimentID:    experimentID,
			VariantName:     variantName,
			UserID:          req.UserID,
			Prediction:      result.PredictedCategory,
			Confidence:      result.Confidence,
			InferenceTimeMs: result.InferenceTimeMs,
			Metadata:        map[string]string{"transaction_id": req.TransactionID},
		}
		if err := o.opts.Experiments.Record(record); err != nil {
			slog.Warn("experiment result recording failed", "error", err)
		}
	}

	// Routing metadata rides on the model version so callers can see which
	// variant served them.
	result.ModelVersion = fmt.Sprintf("%s@%s", result.ModelVersion, variantName)
	return result, nil
}

// ClassifyBatch classifies an ordered list of transactions on the default
// model. Batches bypass experiment routing: per-item variant assignment
// would defeat the batched embedding pass.
func (o *Orchestrator) ClassifyBatch(ctx context.Context, reqs []model.ClassificationRequest, batchSize int) ([]model.InferenceResult, model.BatchStats, error) {
	o.mu.Lock()
	am := o.models["default"]
	o.mu.Unlock()
	if am == nil {
		o.opts.Monitor.RecordError("no_active_model")
		return nil, model.BatchStats{}, fmt.Errorf("production: no active model")
	}

	results, stats, err := am.engine.ClassifyBatch(ctx, reqs, batchSize)
	if err != nil {
		o.opts.Monitor.RecordError("batch_failure")
		return nil, model.BatchStats{}, fmt.Errorf("production: %w", err)
	}
	for i := range results {
		o.opts.Monitor.RecordInference(results[i].InferenceTimeMs, results[i].Confidence, results[i].ModelVersion, nil)
	}
	o.opts.Monitor.RecordCacheStats(am.engine.CacheStats())
	return results, stats, nil
}

// SubmitFeedback records ground truth: a synthetic accuracy observation for
// the monitor and a back-fill into the active experiment.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, fb model.Feedback) error {
	if fb.PredictedCategory == "" || fb.ActualCategory == "" {
		return fmt.Errorf("production: feedback needs predicted and actual categories")
	}
	correct := fb.Correct()
	o.opts.Monitor.RecordInference(0, 0, "feedback", &correct)

	o.mu.Lock()
	experimentID := o.experimentID
	o.mu.Unlock()
	if experimentID != "" {
		updated, err := o.opts.Experiments.Feedback(experimentID, fb.UserID, fb.PredictedCategory, correct)
		if err != nil {
			slog.Warn("experiment feedback failed", "error", err)
		} else if !updated {
			slog.Debug("feedback matched no experiment result",
				"user_id", fb.UserID, "prediction", fb.PredictedCategory)
		}
	}
	return nil
}

// ModelStatus is one model's entry in the status view.
type ModelStatus struct {
	Name         string  `json:"name"`
	ModelVersion string  `json:"model_version"`
	Quantization string  `json:"quantization,omitempty"`
	MeetsTargets bool    `json:"meets_targets"`
	AvgLatencyMs float64 `json:"avg_latency_ms,omitempty"`
	SizeBytes    int64   `json:"size_bytes,omitempty"`
}

// Status is the operational state readout.
type Status struct {
	Ready            bool             `json:"ready"`
	UptimeSeconds    float64          `json:"uptime_seconds"`
	Models           []ModelStatus    `json:"models"`
	ExperimentID     string           `json:"experiment_id,omitempty"`
	ExperimentStatus string           `json:"experiment_status,omitempty"`
	Performance      monitor.Snapshot `json:"performance"`
}

// Status reports the current operational state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		Ready:        o.ready,
		ExperimentID: o.experimentID,
		Performance:  o.opts.Monitor.PerformanceSnapshot(),
	}
	if !o.startedAt.IsZero() {
		s.UptimeSeconds = time.Since(o.startedAt).Seconds()
	}
	for name, am := range o.models {
		ms := ModelStatus{
			Name:         name,
			ModelVersion: am.engine.ModelVersion(),
			Quantization: am.variant.Quantization,
			MeetsTargets: am.meetsTargets,
			SizeBytes:    am.variant.SizeBytes,
		}
		if am.benchmark != nil {
			ms.AvgLatencyMs = am.benchmark.AvgLatencyMs
		}
		s.Models = append(s.Models, ms)
	}
	if o.experimentID != "" {
		if status, err := o.opts.Experiments.Status(o.experimentID); err == nil {
			s.ExperimentStatus = string(status)
		}
	}
	return s
}

// Report folds the status together with the experiment readout and
// per-model optimization flags.
type Report struct {
	Status          Status             `json:"status"`
	Experiment      *experiment.Report `json:"experiment,omitempty"`
	Recommendations []string           `json:"recommendations"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// GenerateReport builds the full production health report.
func (o *Orchestrator) GenerateReport() Report {
	report := Report{
		Status:      o.Status(),
		GeneratedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	experimentID := o.experimentID
	o.mu.Unlock()
	if experimentID != "" {
		if expReport, err := o.opts.Experiments.GenerateReport(experimentID); err == nil {
			report.Experiment = expReport
			report.Recommendations = append(report.Recommendations, expReport.Recommendations...)
		} else {
			slog.Warn("experiment report generation failed", "error", err)
		}
	}
	for _, ms := range report.Status.Models {
		if !ms.MeetsTargets {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Model %q does not meet performance targets; consider optimization.", ms.Name))
		}
	}
	return report
}

// Shutdown stops the experiment and the monitor and closes every engine.
// Best effort: failures are logged, not returned.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	experimentID := o.experimentID
	o.experimentID = ""
	o.ready = false
	models := o.models
	o.models = make(map[string]*activeModel)
	o.mu.Unlock()

	if experimentID != "" {
		if _, err := o.opts.Experiments.Stop(experimentID, "system_shutdown"); err != nil {
			slog.Warn("experiment stop failed during shutdown", "error", err)
		}
	}
	o.opts.Monitor.Stop()
	for name, am := range models {
		if err := am.engine.Close(); err != nil {
			slog.Warn("engine close failed", "variant", name, "error", err)
		}
	}
	slog.Info("production shut down")
}
