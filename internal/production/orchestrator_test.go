package production

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/tally/internal/experiment"
	"github.com/crimson-sun/tally/internal/export"
	"github.com/crimson-sun/tally/internal/model"
	"github.com/crimson-sun/tally/internal/monitor"
)

type fakeEngine struct {
	version     string
	classifyErr error
	classified  int
	closed      bool
}

func (f *fakeEngine) Classify(ctx context.Context, req model.ClassificationRequest) (model.InferenceResult, error) {
	f.classified++
	if f.classifyErr != nil {
		return model.InferenceResult{}, f.classifyErr
	}
	return model.InferenceResult{
		PredictedCategory: "Food & Dining",
		Confidence:        0.91,
		ConfidenceLevel:   model.ConfidenceHigh,
		InferenceTimeMs:   2.5,
		ModelVersion:      f.version,
	}, nil
}

func (f *fakeEngine) ClassifyBatch(ctx context.Context, reqs []model.ClassificationRequest, batchSize int) ([]model.InferenceResult, model.BatchStats, error) {
	results := make([]model.InferenceResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := f.Classify(ctx, req)
		if err != nil {
			return nil, model.BatchStats{}, err
		}
		results = append(results, res)
	}
	return results, model.BatchStats{Total: len(reqs)}, nil
}

func (f *fakeEngine) WarmUp(n int) error               { return nil }
func (f *fakeEngine) OptimizeForProduction() error     { return nil }
func (f *fakeEngine) CacheStats() (uint64, uint64)     { return 10, 5 }
func (f *fakeEngine) ModelVersion() string             { return f.version }
func (f *fakeEngine) Close() error                     { f.closed = true; return nil }

type fakeExperiments struct {
	created    *experiment.Config
	started    string
	stopReason string
	assigned   *experiment.ModelVariant
	assignErr  error
	recorded   []experiment.Result
	feedback   []bool
}

func (f *fakeExperiments) Create(cfg experiment.Config) error { f.created = &cfg; return nil }
func (f *fakeExperiments) Start(id string) error              { f.started = id; return nil }
func (f *fakeExperiments) Stop(id, reason string) (*experiment.Report, error) {
	f.stopReason = reason
	return &experiment.Report{ExperimentID: id, Status: experiment.StatusCompleted}, nil
}
func (f *fakeExperiments) Status(id string) (experiment.Status, error) {
	return experiment.StatusRunning, nil
}
func (f *fakeExperiments) Assign(id, userID string) (*experiment.ModelVariant, error) {
	return f.assigned, f.assignErr
}
func (f *fakeExperiments) Record(r experiment.Result) error {
	f.recorded = append(f.recorded, r)
	return nil
}
func (f *fakeExperiments) Feedback(id, userID, prediction string, isCorrect bool) (bool, error) {
	f.feedback = append(f.feedback, isCorrect)
	return true, nil
}
func (f *fakeExperiments) GenerateReport(id string) (*experiment.Report, error) {
	return &experiment.Report{
		ExperimentID:    id,
		Recommendations: []string{"No significant difference between variants; either variant is acceptable."},
	}, nil
}

type fakeBuilder struct {
	models *export.ProductionModels
	err    error
}

func (f *fakeBuilder) CreateProductionModels(outDir string) (*export.ProductionModels, error) {
	return f.models, f.err
}

func builtModels(avgLatencyMs float64) *export.ProductionModels {
	return &export.ProductionModels{
		Variants: map[string]export.Variant{
			"fp32":         {Name: "fp32", Quantization: "none"},
			"dynamic_int8": {Name: "dynamic_int8", Quantization: "dynamic_int8"},
		},
		Benchmarks: []export.BenchmarkResult{
			{Variant: "fp32", AvgLatencyMs: avgLatencyMs, ThroughputPerSecond: 400},
			{Variant: "dynamic_int8", AvgLatencyMs: avgLatencyMs / 2, ThroughputPerSecond: 800},
		},
	}
}

func testOptions(exp Experiments, builder ModelBuilder) Options {
	return Options{
		DefaultEngine: &fakeEngine{version: "v1-default"},
		Monitor:       monitor.New(monitor.Options{SampleInterval: time.Hour}),
		Experiments:   exp,
		Builder:       builder,
		ModelDir:      "unused",
		NewEngine: func(v export.Variant) (Classifier, error) {
			return &fakeEngine{version: "v1-" + v.Name}, nil
		},
		Targets: Targets{
			MaxInferenceTimeMs:     10,
			MinAccuracy:            0.85,
			MinThroughputPerSecond: 100,
		},
	}
}

func TestNewValidatesWiring(t *testing.T) {
	exp := &fakeExperiments{}
	opts := testOptions(exp, nil)

	opts.DefaultEngine = nil
	_, err := New(opts)
	assert.Error(t, err)

	opts = testOptions(exp, &fakeBuilder{})
	opts.NewEngine = nil
	_, err = New(opts)
	assert.Error(t, err, "builder without an engine factory")
}

func TestInitializeStartsExperiment(t *testing.T) {
	exp := &fakeExperiments{}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(2)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	status := o.Status()
	assert.True(t, status.Ready)
	assert.Len(t, status.Models, 3)
	assert.NotEmpty(t, status.ExperimentID)

	require.NotNil(t, exp.created)
	assert.Equal(t, exp.created.ExperimentID, exp.started)
	assert.Len(t, exp.created.Variants, 2)
	for _, v := range exp.created.Variants {
		assert.InDelta(t, 0.5, v.Weight, 1e-9, "equal traffic weights")
	}
	require.NotNil(t, exp.created.GuardRails)
	assert.Equal(t, 0.85, exp.created.GuardRails.MinAccuracy)
	assert.Equal(t, 10.0, exp.created.GuardRails.MaxInferenceTimeMs)
}

func TestInitializeSkipsExperimentWhenVariantsMissTargets(t *testing.T) {
	exp := &fakeExperiments{}
	// Benchmarked latency far above the 10ms target.
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(100)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	assert.Nil(t, exp.created)
	status := o.Status()
	assert.True(t, status.Ready, "default model still serves")
	assert.Empty(t, status.ExperimentID)
}

func TestInitializeFailsWhenSmokeInferenceFails(t *testing.T) {
	exp := &fakeExperiments{}
	opts := testOptions(exp, nil)
	opts.DefaultEngine = &fakeEngine{version: "v1", classifyErr: errors.New("model broken")}

	o, err := New(opts)
	require.NoError(t, err)
	err = o.Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readiness")
	assert.False(t, o.Status().Ready)
}

func TestClassifyRoutesToAssignedVariant(t *testing.T) {
	exp := &fakeExperiments{}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(2)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))
	exp.assigned = &experiment.ModelVariant{Name: "dynamic_int8"}

	res, err := o.ClassifyTransaction(context.Background(), model.ClassificationRequest{
		Description:   "starbucks coffee",
		UserID:        "user-7",
		TransactionID: "txn-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Food & Dining", res.PredictedCategory)
	assert.True(t, strings.HasSuffix(res.ModelVersion, "@dynamic_int8"),
		"model version carries routing metadata, got %q", res.ModelVersion)

	require.Len(t, exp.recorded, 1)
	assert.Equal(t, "dynamic_int8", exp.recorded[0].VariantName)
	assert.Equal(t, "user-7", exp.recorded[0].UserID)
	assert.Equal(t, "txn-1", exp.recorded[0].Metadata["transaction_id"])
}

func TestClassifyFallsBackToDefault(t *testing.T) {
	exp := &fakeExperiments{assignErr: errors.New("assignment broken")}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(2)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	res, err := o.ClassifyTransaction(context.Background(), model.ClassificationRequest{
		Description: "uber ride",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.ModelVersion, "@default"))
	assert.Empty(t, exp.recorded, "default traffic is not experiment data")
}

func TestClassifyRecordsErrors(t *testing.T) {
	exp := &fakeExperiments{}
	opts := testOptions(exp, nil)
	engine := &fakeEngine{version: "v1"}
	opts.DefaultEngine = engine
	o, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	engine.classifyErr = errors.New("embedding failed")
	_, err = o.ClassifyTransaction(context.Background(), model.ClassificationRequest{Description: "x"})
	require.Error(t, err)

	snap := opts.Monitor.PerformanceSnapshot()
	assert.Equal(t, uint64(1), snap.TotalErrors)
}

func TestClassifyBatchUsesDefaultEngine(t *testing.T) {
	exp := &fakeExperiments{assigned: &experiment.ModelVariant{Name: "dynamic_int8"}}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(2)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	reqs := []model.ClassificationRequest{
		{Description: "starbucks coffee"},
		{Description: "uber ride"},
	}
	results, stats, err := o.ClassifyBatch(context.Background(), reqs, 32)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, stats.Total)
	assert.Empty(t, exp.recorded, "batches bypass experiment routing")
}

func TestSubmitFeedbackTracksAccuracy(t *testing.T) {
	exp := &fakeExperiments{}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(2)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	require.NoError(t, o.SubmitFeedback(context.Background(), model.Feedback{
		TransactionID:     "txn-1",
		PredictedCategory: "Food & Dining",
		ActualCategory:    "Groceries",
		UserID:            "user-7",
	}))

	snap := o.opts.Monitor.PerformanceSnapshot()
	assert.Equal(t, 1, snap.AccuracySamples)
	assert.Zero(t, snap.Accuracy, "wrong prediction drags accuracy down")

	require.Len(t, exp.feedback, 1)
	assert.False(t, exp.feedback[0])
}

func TestSubmitFeedbackValidates(t *testing.T) {
	exp := &fakeExperiments{}
	o, err := New(testOptions(exp, nil))
	require.NoError(t, err)
	assert.Error(t, o.SubmitFeedback(context.Background(), model.Feedback{PredictedCategory: "x"}))
}

func TestGenerateReportFlagsSlowModels(t *testing.T) {
	exp := &fakeExperiments{}
	o, err := New(testOptions(exp, &fakeBuilder{models: builtModels(100)}))
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))

	report := o.GenerateReport()
	var flagged bool
	for _, rec := range report.Recommendations {
		if strings.Contains(rec, "consider optimization") {
			flagged = true
		}
	}
	assert.True(t, flagged, "slow variants should be flagged: %v", report.Recommendations)
}

func TestShutdown(t *testing.T) {
	exp := &fakeExperiments{}
	defaultEngine := &fakeEngine{version: "v1-default"}
	opts := testOptions(exp, &fakeBuilder{models: builtModels(2)})
	opts.DefaultEngine = defaultEngine

	o, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))
	require.NotEmpty(t, o.Status().ExperimentID)

	o.Shutdown()
	assert.Equal(t, "system_shutdown", exp.stopReason)
	assert.True(t, defaultEngine.closed)
	assert.False(t, opts.Monitor.Running())
	assert.False(t, o.Status().Ready)
}

// TestRealFrameworkWiring runs the orchestrator against the real experiment
// framework end to end: assignment, recording, and feedback back-fill.
func TestRealFrameworkWiring(t *testing.T) {
	framework, err := experiment.New(t.TempDir())
	require.NoError(t, err)

	opts := testOptions(framework, &fakeBuilder{models: builtModels(2)})
	o, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, o.Initialize(context.Background()))
	require.NotEmpty(t, o.Status().ExperimentID)

	res, err := o.ClassifyTransaction(context.Background(), model.ClassificationRequest{
		Description: "whole foods groceries",
		UserID:      "user-11",
	})
	require.NoError(t, err)
	require.NoError(t, o.SubmitFeedback(context.Background(), model.Feedback{
		PredictedCategory: res.PredictedCategory,
		ActualCategory:    res.PredictedCategory,
		UserID:            "user-11",
	}))

	results, err := framework.Results(o.Status().ExperimentID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].IsCorrect)
	assert.True(t, *results[0].IsCorrect)
}
