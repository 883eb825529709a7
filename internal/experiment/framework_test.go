package experiment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoVariants() []ModelVariant {
	return []ModelVariant{
		{Name: "fp32", ModelVersion: "v1-fp32", Weight: 0.5},
		{Name: "dynamic_int8", ModelVersion: "v1-dyn", Weight: 0.5},
	}
}

func testConfig(id string) Config {
	return Config{
		ExperimentID:      id,
		Variants:          twoVariants(),
		Strategy:          SplitUserIDHash,
		StartTime:         time.Now().Add(-time.Minute),
		SuccessMetrics:    []string{"accuracy", "inference_time"},
		SignificanceLevel: 0.05,
	}
}

func newTestFramework(t *testing.T) *Framework {
	t.Helper()
	f, err := New(t.TempDir())
	require.NoError(t, err)
	return f
}

func TestCreateValidation(t *testing.T) {
	f := newTestFramework(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty id", func(c *Config) { c.ExperimentID = "" }},
		{"single variant", func(c *Config) { c.Variants = c.Variants[:1] }},
		{"duplicate names", func(c *Config) { c.Variants[1].Name = c.Variants[0].Name }},
		{"weights do not sum to 1", func(c *Config) { c.Variants[0].Weight = 0.9 }},
		{"negative weight", func(c *Config) {
			c.Variants[0].Weight = -0.5
			c.Variants[1].Weight = 1.5
		}},
		{"end before start", func(c *Config) {
			end := c.StartTime.Add(-time.Hour)
			c.EndTime = &end
		}},
		{"unknown strategy", func(c *Config) { c.Strategy = "round_robin" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig("exp-invalid")
			tc.mutate(&cfg)
			assert.Error(t, f.Create(cfg))
		})
	}
}

func TestCreateToleratesWeightRounding(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-rounding")
	cfg.Variants[0].Weight = 0.333
	cfg.Variants[1].Weight = 0.667
	assert.NoError(t, f.Create(cfg))
}

func TestLifecycle(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-1")))

	status, err := f.Status("exp-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, status)

	// Assignment before start returns nothing.
	v, err := f.Assign("exp-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, f.Start("exp-1"))
	status, _ = f.Status("exp-1")
	assert.Equal(t, StatusRunning, status)

	report, err := f.Stop("exp-1", "manual")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Status)
	assert.Equal(t, "manual", report.StopReason)

	// Stopping again returns the same report without error.
	again, err := f.Stop("exp-1", "manual")
	require.NoError(t, err)
	assert.Same(t, report, again)
}

func TestStartBeforeStartTime(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-future")
	cfg.StartTime = time.Now().Add(time.Hour)
	require.NoError(t, f.Create(cfg))
	assert.Error(t, f.Start("exp-future"))
}

func TestDuplicateCreate(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-dup")))
	assert.Error(t, f.Create(testConfig("exp-dup")))
}

func TestAssignUserIDHashIsSticky(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-hash")))
	require.NoError(t, f.Start("exp-hash"))

	first, err := f.Assign("exp-hash", "user-42")
	require.NoError(t, err)
	require.NotNil(t, first)
	for i := 0; i < 20; i++ {
		v, err := f.Assign("exp-hash", "user-42")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, first.Name, v.Name)
	}
}

func TestAssignAnonymousFallback(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-anon")))
	require.NoError(t, f.Start("exp-anon"))

	a, err := f.Assign("exp-anon", "")
	require.NoError(t, err)
	b, err := f.Assign("exp-anon", "anonymous")
	require.NoError(t, err)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, a.Name, b.Name, "empty user id hashes as the literal anonymous")
}

func TestAssignRandomRespectsWeights(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-random")
	cfg.Strategy = SplitRandom
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-random"))

	counts := map[string]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		v, err := f.Assign("exp-random", "")
		require.NoError(t, err)
		require.NotNil(t, v)
		counts[v.Name]++
	}
	share := float64(counts["fp32"]) / draws
	assert.InDelta(t, 0.5, share, 0.02)
}

func TestAssignCumulativeWalk(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-walk")
	cfg.Strategy = SplitRandom
	cfg.Variants[0].Weight = 0.2
	cfg.Variants[1].Weight = 0.8
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-walk"))

	draws := []struct {
		draw float64
		want string
	}{
		{0.0, "fp32"},
		{0.19, "fp32"},
		{0.2, "dynamic_int8"},
		{0.99, "dynamic_int8"},
	}
	for _, tc := range draws {
		f.randFloat = func() float64 { return tc.draw }
		v, err := f.Assign("exp-walk", "")
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, tc.want, v.Name, "draw %v", tc.draw)
	}
}

func TestAssignTimeBased(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-time")
	cfg.Strategy = SplitTimeBased
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-time"))

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return base.Add(10 * time.Minute) } // minute 10 → draw 1/6
	v, err := f.Assign("exp-time", "")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "fp32", v.Name)

	f.now = func() time.Time { return base.Add(40 * time.Minute) } // minute 40 → draw 2/3
	v, err = f.Assign("exp-time", "")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "dynamic_int8", v.Name)
}

func TestAssignExpiredAutoStops(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-expired")
	end := cfg.StartTime.Add(30 * time.Second)
	cfg.EndTime = &end
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-expired"))

	f.now = func() time.Time { return end.Add(time.Minute) }
	v, err := f.Assign("exp-expired", "user-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	status, _ := f.Status("exp-expired")
	assert.Equal(t, StatusCompleted, status)
}

func TestGuardRailPausesExperiment(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-guard")
	cfg.GuardRails = &GuardRails{MinAccuracy: 0.85}
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-guard"))

	// 30 graded results per variant; fp32 accuracy is 0.5, below the rail.
	for i := 0; i < 30; i++ {
		good := true
		bad := i%2 == 0
		require.NoError(t, f.Record(Result{
			ExperimentID: "exp-guard", VariantName: "dynamic_int8",
			Prediction: "Groceries", IsCorrect: &good,
		}))
		require.NoError(t, f.Record(Result{
			ExperimentID: "exp-guard", VariantName: "fp32",
			Prediction: "Groceries", IsCorrect: &bad,
		}))
	}

	v, err := f.Assign("exp-guard", "user-1")
	require.NoError(t, err)
	assert.Nil(t, v)

	status, _ := f.Status("exp-guard")
	assert.Equal(t, StatusPaused, status)
}

func TestGuardRailNeedsMinimumTraffic(t *testing.T) {
	f := newTestFramework(t)
	cfg := testConfig("exp-guard-min")
	cfg.GuardRails = &GuardRails{MinAccuracy: 0.99}
	require.NoError(t, f.Create(cfg))
	require.NoError(t, f.Start("exp-guard-min"))

	wrong := false
	for i := 0; i < 10; i++ {
		require.NoError(t, f.Record(Result{
			ExperimentID: "exp-guard-min", VariantName: "fp32",
			Prediction: "Travel", IsCorrect: &wrong,
		}))
	}

	// 10 results is under the evaluation floor: no pause yet.
	v, err := f.Assign("exp-guard-min", "user-1")
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestRecordFlushesPeriodically(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-flush")))

	path := filepath.Join(f.dataDir, "exp-flush", "results.jsonl")
	for i := 0; i < flushEvery-1; i++ {
		require.NoError(t, f.Record(Result{ExperimentID: "exp-flush", VariantName: "fp32", Prediction: "Travel"}))
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no flush before the threshold")

	require.NoError(t, f.Record(Result{ExperimentID: "exp-flush", VariantName: "fp32", Prediction: "Travel"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestFeedbackBackfillsMostRecent(t *testing.T) {
	f := newTestFramework(t)
	require.NoError(t, f.Create(testConfig("exp-fb")))

	for i := 0; i < 3; i++ {
		require.NoError(t, f.Record(Result{
			ExperimentID: "exp-fb", VariantName: "fp32",
			UserID: "user-9", Prediction: "Shopping",
		}))
	}

	updated, err := f.Feedback("exp-fb", "user-9", "Shopping", false)
	require.NoError(t, err)
	assert.True(t, updated)

	results, err := f.Results("exp-fb")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Nil(t, results[0].IsCorrect)
	assert.Nil(t, results[1].IsCorrect)
	require.NotNil(t, results[2].IsCorrect)
	assert.False(t, *results[2].IsCorrect)

	updated, err = f.Feedback("exp-fb", "user-9", "Travel", true)
	require.NoError(t, err)
	assert.False(t, updated, "no matching prediction")
}

func TestUnknownExperiment(t *testing.T) {
	f := newTestFramework(t)
	_, err := f.Assign("nope", "u")
	assert.Error(t, err)
	assert.Error(t, f.Start("nope"))
	_, err = f.Stop("nope", "r")
	assert.Error(t, err)
}
