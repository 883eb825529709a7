package experiment

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	// Guard rails are evaluated only once enough traffic has accumulated.
	guardMinTotal      = 50
	guardMinPerVariant = 20

	// Results are flushed to disk every flushEvery appends, not per write.
	flushEvery = 100
)

// experiment is the in-memory state for one configured experiment.
type experiment struct {
	config     Config
	status     Status
	stopReason string
	results    []Result
	unflushed  int
	report     *Report
}

// Framework manages experiment lifecycles, traffic assignment, result
// recording, and analysis. One mutex guards all experiment state; analysis
// works against a snapshot taken under the lock.
type Framework struct {
	mu          sync.Mutex
	dataDir     string
	experiments map[string]*experiment

	// Injection points for deterministic tests.
	randFloat func() float64
	now       func() time.Time
}

// New creates a Framework persisting under dataDir.
func New(dataDir string) (*Framework, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	return &Framework{
		dataDir:     dataDir,
		experiments: make(map[string]*experiment),
		randFloat:   rand.Float64,
		now:         time.Now,
	}, nil
}

// Create validates the config and registers the experiment as a draft.
func (f *Framework) Create(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.SignificanceLevel <= 0 || cfg.SignificanceLevel >= 1 {
		cfg.SignificanceLevel = 0.05
	}
	if cfg.MinimumSampleSize <= 0 {
		cfg.MinimumSampleSize = 100
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.experiments[cfg.ExperimentID]; exists {
		return fmt.Errorf("experiment %s: already exists", cfg.ExperimentID)
	}
	exp := &experiment{config: cfg, status: StatusDraft}
	f.experiments[cfg.ExperimentID] = exp

	if err := f.persistConfig(exp); err != nil {
		return err
	}
	slog.Info("experiment created",
		"experiment_id", cfg.ExperimentID,
		"variants", len(cfg.Variants),
		"strategy", cfg.Strategy)
	return nil
}

// Start transitions a draft or paused experiment to running. The configured
// start time gates the transition.
func (f *Framework) Start(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(id)
	if err != nil {
		return err
	}
	if exp.status != StatusDraft && exp.status != StatusPaused {
		return fmt.Errorf("experiment %s: cannot start from status %s", id, exp.status)
	}
	if f.now().Before(exp.config.StartTime) {
		return fmt.Errorf("experiment %s: start time %s not reached", id, exp.config.StartTime.Format(time.RFC3339))
	}
	exp.status = StatusRunning
	slog.Info("experiment started", "experiment_id", id)
	return nil
}

// Stop completes the experiment: the final report is generated and
// persisted along with any unflushed results.
func (f *Framework) Stop(id, reason string) (*Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopLocked(id, reason)
}

func (f *Framework) stopLocked(id, reason string) (*Report, error) {
	exp, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if exp.status == StatusCompleted || exp.status == StatusCancelled {
		return exp.report, nil
	}
	exp.status = StatusCompleted
	exp.stopReason = reason

	report := f.buildReport(exp)
	exp.report = report

	if err := f.flushResults(exp); err != nil {
		slog.Warn("result flush failed on stop", "experiment_id", id, "error", err)
	}
	if err := f.persistReport(exp); err != nil {
		slog.Warn("report persist failed on stop", "experiment_id", id, "error", err)
	}
	slog.Info("experiment stopped", "experiment_id", id, "reason", reason)
	return report, nil
}

// Status returns the lifecycle state of an experiment.
func (f *Framework) Status(id string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(id)
	if err != nil {
		return "", err
	}
	return exp.status, nil
}

// Running returns the id of the first running experiment, if any.
func (f *Framework) Running() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, exp := range f.experiments {
		if exp.status == StatusRunning {
			return id, true
		}
	}
	return "", false
}

// Assign picks a variant for one request. It returns nil with no error when
// the experiment is not serving traffic: not running, expired (which stops
// it as a side effect), or just paused by a guard rail.
func (f *Framework) Assign(id, userID string) (*ModelVariant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if exp.status != StatusRunning {
		return nil, nil
	}
	if end := exp.config.EndTime; end != nil && f.now().After(*end) {
		if _, err := f.stopLocked(id, "expired"); err != nil {
			slog.Warn("auto-stop of expired experiment failed", "experiment_id", id, "error", err)
		}
		return nil, nil
	}
	if f.guardRailsTripped(exp) {
		exp.status = StatusPaused
		slog.Warn("experiment paused by guard rail", "experiment_id", id)
		return nil, nil
	}

	draw := f.draw(exp.config.Strategy, userID)
	v := pickByWeight(exp.config.Variants, draw)
	return &v, nil
}

// draw maps the strategy to a point in [0,1).
func (f *Framework) draw(strategy SplitStrategy, userID string) float64 {
	switch strategy {
	case SplitUserIDHash:
		if userID == "" {
			userID = "anonymous"
		}
		sum := md5.Sum([]byte(userID))
		low8 := hex.EncodeToString(sum[:])[24:]
		n, err := strconv.ParseUint(low8, 16, 64)
		if err != nil {
			return f.randFloat()
		}
		return float64(n%10000) / 10000
	case SplitTimeBased:
		return float64(f.now().Minute()%60) / 60
	default:
		return f.randFloat()
	}
}

// pickByWeight walks cumulative weights; the last variant absorbs any
// floating-point shortfall.
func pickByWeight(variants []ModelVariant, draw float64) ModelVariant {
	var cum float64
	for _, v := range variants {
		cum += v.Weight
		if draw < cum {
			return v
		}
	}
	return variants[len(variants)-1]
}

// guardRailsTripped checks observed per-variant accuracy and latency
// against the configured rails. It only fires once enough traffic exists
// to make the numbers meaningful.
func (f *Framework) guardRailsTripped(exp *experiment) bool {
	rails := exp.config.GuardRails
	if rails == nil || len(exp.results) < guardMinTotal {
		return false
	}

	type agg struct {
		n          int
		correct    int
		graded     int
		totalMs    float64
	}
	byVariant := make(map[string]*agg)
	for i := range exp.results {
		r := &exp.results[i]
		a := byVariant[r.VariantName]
		if a == nil {
			a = &agg{}
			byVariant[r.VariantName] = a
		}
		a.n++
		a.totalMs += r.InferenceTimeMs
		if r.IsCorrect != nil {
			a.graded++
			if *r.IsCorrect {
				a.correct++
			}
		}
	}

	for name, a := range byVariant {
		if a.n < guardMinPerVariant {
			continue
		}
		if rails.MinAccuracy > 0 && a.graded >= guardMinPerVariant {
			if acc := float64(a.correct) / float64(a.graded); acc < rails.MinAccuracy {
				slog.Warn("guard rail violation",
					"experiment_id", exp.config.ExperimentID,
					"variant", name, "metric", "accuracy", "value", acc, "threshold", rails.MinAccuracy)
				return true
			}
		}
		if rails.MaxInferenceTimeMs > 0 {
			if avgMs := a.totalMs / float64(a.n); avgMs > rails.MaxInferenceTimeMs {
				slog.Warn("guard rail violation",
					"experiment_id", exp.config.ExperimentID,
					"variant", name, "metric", "inference_time_ms", "value", avgMs, "threshold", rails.MaxInferenceTimeMs)
				return true
			}
		}
	}
	return false
}

// Record appends a served result. Every flushEvery appends the buffered
// results are written out, amortizing I/O.
func (f *Framework) Record(result Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(result.ExperimentID)
	if err != nil {
		return err
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = f.now().UTC()
	}
	exp.results = append(exp.results, result)
	exp.unflushed++
	if exp.unflushed >= flushEvery {
		if err := f.flushResults(exp); err != nil {
			slog.Warn("result flush failed", "experiment_id", result.ExperimentID, "error", err)
		}
	}
	return nil
}

// Feedback back-fills correctness on the most recent result matching the
// user and prediction. Returns true when a result was updated.
func (f *Framework) Feedback(experimentID, userID, prediction string, isCorrect bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(experimentID)
	if err != nil {
		return false, err
	}
	for i := len(exp.results) - 1; i >= 0; i-- {
		r := &exp.results[i]
		if r.UserID == userID && r.Prediction == prediction {
			r.IsCorrect = &isCorrect
			return true, nil
		}
	}
	return false, nil
}

// Results returns a copy of the recorded results.
func (f *Framework) Results(id string) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	exp, err := f.get(id)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(exp.results))
	copy(out, exp.results)
	return out, nil
}

func (f *Framework) get(id string) (*experiment, error) {
	exp, ok := f.experiments[id]
	if !ok {
		return nil, fmt.Errorf("experiment %s: not found", id)
	}
	return exp, nil
}

func (f *Framework) experimentDir(id string) string {
	return filepath.Join(f.dataDir, id)
}

func (f *Framework) persistConfig(exp *experiment) error {
	dir := f.experimentDir(exp.config.ExperimentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	data, err := json.MarshalIndent(exp.config, "", "  ")
	if err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	return nil
}

// flushResults rewrites the full result list as JSONL. Rewriting keeps
// back-filled is_correct values on disk consistent with memory.
func (f *Framework) flushResults(exp *experiment) error {
	dir := f.experimentDir(exp.config.ExperimentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	file, err := os.Create(filepath.Join(dir, "results.jsonl"))
	if err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	enc := json.NewEncoder(file)
	for i := range exp.results {
		if err := enc.Encode(&exp.results[i]); err != nil {
			file.Close()
			return fmt.Errorf("experiment: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	exp.unflushed = 0
	return nil
}

func (f *Framework) persistReport(exp *experiment) error {
	dir := f.experimentDir(exp.config.ExperimentID)
	data, err := json.MarshalIndent(exp.report, "", "  ")
	if err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), data, 0o644); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	return nil
}
