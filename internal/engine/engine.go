// Package engine implements the CPU-latency-bound inference path: embedding
// cache → encoder → cosine scan over category prototypes.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crimson-sun/tally/internal/embed"
	"github.com/crimson-sun/tally/internal/model"
)

// Options configures an Engine.
type Options struct {
	ModelVersion string
	CacheSize    int

	// Confidence bands: scores below MediumCutoff are low, below HighCutoff
	// medium, everything else high.
	MediumCutoff float64
	HighCutoff   float64

	// AsyncWorkers bounds the worker pool behind ClassifyAsync.
	// Zero means GOMAXPROCS.
	AsyncWorkers int
}

// Engine classifies transaction text against category prototypes. Safe for
// concurrent use. The engine surfaces every embedding or scoring failure to
// the caller; counting errors is the orchestrator's job.
type Engine struct {
	emb          embed.Embedder
	store        *embed.PrototypeStore
	cache        *embeddingCache
	group        singleflight.Group
	pool         *workerPool
	modelVersion string
	mediumCutoff float64
	highCutoff   float64

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// New creates an Engine over an embedder and a prototype store.
func New(emb embed.Embedder, store *embed.PrototypeStore, opts Options) *Engine {
	medium := opts.MediumCutoff
	if medium == 0 {
		medium = 0.6
	}
	high := opts.HighCutoff
	if high == 0 {
		high = 0.8
	}
	version := opts.ModelVersion
	if version == "" {
		version = "default"
	}
	return &Engine{
		emb:          emb,
		store:        store,
		cache:        newEmbeddingCache(opts.CacheSize),
		pool:         newWorkerPool(opts.AsyncWorkers),
		modelVersion: version,
		mediumCutoff: medium,
		highCutoff:   high,
	}
}

// ModelVersion returns the version tag stamped on results.
func (e *Engine) ModelVersion() string {
	return e.modelVersion
}

// Classify embeds the request text and scores it against every category
// prototype, returning the best match.
func (e *Engine) Classify(ctx context.Context, req model.ClassificationRequest) (model.InferenceResult, error) {
	if err := ctx.Err(); err != nil {
		return model.InferenceResult{}, err
	}
	if req.Description == "" {
		return model.InferenceResult{}, fmt.Errorf("engine: empty description")
	}

	start := time.Now()

	vec, err := e.embedCached(req.Text())
	if err != nil {
		return model.InferenceResult{}, err
	}

	result, err := e.score(vec, req.IncludeSimilarities)
	if err != nil {
		return model.InferenceResult{}, err
	}

	result.InferenceTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	result.ModelVersion = e.modelVersion
	return result, nil
}

// ClassifyBatch classifies requests in embedding batches of batchSize
// (default 32). Far cheaper than N Classify calls: the encoder amortizes
// across the batch. Cached texts skip the encoder entirely.
func (e *Engine) ClassifyBatch(ctx context.Context, reqs []model.ClassificationRequest, batchSize int) ([]model.InferenceResult, model.BatchStats, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	start := time.Now()

	results := make([]model.InferenceResult, len(reqs))

	for base := 0; base < len(reqs); base += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, model.BatchStats{}, err
		}
		end := base + batchSize
		if end > len(reqs) {
			end = len(reqs)
		}
		chunk := reqs[base:end]

		// Partition the chunk into cache hits and texts that need encoding.
		// Duplicate keys within a chunk are encoded once.
		vecs := make([][]float32, len(chunk))
		missByKey := make(map[string][]int)
		var missKeys []string
		var missTexts []string
		for i, req := range chunk {
			if req.Description == "" {
				return nil, model.BatchStats{}, fmt.Errorf("engine: empty description at index %d", base+i)
			}
			key := cacheKey(req.Text())
			if vec, ok := e.cache.get(key); ok {
				e.cacheHits.Add(1)
				vecs[i] = vec
				continue
			}
			if _, seen := missByKey[key]; !seen {
				missKeys = append(missKeys, key)
				missTexts = append(missTexts, req.Text())
			}
			missByKey[key] = append(missByKey[key], i)
		}

		if len(missTexts) > 0 {
			embedded, err := e.emb.EmbedBatch(missTexts)
			if err != nil {
				return nil, model.BatchStats{}, fmt.Errorf("engine: batch embed: %w", err)
			}
			for j, key := range missKeys {
				e.cacheMisses.Add(1)
				e.cache.put(key, embedded[j])
				for _, i := range missByKey[key] {
					vecs[i] = embedded[j]
				}
			}
		}

		for i, req := range chunk {
			itemStart := time.Now()
			result, err := e.score(vecs[i], req.IncludeSimilarities)
			if err != nil {
				return nil, model.BatchStats{}, err
			}
			result.InferenceTimeMs = float64(time.Since(itemStart).Microseconds()) / 1000.0
			result.ModelVersion = e.modelVersion
			results[base+i] = result
		}
	}

	elapsed := time.Since(start)
	stats := model.BatchStats{
		Total:       len(reqs),
		TotalTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	}
	if len(reqs) > 0 {
		stats.AvgTimePerItemMs = stats.TotalTimeMs / float64(len(reqs))
		if elapsed > 0 {
			stats.ThroughputPerSecond = float64(len(reqs)) / elapsed.Seconds()
		}
	}
	return results, stats, nil
}

// WarmUp runs n dummy inferences so the first real call doesn't pay
// first-use latency (session initialization, allocator warm paths).
func (e *Engine) WarmUp(n int) error {
	if n <= 0 {
		n = 3
	}
	for i := 0; i < n; i++ {
		req := model.ClassificationRequest{Description: fmt.Sprintf("warmup transaction %d", i)}
		if _, err := e.Classify(context.Background(), req); err != nil {
			return fmt.Errorf("engine: warmup: %w", err)
		}
	}
	return nil
}

// commonTerms are pre-embedded by OptimizeForProduction so the highest
// frequency merchants hit the cache from the first request.
var commonTerms = []string{
	"starbucks coffee",
	"amazon purchase",
	"uber ride",
	"walmart grocery",
	"target shopping",
	"shell gas station",
	"netflix subscription",
	"mcdonalds food",
	"whole foods market",
	"payroll deposit",
}

// OptimizeForProduction pre-populates the embedding cache with common
// merchant terms.
func (e *Engine) OptimizeForProduction() error {
	vecs, err := e.emb.EmbedBatch(commonTerms)
	if err != nil {
		return fmt.Errorf("engine: optimize: %w", err)
	}
	for i, term := range commonTerms {
		e.cache.put(cacheKey(term), vecs[i])
	}
	return nil
}

// CacheStats returns cumulative cache hit and miss counts.
func (e *Engine) CacheStats() (hits, misses uint64) {
	return e.cacheHits.Load(), e.cacheMisses.Load()
}

// Close stops the async worker pool and releases the embedder.
func (e *Engine) Close() error {
	e.pool.close()
	return e.emb.Close()
}

// embedCached returns the embedding for text, consulting the cache first.
// Concurrent misses on the same key are coalesced into a single encoder
// call via singleflight.
func (e *Engine) embedCached(text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := e.cache.get(key); ok {
		e.cacheHits.Add(1)
		return vec, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		if vec, ok := e.cache.get(key); ok {
			return vec, nil
		}
		vec, err := e.emb.Embed(text)
		if err != nil {
			return nil, fmt.Errorf("engine: embed: %w", err)
		}
		e.cacheMisses.Add(1)
		e.cache.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// score runs the cosine scan over the current prototype snapshot. The
// snapshot is sorted by category name and the comparison is strict, so
// exact ties resolve to the lexicographically smallest category.
func (e *Engine) score(vec []float32, includeSimilarities bool) (model.InferenceResult, error) {
	snap := e.store.Snapshot()
	if len(snap) == 0 {
		return model.InferenceResult{}, fmt.Errorf("engine: no category prototypes loaded")
	}

	var similarities map[string]float64
	if includeSimilarities {
		similarities = make(map[string]float64, len(snap))
	}

	best := -2.0
	bestCategory := ""
	for _, proto := range snap {
		sim := embed.CosineSimilarity(vec, proto.Vector)
		if similarities != nil {
			similarities[proto.Category] = sim
		}
		if sim > best {
			best = sim
			bestCategory = proto.Category
		}
	}

	return model.InferenceResult{
		PredictedCategory: bestCategory,
		Confidence:        best,
		ConfidenceLevel:   e.confidenceLevel(best),
		AllSimilarities:   similarities,
	}, nil
}

func (e *Engine) confidenceLevel(score float64) model.ConfidenceLevel {
	switch {
	case score < e.mediumCutoff:
		return model.ConfidenceLow
	case score < e.highCutoff:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceHigh
	}
}

// cacheKey normalizes text for cache lookups: identical descriptions that
// differ only in case or surrounding whitespace share one entry.
func cacheKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}
