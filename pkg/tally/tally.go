package tally

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/crimson-sun/tally/internal/embed"
	"github.com/crimson-sun/tally/internal/engine"
	"github.com/crimson-sun/tally/internal/model"
)

// Result is the classification outcome returned to callers.
type Result = model.InferenceResult

// Request is the full inbound classification shape, for callers that have
// more than a bare description.
type Request = model.ClassificationRequest

// Tally is a transaction categorization engine. Safe for concurrent use.
type Tally struct {
	engine *engine.Engine
	emb    embed.Embedder
	store  *embed.PrototypeStore
}

// New creates a Tally instance, loading model files and embedding the
// category prototypes. This is an expensive operation — create once, reuse
// across requests.
func New(opts ...Option) (*Tally, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	modelPath, vocabPath, projPath := resolvePaths(o)
	if o.modelPath == "" && projPath != "" {
		// The default layout treats the dense head as optional.
		if _, err := os.Stat(projPath); err != nil {
			projPath = ""
		}
	}

	emb, err := embed.NewONNX(embed.Options{
		ModelPath:      modelPath,
		VocabPath:      vocabPath,
		ProjectionPath: projPath,
	})
	if err != nil {
		return nil, fmt.Errorf("tally: %w", err)
	}

	store := embed.NewPrototypeStore(emb, o.modelVersion)
	loaded := false
	if o.prototypePath != "" {
		if err := store.Load(o.prototypePath); err != nil {
			slog.Warn("prototype load failed, falling back to defaults",
				"path", o.prototypePath, "error", err)
		} else {
			loaded = true
		}
	}
	if !loaded {
		if err := store.Initialize(nil); err != nil {
			emb.Close()
			return nil, fmt.Errorf("tally: %w", err)
		}
	}

	eng := engine.New(emb, store, engine.Options{
		ModelVersion: o.modelVersion,
		CacheSize:    o.cacheSize,
		MediumCutoff: o.mediumCutoff,
		HighCutoff:   o.highCutoff,
	})
	return &Tally{engine: eng, emb: emb, store: store}, nil
}

// Classify categorizes a single transaction description.
func (t *Tally) Classify(description string) (Result, error) {
	return t.engine.Classify(context.Background(), Request{Description: description})
}

// ClassifyRequest categorizes a full classification request.
func (t *Tally) ClassifyRequest(ctx context.Context, req Request) (Result, error) {
	return t.engine.Classify(ctx, req)
}

// ClassifyBatch categorizes an ordered list of requests, batching the
// embedding pass.
func (t *Tally) ClassifyBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results, _, err := t.engine.ClassifyBatch(ctx, reqs, 32)
	return results, err
}

// AddExample appends a training example to a category and recomputes that
// category's prototype. New categories are created on first use.
func (t *Tally) AddExample(category, example string) error {
	if err := t.store.AddExample(category, example); err != nil {
		return fmt.Errorf("tally: %w", err)
	}
	return nil
}

// Categories lists the known categories in sorted order.
func (t *Tally) Categories() []string {
	return t.store.Categories()
}

// SavePrototypes persists the prototype map to path.
func (t *Tally) SavePrototypes(path string) error {
	if err := t.store.Save(path); err != nil {
		return fmt.Errorf("tally: %w", err)
	}
	return nil
}

// WarmUp runs dummy inferences to absorb first-call latency.
func (t *Tally) WarmUp() error {
	return t.engine.WarmUp(3)
}

// Close releases the model session.
func (t *Tally) Close() error {
	return t.engine.Close()
}
