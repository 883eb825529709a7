package embed

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
)

// CategoryPrototype is one category's mean-of-examples embedding. Snapshots
// hand these out read-only; nothing mutates a prototype after publication.
type CategoryPrototype struct {
	Category string
	Vector   []float32
	Examples []string
}

// PrototypeStore owns the category → prototype map. Prototypes are the
// arithmetic mean of the embeddings of the category's few-shot examples and
// are recomputed synchronously on every AddExample. Mutation is serialized
// by a single writer lock; readers get immutable copy-on-write snapshots, so
// the inference hot path never contends with writers.
type PrototypeStore struct {
	emb          Embedder
	modelVersion string

	mu         sync.Mutex
	categories map[string][]string // category → example texts

	snapshot atomic.Pointer[[]CategoryPrototype]
}

// NewPrototypeStore creates an empty store bound to an embedder. The model
// version tags persisted blobs so prototypes from a different encoder are
// never silently reused.
func NewPrototypeStore(emb Embedder, modelVersion string) *PrototypeStore {
	s := &PrototypeStore{
		emb:          emb,
		modelVersion: modelVersion,
		categories:   make(map[string][]string),
	}
	empty := []CategoryPrototype{}
	s.snapshot.Store(&empty)
	return s
}

// Initialize embeds all example strings per category and stores the mean
// vector as each category's prototype. A nil map uses the built-in finance
// category table.
func (s *PrototypeStore) Initialize(categories map[string][]string) error {
	if categories == nil {
		categories = DefaultCategories()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.categories = make(map[string][]string, len(categories))
	for name, examples := range categories {
		if len(examples) == 0 {
			return fmt.Errorf("prototype: category %q has no examples", name)
		}
		s.categories[name] = append([]string(nil), examples...)
	}
	return s.rebuildLocked()
}

// AddExample appends an example and recomputes that category's prototype
// only. A new category is created on first use.
func (s *PrototypeStore) AddExample(category, example string) error {
	if category == "" {
		return fmt.Errorf("prototype: empty category name")
	}
	if example == "" {
		return fmt.Errorf("prototype: empty example for category %q", category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.categories[category] = append(s.categories[category], example)

	vec, err := s.meanEmbedding(s.categories[category])
	if err != nil {
		// Roll back the append so the invariant (prototype == mean of
		// examples) still holds for the published snapshot.
		s.categories[category] = s.categories[category][:len(s.categories[category])-1]
		if len(s.categories[category]) == 0 {
			delete(s.categories, category)
		}
		return err
	}

	s.publishLocked(category, vec)
	return nil
}

// Snapshot returns the current prototypes sorted by category name. The
// returned slice and its vectors must not be modified.
func (s *PrototypeStore) Snapshot() []CategoryPrototype {
	return *s.snapshot.Load()
}

// Categories returns the category names in sorted order.
func (s *PrototypeStore) Categories() []string {
	snap := s.Snapshot()
	names := make([]string, len(snap))
	for i, p := range snap {
		names[i] = p.Category
	}
	return names
}

// ModelVersion returns the encoder version this store is bound to.
func (s *PrototypeStore) ModelVersion() string {
	return s.modelVersion
}

// prototypeBlob is the gob payload for Save/Load.
type prototypeBlob struct {
	ModelVersion string
	Dim          int
	Categories   map[string][]string
	Vectors      map[string][]float32
}

// Save serializes the whole prototype map to a binary blob. Best effort for
// callers: a failed save loses nothing in memory.
func (s *PrototypeStore) Save(path string) error {
	s.mu.Lock()
	snap := *s.snapshot.Load()
	blob := prototypeBlob{
		ModelVersion: s.modelVersion,
		Dim:          s.emb.Dim(),
		Categories:   make(map[string][]string, len(s.categories)),
		Vectors:      make(map[string][]float32, len(snap)),
	}
	for name, examples := range s.categories {
		blob.Categories[name] = append([]string(nil), examples...)
	}
	for _, p := range snap {
		blob.Vectors[p.Category] = p.Vector
	}
	s.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("prototype: save: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(blob); err != nil {
		return fmt.Errorf("prototype: save: %w", err)
	}
	return nil
}

// Load replaces the store's contents from a blob written by Save. A version
// or dimension mismatch is an error; callers treat any Load failure as
// non-fatal and fall back to Initialize.
func (s *PrototypeStore) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("prototype: load: %w", err)
	}
	defer f.Close()

	var blob prototypeBlob
	if err := gob.NewDecoder(f).Decode(&blob); err != nil {
		return fmt.Errorf("prototype: load: %w", err)
	}
	if blob.ModelVersion != s.modelVersion {
		return fmt.Errorf("prototype: load: blob written by model %q, store bound to %q",
			blob.ModelVersion, s.modelVersion)
	}
	if blob.Dim != s.emb.Dim() {
		return fmt.Errorf("prototype: load: blob dim %d != embedder dim %d", blob.Dim, s.emb.Dim())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = blob.Categories
	snap := make([]CategoryPrototype, 0, len(blob.Vectors))
	for name, vec := range blob.Vectors {
		snap = append(snap, CategoryPrototype{
			Category: name,
			Vector:   vec,
			Examples: blob.Categories[name],
		})
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Category < snap[j].Category })
	s.snapshot.Store(&snap)
	return nil
}

// rebuildLocked recomputes every prototype and publishes a fresh snapshot.
// Caller holds mu.
func (s *PrototypeStore) rebuildLocked() error {
	snap := make([]CategoryPrototype, 0, len(s.categories))
	for name, examples := range s.categories {
		vec, err := s.meanEmbedding(examples)
		if err != nil {
			return err
		}
		snap = append(snap, CategoryPrototype{
			Category: name,
			Vector:   vec,
			Examples: append([]string(nil), examples...),
		})
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Category < snap[j].Category })
	s.snapshot.Store(&snap)
	return nil
}

// publishLocked replaces one category's prototype in a fresh snapshot.
// Caller holds mu.
func (s *PrototypeStore) publishLocked(category string, vec []float32) {
	old := *s.snapshot.Load()
	snap := make([]CategoryPrototype, 0, len(old)+1)
	replaced := false
	proto := CategoryPrototype{
		Category: category,
		Vector:   vec,
		Examples: append([]string(nil), s.categories[category]...),
	}
	for _, p := range old {
		if p.Category == category {
			snap = append(snap, proto)
			replaced = true
		} else {
			snap = append(snap, p)
		}
	}
	if !replaced {
		snap = append(snap, proto)
		sort.Slice(snap, func(i, j int) bool { return snap[i].Category < snap[j].Category })
	}
	s.snapshot.Store(&snap)
}

// meanEmbedding embeds all texts in one batch and averages the vectors.
func (s *PrototypeStore) meanEmbedding(texts []string) ([]float32, error) {
	vecs, err := s.emb.EmbedBatch(texts)
	if err != nil {
		return nil, fmt.Errorf("prototype: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("prototype: no embeddings produced")
	}

	dim := len(vecs[0])
	mean := make([]float32, dim)
	for _, v := range vecs {
		for i := range v {
			mean[i] += v[i]
		}
	}
	inv := float32(1.0 / float64(len(vecs)))
	for i := range mean {
		mean[i] *= inv
	}
	return mean, nil
}
