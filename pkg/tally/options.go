package tally

import "path/filepath"

type options struct {
	modelDir       string
	modelPath      string
	vocabPath      string
	projectionPath string
	prototypePath  string
	modelVersion   string
	cacheSize      int
	mediumCutoff   float64
	highCutoff     float64
}

// Option configures a Tally instance.
type Option func(*options)

// WithModelDir sets the directory containing model files.
// Expects: model.onnx, vocab.txt, and optionally head.safetensors.
func WithModelDir(dir string) Option {
	return func(o *options) {
		o.modelDir = dir
	}
}

// WithModelPaths sets explicit paths for each model file. The projection
// path may be empty when the encoder has no dense head.
func WithModelPaths(model, vocab, projection string) Option {
	return func(o *options) {
		o.modelPath = model
		o.vocabPath = vocab
		o.projectionPath = projection
	}
}

// WithPrototypes loads saved category prototypes from path instead of
// embedding the built-in defaults. Loading failure falls back to defaults.
func WithPrototypes(path string) Option {
	return func(o *options) {
		o.prototypePath = path
	}
}

// WithModelVersion sets the version tag stamped on results. Default: "fp32".
func WithModelVersion(v string) Option {
	return func(o *options) {
		o.modelVersion = v
	}
}

// WithCacheSize bounds the embedding cache. Default: 10000 entries.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithConfidenceCutoffs sets the medium and high confidence band cutoffs.
// Default: 0.6 and 0.8.
func WithConfidenceCutoffs(medium, high float64) Option {
	return func(o *options) {
		o.mediumCutoff = medium
		o.highCutoff = high
	}
}

func defaultOptions() options {
	return options{
		modelVersion: "fp32",
	}
}

// resolvePaths determines the model file paths from the configured options.
// Explicit paths take precedence over modelDir.
func resolvePaths(o options) (model, vocab, projection string) {
	if o.modelPath != "" {
		return o.modelPath, o.vocabPath, o.projectionPath
	}
	dir := o.modelDir
	if dir == "" {
		dir = "models"
	}
	return filepath.Join(dir, "model.onnx"),
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "head.safetensors")
}
