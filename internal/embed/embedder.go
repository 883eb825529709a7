// Package embed wraps a local ONNX sentence encoder and the category
// prototype store built on top of it. The embedding pipeline is:
// tokenize → ONNX inference → masked mean pool → optional dense head →
// L2 normalization.
package embed

import "fmt"

// Embedder produces vector embeddings from text.
type Embedder interface {
	Embed(text string) ([]float32, error)
	EmbedBatch(texts []string) ([][]float32, error)
	Dim() int
	Close() error
}

// Options configures an ONNXEmbedder.
type Options struct {
	ModelPath string
	VocabPath string

	// ProjectionPath points at an optional dense pooling head (safetensors).
	// Empty means the encoder's pooled output is used directly.
	ProjectionPath string

	MaxSeqLen      int
	IntraOpThreads int
}

// ONNXEmbedder runs sentence-embedding inference on a local ONNX model.
// Failing to load any artifact is fatal: classification cannot proceed
// without the encoder.
type ONNXEmbedder struct {
	session *onnxSession
	tok     *tokenizer
	proj    *projection // nil when no head is configured
	dim     int
}

// NewONNX creates an ONNXEmbedder from the configured artifacts.
func NewONNX(opts Options) (*ONNXEmbedder, error) {
	sess, err := newONNXSession(opts.ModelPath, opts.IntraOpThreads)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	tok, err := newTokenizer(opts.VocabPath, opts.MaxSeqLen)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("embed: %w", err)
	}

	e := &ONNXEmbedder{session: sess, tok: tok, dim: int(sess.hiddenDim)}

	if opts.ProjectionPath != "" {
		proj, err := loadProjection(opts.ProjectionPath)
		if err != nil {
			sess.close()
			return nil, fmt.Errorf("embed: %w", err)
		}
		if proj.inDim != int(sess.hiddenDim) {
			sess.close()
			return nil, fmt.Errorf("embed: encoder output dim %d != head input dim %d",
				sess.hiddenDim, proj.inDim)
		}
		e.proj = proj
		e.dim = proj.outDim
	}

	return e, nil
}

// Dim returns the final embedding dimensionality.
func (e *ONNXEmbedder) Dim() int {
	return e.dim
}

// Embed produces a single normalized embedding vector for the given text.
func (e *ONNXEmbedder) Embed(text string) ([]float32, error) {
	vecs, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch produces normalized embedding vectors for multiple texts in a
// single inference call.
func (e *ONNXEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := e.tok.tokenizeBatch(texts)

	hidden, err := e.session.infer(batch.inputIDs, batch.attentionMask, batch.batchSize, batch.seqLen)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	dim := e.session.hiddenDim
	pooled := meanPool(hidden, batch.attentionMask, batch.batchSize, batch.seqLen, dim)

	results := make([][]float32, batch.batchSize)
	for i := int64(0); i < batch.batchSize; i++ {
		vec := pooled[i*dim : (i+1)*dim]
		if e.proj != nil {
			vec = e.proj.apply(vec)
		}
		results[i] = l2Normalize(vec)
	}
	return results, nil
}

// EncodeBatch returns mean-pooled encoder outputs with no head and no
// normalization. This is the tensor a dense head sees, which is what
// static-quantization calibration needs to observe.
func (e *ONNXEmbedder) EncodeBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := e.tok.tokenizeBatch(texts)
	hidden, err := e.session.infer(batch.inputIDs, batch.attentionMask, batch.batchSize, batch.seqLen)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	dim := e.session.hiddenDim
	pooled := meanPool(hidden, batch.attentionMask, batch.batchSize, batch.seqLen, dim)
	results := make([][]float32, batch.batchSize)
	for i := int64(0); i < batch.batchSize; i++ {
		results[i] = pooled[i*dim : (i+1)*dim]
	}
	return results, nil
}

// Close releases ONNX Runtime resources.
func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		return e.session.close()
	}
	return nil
}
