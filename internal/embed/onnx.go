package embed

import (
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// onnxSession wraps a DynamicAdvancedSession for BERT-style sentence
// encoders. Models exported without token_type_ids are supported: the
// session only feeds the inputs the graph declares.
type onnxSession struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	hiddenDim  int64
	hasTypeIDs bool
}

// newONNXSession loads the ONNX model and creates an inference session. It
// validates the model's input names and the [batch, seq, dim] output shape.
func newONNXSession(modelPath string, intraOpThreads int) (*onnxSession, error) {
	// The ONNX Runtime shared library ships alongside the model artifacts.
	libPath := filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}

	inputNames, hasTypeIDs, err := resolveInputs(inputs)
	if err != nil {
		return nil, err
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("onnx: model has no outputs")
	}
	outputName := outputs[0].Name
	dims := outputs[0].Dimensions
	if len(dims) != 3 {
		return nil, fmt.Errorf("onnx: expected 3D output tensor, got %v", dims)
	}
	hiddenDim := dims[2]
	if hiddenDim <= 0 {
		return nil, fmt.Errorf("onnx: model output has dynamic hidden dim %d", hiddenDim)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if intraOpThreads <= 0 {
		intraOpThreads = 4
	}
	opts.SetIntraOpNumThreads(intraOpThreads)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		inputNames,
		[]string{outputName},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &onnxSession{
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		hiddenDim:  hiddenDim,
		hasTypeIDs: hasTypeIDs,
	}, nil
}

// resolveInputs checks for BERT-style inputs. input_ids and attention_mask
// are mandatory; token_type_ids is optional (sentence-encoder exports often
// fold it away).
func resolveInputs(inputs []ort.InputOutputInfo) ([]string, bool, error) {
	nameSet := make(map[string]bool, len(inputs))
	for _, inp := range inputs {
		nameSet[inp.Name] = true
	}
	for _, name := range []string{"input_ids", "attention_mask"} {
		if !nameSet[name] {
			return nil, false, fmt.Errorf("onnx: model missing required input %q", name)
		}
	}
	names := []string{"input_ids", "attention_mask"}
	hasTypeIDs := nameSet["token_type_ids"]
	if hasTypeIDs {
		names = append(names, "token_type_ids")
	}
	return names, hasTypeIDs, nil
}

// infer runs one inference call. The id and mask slices are flat
// [batchSize * seqLen]. Returns per-token hidden states as a flat
// [batchSize * seqLen * hiddenDim] float32 slice.
func (s *onnxSession) infer(inputIDs, attentionMask []int64, batchSize, seqLen int64) ([]float32, error) {
	shape := ort.NewShape(batchSize, seqLen)

	tIDs, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input_ids tensor: %w", err)
	}
	defer tIDs.Destroy()

	tMask, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create attention_mask tensor: %w", err)
	}
	defer tMask.Destroy()

	inputs := []ort.Value{tIDs, tMask}
	if s.hasTypeIDs {
		tTypes, err := ort.NewTensor(shape, make([]int64, batchSize*seqLen))
		if err != nil {
			return nil, fmt.Errorf("onnx: failed to create token_type_ids tensor: %w", err)
		}
		defer tTypes.Destroy()
		inputs = append(inputs, tTypes)
	}

	outShape := ort.NewShape(batchSize, seqLen, s.hiddenDim)
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	if err := s.session.Run(inputs, []ort.Value{tOut}); err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	// Copy data out before the tensor is destroyed.
	src := tOut.GetData()
	result := make([]float32, len(src))
	copy(result, src)
	return result, nil
}

// close releases the ONNX session resources.
func (s *onnxSession) close() error {
	return s.session.Destroy()
}
