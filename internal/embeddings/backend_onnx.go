//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// OnnxBackend runs a sentence-transformer model with ONNX Runtime.
type OnnxBackend struct {
	session    *ort.DynamicAdvancedSession
	inputNames []string
	logger     *zap.Logger
	ready      bool
	mu         sync.RWMutex
}

// NewTransformerBackend initializes the ONNX Runtime backend. Requires build tag 'onnx'.
func NewTransformerBackend(logger *zap.Logger, modelPath string) TransformerBackend {
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("ONNX Runtime environment init failed", zap.Error(err))
		return nil
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		logger.Error("Failed to inspect ONNX model IO", zap.Error(err), zap.String("model", modelPath))
		return nil
	}
	if len(outputsInfo) == 0 {
		logger.Error("ONNX model reports no outputs", zap.String("model", modelPath))
		return nil
	}

	// only feed inputs the model declares, in its order
	var inputNames []string
	for _, ii := range inputsInfo {
		switch strings.ToLower(ii.Name) {
		case "input_ids", "attention_mask", "token_type_ids":
			inputNames = append(inputNames, ii.Name)
		}
	}
	if len(inputNames) == 0 {
		logger.Error("ONNX model has no recognised transformer inputs", zap.String("model", modelPath))
		return nil
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputsInfo[0].Name}, nil)
	if err != nil {
		logger.Error("ONNX Runtime session creation failed", zap.Error(err), zap.String("model", modelPath))
		return nil
	}

	logger.Info("ONNX Runtime backend ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.String("output", outputsInfo[0].Name))
	return &OnnxBackend{session: sess, inputNames: inputNames, logger: logger, ready: true}
}

// IsReady reports whether the backend is initialized.
func (b *OnnxBackend) IsReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && b.session != nil
}

// Close releases session and environment resources.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	ort.DestroyEnvironment()
	b.ready = false
	return nil
}

// EmbedBatch runs inference for the batch and mean-pools over unmasked tokens.
func (b *OnnxBackend) EmbedBatch(ctx context.Context, tokensBatch []*TokenizedInput) ([][]float32, error) {
	if !b.IsReady() {
		return nil, ErrModelNotLoaded
	}

	batch := len(tokensBatch)
	if batch == 0 {
		return [][]float32{}, nil
	}
	seqLen := len(tokensBatch[0].InputIDs)

	feeds := map[string][]int64{
		"input_ids":      make([]int64, 0, batch*seqLen),
		"attention_mask": make([]int64, 0, batch*seqLen),
		"token_type_ids": make([]int64, 0, batch*seqLen),
	}
	for _, t := range tokensBatch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		for i := 0; i < seqLen; i++ {
			feeds["input_ids"] = append(feeds["input_ids"], int64(t.InputIDs[i]))
			feeds["attention_mask"] = append(feeds["attention_mask"], int64(t.AttentionMask[i]))
			feeds["token_type_ids"] = append(feeds["token_type_ids"], int64(t.TokenTypeIDs[i]))
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	inputs := make([]ort.Value, 0, len(b.inputNames))
	for _, name := range b.inputNames {
		tensor, err := ort.NewTensor[int64](shape, feeds[strings.ToLower(name)])
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tensor: %w", name, err)
		}
		defer tensor.Destroy()
		inputs = append(inputs, tensor)
	}

	outputs := make([]ort.Value, 1)
	b.mu.RLock()
	err := b.session.Run(inputs, outputs)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: onnx run failed: %w", ErrInferenceFailed, err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("%w: onnx returned no outputs", ErrInferenceFailed)
	}
	defer outputs[0].Destroy()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type (want float32 tensor)", ErrInferenceFailed)
	}
	data := outTensor.GetData()
	outShape := outTensor.GetShape()

	res := make([][]float32, batch)
	switch len(outShape) {
	case 2:
		// [batch, dims], already pooled
		dims := int(outShape[1])
		for i := 0; i < batch; i++ {
			res[i] = Normalize(append([]float32(nil), data[i*dims:(i+1)*dims]...))
		}
	case 3:
		// [batch, seq, dims], last_hidden_state
		seq, dims := int(outShape[1]), int(outShape[2])
		for i := 0; i < batch; i++ {
			pooled := make([]float32, dims)
			var count float32
			for s := 0; s < seq; s++ {
				if tokensBatch[i].AttentionMask[s] == 0 {
					continue
				}
				count++
				offset := (i*seq + s) * dims
				for d := 0; d < dims; d++ {
					pooled[d] += data[offset+d]
				}
			}
			if count > 0 {
				for d := range pooled {
					pooled[d] /= count
				}
			}
			res[i] = Normalize(pooled)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported output shape %v", ErrInferenceFailed, outShape)
	}

	return res, nil
}
