package embeddings

import (
	"context"
)

// TransformerBackend defines a pluggable backend for transformer inference.
type TransformerBackend interface {
	// EmbedBatch runs a single inference for a batch of tokenized inputs and
	// returns one pooled embedding per input.
	EmbedBatch(ctx context.Context, tokensBatch []*TokenizedInput) ([][]float32, error)
	IsReady() bool
	Close() error
}

// NewTransformerBackend is provided by build-tagged files: backend_onnx.go
// with -tags onnx, backend_stub.go otherwise.
