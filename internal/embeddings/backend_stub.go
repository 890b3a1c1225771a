//go:build !onnx
// +build !onnx

package embeddings

import (
	"go.uber.org/zap"
)

// Stub implementation used when the 'onnx' build tag is not set.
func NewTransformerBackend(logger *zap.Logger, modelPath string) TransformerBackend {
	logger.Warn("ONNX backend requested but binary built without the onnx tag", zap.String("model", modelPath))
	return nil
}
