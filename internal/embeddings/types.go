package embeddings

import (
	"context"
	"math"
	"time"
)

// EmbeddingDimensions defines the standard embedding size
const EmbeddingDimensions = 384

// Embedder turns a mention into a dense vector for semantic matching
type Embedder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Stats() ModelStats
	Close() error
}

// ModelConfig contains embedding model configuration
type ModelConfig struct {
	ModelName string        `yaml:"model_name" mapstructure:"model_name"` // "sentence-transformers/all-MiniLM-L6-v2"
	ModelPath string        `yaml:"model_path" mapstructure:"model_path"` // "./models/minilm-l6-v2.onnx"
	VocabPath string        `yaml:"vocab_path" mapstructure:"vocab_path"` // "./models/vocab.txt"
	BaseURL   string        `yaml:"base_url" mapstructure:"base_url"`     // OpenAI-compatible endpoint
	APIKey    string        `yaml:"api_key" mapstructure:"api_key"`
	MaxLength int           `yaml:"max_length" mapstructure:"max_length"` // 128
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"` // 24h
}

// ModelStats represents model performance statistics
type ModelStats struct {
	TotalInferences   int64         `json:"total_inferences"`
	SuccessfulRuns    int64         `json:"successful_runs"`
	FailedRuns        int64         `json:"failed_runs"`
	CacheHits         int64         `json:"cache_hits"`
	AvgInferenceTime  time.Duration `json:"avg_inference_time"`
	LastInferenceTime time.Time     `json:"last_inference_time"`
	ErrorRate         float64       `json:"error_rate"`
	ServiceType       string        `json:"service_type"`
	StartTime         time.Time     `json:"start_time"`
}

func (s *ModelStats) record(duration time.Duration, success bool) {
	s.TotalInferences++
	s.LastInferenceTime = time.Now()
	if success {
		s.SuccessfulRuns++
		// running mean over successful runs
		s.AvgInferenceTime += (duration - s.AvgInferenceTime) / time.Duration(s.SuccessfulRuns)
	} else {
		s.FailedRuns++
	}
	s.ErrorRate = float64(s.FailedRuns) / float64(s.TotalInferences)
}

// TokenizedInput is one tokenized text ready for a transformer backend
type TokenizedInput struct {
	InputIDs      []int32
	AttentionMask []int32
	TokenTypeIDs  []int32
	Length        int
	Truncated     bool
}

// EmbeddingErrors define custom error types
type EmbeddingError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *EmbeddingError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrInvalidInput       = &EmbeddingError{Type: "invalid_input", Message: "invalid input text", Code: 1001}
	ErrModelNotLoaded     = &EmbeddingError{Type: "model_not_loaded", Message: "model not loaded", Code: 1002}
	ErrInferenceFailed    = &EmbeddingError{Type: "inference_failed", Message: "inference failed", Code: 1003}
	ErrCacheError         = &EmbeddingError{Type: "cache_error", Message: "cache operation failed", Code: 1004}
	ErrConfigError        = &EmbeddingError{Type: "config_error", Message: "configuration error", Code: 1005}
	ErrTimeoutError       = &EmbeddingError{Type: "timeout_error", Message: "operation timed out", Code: 1007}
	ErrTokenizationFailed = &EmbeddingError{Type: "tokenization_failed", Message: "tokenization failed", Code: 1008}
)

// CosineSimilarity calculates cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0.0
	}

	var dotProduct, norm1, norm2 float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		norm1 += float64(vec1[i]) * float64(vec1[i])
		norm2 += float64(vec2[i]) * float64(vec2[i])
	}

	if norm1 == 0 || norm2 == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(norm1) * math.Sqrt(norm2))
}

// Normalize scales a vector to unit length
func Normalize(embedding []float32) []float32 {
	var norm float64
	for _, val := range embedding {
		norm += float64(val) * float64(val)
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return embedding
	}

	normalized := make([]float32, len(embedding))
	for i, val := range embedding {
		normalized[i] = float32(float64(val) / norm)
	}
	return normalized
}
