package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"
)

// HashEmbedder provides fast deterministic embeddings by hashing character
// n-grams and word tokens into a fixed number of buckets. Mentions that share
// spelling land near each other; no model is needed.
type HashEmbedder struct {
	config *ModelConfig
	logger *zap.Logger
	stats  ModelStats
	mu     sync.Mutex
}

// NewHashEmbedder creates a new hash-based embedder
func NewHashEmbedder(config *ModelConfig, logger *zap.Logger) (*HashEmbedder, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrConfigError)
	}

	e := &HashEmbedder{
		config: config,
		logger: logger,
		stats: ModelStats{
			ServiceType: "hash",
			StartTime:   time.Now(),
		},
	}

	logger.Info("Hash embedder initialized",
		zap.String("type", "ngram_hash"),
		zap.Int("embedding_dimensions", EmbeddingDimensions))

	return e, nil
}

// Encode generates a deterministic unit vector for text
func (e *HashEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrInvalidInput)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeoutError, ctx.Err())
	default:
	}

	start := time.Now()
	embedding := make([]float32, EmbeddingDimensions)

	normalized := normalizeText(text)
	for _, gram := range charNGrams(normalized, 3) {
		addHashedFeature(embedding, "c:"+gram, 1.0)
	}
	for _, word := range strings.Fields(normalized) {
		addHashedFeature(embedding, "w:"+word, 2.0)
	}

	result := Normalize(embedding)

	e.mu.Lock()
	e.stats.record(time.Since(start), true)
	e.mu.Unlock()

	return result, nil
}

// Stats returns embedder statistics
func (e *HashEmbedder) Stats() ModelStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close cleans up resources
func (e *HashEmbedder) Close() error {
	return nil
}

// addHashedFeature adds weight to the bucket chosen by the feature's hash,
// with a hash-derived sign so collisions tend to cancel.
func addHashedFeature(target []float32, feature string, weight float32) {
	hash := sha256.Sum256([]byte(feature))
	bucket := binary.BigEndian.Uint64(hash[0:8]) % uint64(len(target))
	if hash[8]&1 == 1 {
		weight = -weight
	}
	target[bucket] += weight
}

func normalizeText(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// charNGrams returns the n-grams of each padded word
func charNGrams(text string, n int) []string {
	var grams []string
	for _, word := range strings.Fields(text) {
		runes := []rune("<" + word + ">")
		if len(runes) <= n {
			grams = append(grams, string(runes))
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			grams = append(grams, string(runes[i:i+n]))
		}
	}
	return grams
}
