package entity

import (
	"context"
	"fmt"

	"github.com/raaihank/sentinel-chat/internal/embeddings"
)

// DefaultThreshold is the score at which a mention merges into an entity
const DefaultThreshold = 0.6

// Encoder turns text into a dense vector
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Tier names the cascade stage that produced a score
type Tier string

const (
	TierContainment Tier = "containment"
	TierLexical     Tier = "lexical"
	TierSemantic    Tier = "semantic"
)

// Match is the score of a mention against one entity
type Match struct {
	Key   string
	Score float64
	Tier  Tier
}

// Classifier scores a mention against an existing entity with a three-tier
// cascade: whole-word containment, token-sort similarity, then cosine
// similarity of embeddings when the first two stay below the threshold.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a classifier. Non-positive thresholds use DefaultThreshold.
func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Threshold returns the merge threshold
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Accepts reports whether score is high enough to merge
func (c *Classifier) Accepts(score float64) bool {
	return score >= c.threshold
}

// Score rates mention against e. mentionVector is only called when the
// semantic tier is needed.
func (c *Classifier) Score(mention string, e *Entity, mentionVector func() ([]float32, error)) (Match, error) {
	m := Match{Key: e.Key}

	if mention == e.Canonical || Contains(mention, e.Canonical) || Contains(e.Canonical, mention) {
		m.Score, m.Tier = 1.0, TierContainment
		return m, nil
	}

	m.Score, m.Tier = TokenSortRatio(mention, e.Canonical), TierLexical
	if c.Accepts(m.Score) {
		return m, nil
	}

	vec, err := mentionVector()
	if err != nil {
		return m, fmt.Errorf("%w: embedding mention: %w", ErrCollaboratorUnavailable, err)
	}
	m.Score, m.Tier = 0, TierSemantic
	if len(vec) > 0 && len(e.Vector) == len(vec) {
		m.Score = embeddings.CosineSimilarity(vec, e.Vector)
	}
	return m, nil
}
