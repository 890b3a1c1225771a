package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierScore(t *testing.T) {
	c := NewClassifier(0)
	require.Equal(t, DefaultThreshold, c.Threshold())

	jones := &Entity{Key: "PERSON_1", Canonical: "Jones Bond", Vector: []float32{1, 0}}
	noVector := func() ([]float32, error) {
		t.Fatal("semantic tier should not run")
		return nil, nil
	}

	t.Run("containment", func(t *testing.T) {
		m, err := c.Score("Jones", jones, noVector)
		require.NoError(t, err)
		assert.Equal(t, TierContainment, m.Tier)
		assert.Equal(t, 1.0, m.Score)
	})

	t.Run("lexical", func(t *testing.T) {
		m, err := c.Score("Bond  Jones", jones, noVector)
		require.NoError(t, err)
		assert.Equal(t, TierLexical, m.Tier)
		assert.InDelta(t, 1.0, m.Score, 1e-9)
	})

	t.Run("semantic replaces low lexical score", func(t *testing.T) {
		m, err := c.Score("007", jones, func() ([]float32, error) { return []float32{1, 0}, nil })
		require.NoError(t, err)
		assert.Equal(t, TierSemantic, m.Tier)
		assert.InDelta(t, 1.0, m.Score, 1e-6)
		assert.True(t, c.Accepts(m.Score))
	})

	t.Run("dimension mismatch scores zero", func(t *testing.T) {
		m, err := c.Score("007", jones, func() ([]float32, error) { return []float32{1, 0, 0}, nil })
		require.NoError(t, err)
		assert.Equal(t, 0.0, m.Score)
	})

	t.Run("vector failure", func(t *testing.T) {
		_, err := c.Score("007", jones, func() ([]float32, error) { return nil, errors.New("boom") })
		assert.ErrorIs(t, err, ErrCollaboratorUnavailable)
	})
}
