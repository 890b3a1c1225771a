package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilter(t *testing.T) {
	filter, err := buildFilter("2026-03-01T00:00:00Z", "2026-03-02T00:00:00Z", "corr-1", "conv-1", 50)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), filter.Since)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), filter.Until)
	assert.Equal(t, "corr-1", filter.CorrelationID)
	assert.Equal(t, "conv-1", filter.SessionID)
	assert.Equal(t, 50, filter.Limit)

	filter, err = buildFilter("", "", "", "", 0)
	require.NoError(t, err)
	assert.True(t, filter.Since.IsZero())
	assert.True(t, filter.Until.IsZero())

	tests := []struct {
		name  string
		since string
		until string
		limit int
	}{
		{"bad since", "yesterday", "", 0},
		{"bad until", "", "2026-13-01", 0},
		{"inverted range", "2026-03-02T00:00:00Z", "2026-03-01T00:00:00Z", 0},
		{"negative limit", "", "", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildFilter(tt.since, tt.until, "", "", tt.limit)
			assert.Error(t, err)
		})
	}
}
