package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// PresidioConfig configures the Presidio analyzer client
type PresidioConfig struct {
	URL            string
	ScoreThreshold float64
	Entities       []string
	Timeout        time.Duration
}

// PresidioClient calls a Presidio analyzer's /analyze endpoint
type PresidioClient struct {
	config PresidioConfig
	client *http.Client
	logger *zap.Logger
}

type analyzeRequest struct {
	Text           string   `json:"text"`
	Language       string   `json:"language"`
	ScoreThreshold float64  `json:"score_threshold,omitempty"`
	Entities       []string `json:"entities,omitempty"`
}

type analyzeResult struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
}

// NewPresidioClient creates an analyzer client
func NewPresidioClient(config PresidioConfig, logger *zap.Logger) (*PresidioClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("presidio url is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	config.URL = strings.TrimRight(config.URL, "/")

	return &PresidioClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}, nil
}

// Detect sends text to the analyzer. Presidio reports character offsets,
// which are converted to byte offsets.
func (p *PresidioClient) Detect(ctx context.Context, text, language string) ([]Detection, error) {
	body, err := json.Marshal(analyzeRequest{
		Text:           text,
		Language:       language,
		ScoreThreshold: p.config.ScoreThreshold,
		Entities:       p.config.Entities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presidio analyze failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("presidio analyze returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode analyze response: %w", err)
	}

	offsets := runeToByteOffsets(text)
	detections := make([]Detection, 0, len(results))
	for _, r := range results {
		if r.Start < 0 || r.End >= len(offsets) || r.Start >= r.End {
			p.logger.Debug("Dropping out-of-range presidio result",
				zap.Int("start", r.Start), zap.Int("end", r.End))
			continue
		}
		detections = append(detections, Detection{
			Start:      offsets[r.Start],
			End:        offsets[r.End],
			EntityType: r.EntityType,
			Score:      r.Score,
			Source:     "presidio",
		})
	}

	return ResolveOverlaps(detections), nil
}

// runeToByteOffsets maps rune index i to its byte offset; the final entry is len(text)
func runeToByteOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}
