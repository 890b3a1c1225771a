// Package recognizer finds PII spans in text.
//
// A Recognizer returns byte-offset spans labelled with an entity type. The
// rule recognizer runs locally with regular expressions; PresidioClient calls
// a Presidio analyzer service; Composite merges several recognizers.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Detection is one recognised PII span. Start and End are byte offsets into
// the analysed text, End exclusive.
type Detection struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

// Recognizer detects PII spans
type Recognizer interface {
	Detect(ctx context.Context, text, language string) ([]Detection, error)
}

// ErrAllRecognizersFailed is returned by Composite when no member succeeded
var ErrAllRecognizersFailed = errors.New("all recognizers failed")

// Composite runs several recognizers and resolves overlapping spans
type Composite struct {
	members []namedRecognizer
	logger  *zap.Logger
}

type namedRecognizer struct {
	name string
	rec  Recognizer
}

// NewComposite creates an empty composite recognizer
func NewComposite(logger *zap.Logger) *Composite {
	return &Composite{logger: logger}
}

// Add appends a member recognizer
func (c *Composite) Add(name string, rec Recognizer) *Composite {
	c.members = append(c.members, namedRecognizer{name: name, rec: rec})
	return c
}

// Detect runs every member. A failing member is logged and skipped; the call
// fails only when every member fails.
func (c *Composite) Detect(ctx context.Context, text, language string) ([]Detection, error) {
	var (
		all    []Detection
		errs   []error
		passed int
	)
	for _, m := range c.members {
		found, err := m.rec.Detect(ctx, text, language)
		if err != nil {
			c.logger.Warn("Recognizer failed", zap.String("recognizer", m.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
			continue
		}
		passed++
		for _, d := range found {
			if d.Source == "" {
				d.Source = m.name
			}
			all = append(all, d)
		}
	}
	if passed == 0 && len(c.members) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrAllRecognizersFailed, errors.Join(errs...))
	}
	return ResolveOverlaps(all), nil
}

// ResolveOverlaps keeps a non-overlapping subset of detections ordered by
// start offset. Longer spans win, then higher scores, then earlier spans.
func ResolveOverlaps(detections []Detection) []Detection {
	if len(detections) < 2 {
		return detections
	}

	ranked := append([]Detection(nil), detections...)
	sort.SliceStable(ranked, func(i, j int) bool {
		li, lj := ranked[i].End-ranked[i].Start, ranked[j].End-ranked[j].Start
		if li != lj {
			return li > lj
		}
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Start < ranked[j].Start
	})

	var kept []Detection
	for _, d := range ranked {
		overlap := false
		for _, k := range kept {
			if d.Start < k.End && k.Start < d.End {
				overlap = true
				break
			}
		}
		if !overlap {
			kept = append(kept, d)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
