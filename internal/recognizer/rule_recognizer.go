package recognizer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// RuleRecognizer detects PII with regular expressions
type RuleRecognizer struct {
	rules   []DetectionRule
	enabled map[string]bool
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewRuleRecognizer creates a rule recognizer with the named rules enabled.
// "all" enables every rule.
func NewRuleRecognizer(detectors []string, logger *zap.Logger) (*RuleRecognizer, error) {
	r := &RuleRecognizer{
		rules:   GetDefaultRules(),
		enabled: make(map[string]bool),
		logger:  logger,
	}

	if err := r.configureDetectors(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	logger.Info("Rule recognizer initialized",
		zap.Int("total_rules", len(r.rules)),
		zap.Strings("enabled_rules", r.EnabledRules()),
	)

	return r, nil
}

// configureDetectors enables/disables detectors based on configuration
func (r *RuleRecognizer) configureDetectors(detectors []string) error {
	for _, rule := range r.rules {
		r.enabled[rule.Name] = false
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, rule := range r.rules {
				r.enabled[rule.Name] = true
			}
			continue
		}

		if _, known := r.enabled[detector]; !known {
			return fmt.Errorf("unknown detector: %s", detector)
		}
		r.enabled[detector] = true
	}

	return nil
}

// Detect runs every enabled rule over text. Overlapping matches are resolved
// in favour of the longer span. language is ignored.
func (r *RuleRecognizer) Detect(ctx context.Context, text, language string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found []Detection
	for _, rule := range r.rules {
		if !r.enabled[rule.Name] {
			continue
		}

		group := rule.Pattern.SubexpIndex("pii")
		matches := rule.Pattern.FindAllStringSubmatchIndex(text, -1)
		for _, m := range matches {
			start, end := m[0], m[1]
			if group > 0 && m[2*group] >= 0 {
				start, end = m[2*group], m[2*group+1]
			}
			if rule.Name == "person_name" && !plausibleName(text[start:end]) {
				continue
			}
			found = append(found, Detection{
				Start:      start,
				End:        end,
				EntityType: rule.EntityType,
				Score:      rule.Score,
				Source:     "rule:" + rule.Name,
			})
		}

		if len(matches) > 0 {
			r.logger.Debug("PII rule matched",
				zap.String("rule", rule.Name),
				zap.String("entity_type", rule.EntityType),
				zap.Int("count", len(matches)),
			)
		}
	}

	return ResolveOverlaps(found), nil
}

// EnabledRules returns the enabled rule names, sorted
func (r *RuleRecognizer) EnabledRules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var enabled []string
	for name, on := range r.enabled {
		if on {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}

// EnableRule enables a specific detection rule
func (r *RuleRecognizer) EnableRule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.enabled[name]; !exists {
		return fmt.Errorf("unknown rule: %s", name)
	}
	r.enabled[name] = true
	r.logger.Info("Detection rule enabled", zap.String("rule", name))
	return nil
}

// DisableRule disables a specific detection rule
func (r *RuleRecognizer) DisableRule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.enabled[name]; !exists {
		return fmt.Errorf("unknown rule: %s", name)
	}
	r.enabled[name] = false
	r.logger.Info("Detection rule disabled", zap.String("rule", name))
	return nil
}

// plausibleName rejects name-shaped pairs that open a sentence or contain
// an honorific, such as "The Report" or "Call Mr"
func plausibleName(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 || sentenceStarters[words[0]] {
		return false
	}
	for _, w := range words {
		if honorifics[w] {
			return false
		}
	}
	return true
}
