package entity

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/recognizer"
)

// Config controls entity resolution
type Config struct {
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	// CrossTypeMatching lets a mention merge into an entity of another type
	CrossTypeMatching bool   `yaml:"cross_type_matching" mapstructure:"cross_type_matching"`
	Language          string `yaml:"language" mapstructure:"language"`
}

// DefaultConfig returns the resolver defaults
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Language:  "en",
	}
}

const (
	keySuffixLen     = 4
	keyRetriesBefore = 16
	fallbackType     = "ENTITY"
)

// Resolver maps detected mentions onto entities and swaps them for keys.
// A Resolver is scoped to one conversation and is safe for concurrent use.
type Resolver struct {
	mu         sync.Mutex
	store      *Store
	classifier *Classifier
	recognizer recognizer.Recognizer
	encoder    Encoder
	config     Config
	logger     *zap.Logger
	now        func() time.Time
	suffix     func(n int) string
}

// NewResolver creates a resolver over an empty store
func NewResolver(config Config, rec recognizer.Recognizer, enc Encoder, logger *zap.Logger) *Resolver {
	if config.Language == "" {
		config.Language = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:      NewStore(),
		classifier: NewClassifier(config.Threshold),
		recognizer: rec,
		encoder:    enc,
		config:     config,
		logger:     logger,
		now:        time.Now,
		suffix:     randomSuffix,
	}
}

// Analyze detects PII in text and merges every detection into the store.
// Detections are processed in order of their start offset.
func (r *Resolver) Analyze(ctx context.Context, text string) error {
	if r.recognizer == nil {
		return fmt.Errorf("%w: no recognizer configured", ErrCollaboratorUnavailable)
	}

	detections, err := r.recognizer.Detect(ctx, text, r.config.Language)
	if err != nil {
		return fmt.Errorf("%w: detect: %w", ErrCollaboratorUnavailable, err)
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Start < detections[j].Start
	})

	for _, d := range detections {
		if d.Start < 0 || d.End > len(text) || d.Start >= d.End {
			r.logger.Debug("Skipping detection outside text",
				zap.Int("start", d.Start),
				zap.Int("end", d.End),
				zap.String("entity_type", d.EntityType))
			continue
		}
		mention := strings.TrimSpace(text[d.Start:d.End])
		if mention == "" {
			continue
		}
		key, err := r.MergeOrCreate(ctx, mention, d.EntityType)
		if err != nil {
			return err
		}
		r.logger.Debug("Detected entity",
			zap.String("entity_type", d.EntityType),
			zap.String("key", key),
			zap.Float64("score", d.Score))
	}
	return nil
}

// MergeOrCreate returns the key of the entity mention belongs to, creating a
// new entity when no existing one scores at or above the threshold.
func (r *Resolver) MergeOrCreate(ctx context.Context, mention, entityType string) (string, error) {
	if mention == "" {
		return "", ErrEmptyMention
	}
	if entityType == "" {
		entityType = fallbackType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		vec    []float32
		vecErr error
		loaded bool
	)
	mentionVector := func() ([]float32, error) {
		if !loaded {
			vec, vecErr = r.encode(ctx, mention)
			loaded = true
		}
		return vec, vecErr
	}

	best := Match{Score: -1}
	var scoreErr error
	r.store.Each(func(e *Entity) bool {
		if !r.config.CrossTypeMatching && e.Type != entityType {
			return true
		}
		m, err := r.classifier.Score(mention, e, mentionVector)
		if err != nil {
			scoreErr = err
			return false
		}
		if m.Score > best.Score {
			best = m
		}
		return true
	})
	if scoreErr != nil {
		return "", scoreErr
	}

	if best.Key != "" && r.classifier.Accepts(best.Score) {
		e, _ := r.store.Get(best.Key)
		if err := r.merge(e, mention, mentionVector); err != nil {
			return "", err
		}
		r.logger.Debug("Merged mention into entity",
			zap.String("key", e.Key),
			zap.String("tier", string(best.Tier)),
			zap.Float64("score", best.Score))
		return e.Key, nil
	}

	v, err := mentionVector()
	if err != nil {
		return "", err
	}
	now := r.now()
	e := &Entity{
		Key:       r.newKey(entityType),
		Type:      entityType,
		Canonical: mention,
		Aliases:   []string{mention},
		Vector:    v,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Add(e); err != nil {
		return "", err
	}
	return e.Key, nil
}

func (r *Resolver) merge(e *Entity, mention string, mentionVector func() ([]float32, error)) error {
	if !e.HasAlias(mention) {
		e.Aliases = append(e.Aliases, mention)
		e.UpdatedAt = r.now()
	}
	if runeLen(mention) > runeLen(e.Canonical) {
		v, err := mentionVector()
		if err != nil {
			return err
		}
		e.Canonical = mention
		e.Vector = v
		e.UpdatedAt = r.now()
	}
	return nil
}

func (r *Resolver) encode(ctx context.Context, text string) ([]float32, error) {
	if r.encoder == nil {
		return nil, nil
	}
	v, err := r.encoder.Encode(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrCollaboratorUnavailable, err)
	}
	return v, nil
}

func (r *Resolver) newKey(entityType string) string {
	n := keySuffixLen
	for attempt := 1; ; attempt++ {
		key := entityType + "_" + r.suffix(n)
		if !r.store.Has(key) {
			return key
		}
		if attempt%keyRetriesBefore == 0 {
			n *= 2
		}
	}
}

func randomSuffix(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(hex) < n {
		hex += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex[:n]
}

type aliasKey struct {
	alias string
	key   string
}

// Anonymize replaces every known alias in text with its entity key, longest
// alias first. Ties keep entity creation order, then alias insertion order.
func (r *Resolver) Anonymize(text string) string {
	r.mu.Lock()
	var pairs []aliasKey
	r.store.Each(func(e *Entity) bool {
		for _, a := range e.Aliases {
			pairs = append(pairs, aliasKey{alias: a, key: e.Key})
		}
		return true
	})
	r.mu.Unlock()

	sort.SliceStable(pairs, func(i, j int) bool {
		return runeLen(pairs[i].alias) > runeLen(pairs[j].alias)
	})

	s := newSubstitution(text)
	for _, p := range pairs {
		s.replace(wholeWordIndex(s.text, p.alias, -1), p.key)
	}
	return s.text
}

// Deanonymize replaces every key in text with its entity's current canonical
// form in one pass. Unknown key-like tokens are left alone.
func (r *Resolver) Deanonymize(text string) string {
	r.mu.Lock()
	canonical := make(map[string]string, r.store.Len())
	keys := make([]string, 0, r.store.Len())
	r.store.Each(func(e *Entity) bool {
		canonical[e.Key] = e.Canonical
		keys = append(keys, e.Key)
		return true
	})
	r.mu.Unlock()

	if len(keys) == 0 {
		return text
	}

	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	pattern := regexp.MustCompile(strings.Join(quoted, "|"))

	var b strings.Builder
	last := 0
	for _, m := range pattern.FindAllStringIndex(text, -1) {
		if !bounded(text, m[0], m[1]) {
			continue
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(canonical[text[m[0]:m[1]]])
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// Entities returns copies of all entities in creation order
func (r *Resolver) Entities() []Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Entities()
}

// Len returns the number of entities
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Len()
}

// Snapshot copies the resolver's store
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Snapshot()
}

// Restore replaces the resolver's store with snap
func (r *Resolver) Restore(snap Snapshot) error {
	store, err := RestoreStore(snap)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.store = store
	r.mu.Unlock()
	return nil
}

// substitution applies replacements while keeping inserted keys out of reach
// of later patterns.
type substitution struct {
	text      string
	protected [][2]int
}

func newSubstitution(text string) *substitution {
	return &substitution{text: text}
}

func (s *substitution) replace(matches [][2]int, key string) {
	if len(matches) == 0 {
		return
	}

	var (
		b         strings.Builder
		protected [][2]int
		last      int
		shift     int
		pi        int
	)
	for _, m := range matches {
		if s.overlaps(m[0], m[1]) {
			continue
		}
		// carry over protected ranges that end before this match
		for pi < len(s.protected) && s.protected[pi][1] <= m[0] {
			protected = append(protected, [2]int{s.protected[pi][0] + shift, s.protected[pi][1] + shift})
			pi++
		}
		b.WriteString(s.text[last:m[0]])
		start := b.Len()
		b.WriteString(key)
		protected = append(protected, [2]int{start, b.Len()})
		shift += len(key) - (m[1] - m[0])
		last = m[1]
	}
	for ; pi < len(s.protected); pi++ {
		protected = append(protected, [2]int{s.protected[pi][0] + shift, s.protected[pi][1] + shift})
	}
	b.WriteString(s.text[last:])

	s.text = b.String()
	s.protected = protected
}

func (s *substitution) overlaps(start, end int) bool {
	for _, p := range s.protected {
		if start < p[1] && p[0] < end {
			return true
		}
	}
	return false
}
