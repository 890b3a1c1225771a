// Package entity resolves detected PII mentions into stable placeholder keys
// and performs reversible substitution between mentions and keys.
package entity

import (
	"time"
	"unicode/utf8"
)

// Entity is one real-world identity seen in a conversation
type Entity struct {
	Key       string    `json:"key"`       // placeholder, e.g. PERSON_3fa2
	Type      string    `json:"type"`      // recognizer label, e.g. PERSON
	Canonical string    `json:"canonical"` // longest alias seen so far
	Aliases   []string  `json:"aliases"`   // insertion order, includes Canonical
	Vector    []float32 `json:"vector,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasAlias reports whether mention is already recorded verbatim
func (e *Entity) HasAlias(mention string) bool {
	for _, a := range e.Aliases {
		if a == mention {
			return true
		}
	}
	return false
}

func (e *Entity) clone() Entity {
	c := *e
	c.Aliases = append([]string(nil), e.Aliases...)
	if e.Vector != nil {
		c.Vector = append([]float32(nil), e.Vector...)
	}
	return c
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
