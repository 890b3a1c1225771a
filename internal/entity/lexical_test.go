package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenSortRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Jones Bond", "Jones Bond", 1},
		{"reordered", "Bond Jones", "Jones Bond", 1},
		{"extra spaces", "  Jones   Bond ", "Bond Jones", 1},
		{"disjoint", "abc", "xyz", 0},
		{"empty", "", "Jones", 0},
		{"case sensitive", "jones", "Jones", 0.8},
		{"partial", "Martin", "Martina", 12.0 / 13.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, TokenSortRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		haystack, needle string
		want             bool
	}{
		{"Mr. Jones Bond", "Jones", true},
		{"call 212-555-5555 now", "212-555-5555", true},
		{"Jonesy", "Jones", false},
		{"Jones", "", false},
		{"Zoë Smith", "Zoë", true},
		{"Ask José about it", "José", true},
		{"Josée", "José", false},
		{"Müller", "Mül", false},
		{"call (212) 555-5555 today", "(212) 555-5555", true},
		{"call +1 212-555-5555 today", "+1 212-555-5555", true},
		{"mail <jones@example.com>", "jones@example.com", true},
		{"PERSON_0001", "0001", false},
		// a rejected first hit must not hide a later one
		{"Annie and Ann", "Ann", true},
	}

	for _, tt := range tests {
		t.Run(tt.haystack+"/"+tt.needle, func(t *testing.T) {
			assert.Equal(t, tt.want, Contains(tt.haystack, tt.needle))
		})
	}
}
