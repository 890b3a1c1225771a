package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spans(text string, ds []Detection) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.EntityType + ":" + text[d.Start:d.End]
	}
	return out
}

func TestRuleRecognizer(t *testing.T) {
	r, err := NewRuleRecognizer([]string{"all"}, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "scenario",
			text: "His name is Mr. Jones, Jones Bond and his phone number is 212-555-5555. Jones is friends with Martin",
			want: []string{"PERSON:Jones", "PERSON:Jones Bond", "PHONE_NUMBER:212-555-5555"},
		},
		{
			name: "email and ip",
			text: "mail jane.doe@example.com from 10.0.0.12",
			want: []string{"EMAIL_ADDRESS:jane.doe@example.com", "IP_ADDRESS:10.0.0.12"},
		},
		{
			name: "ssn",
			text: "ssn 123-45-6789",
			want: []string{"US_SSN:123-45-6789"},
		},
		{
			name: "credit card beats phone",
			text: "card 4111 1111 1111 1111 ok",
			want: []string{"CREDIT_CARD:4111 1111 1111 1111"},
		},
		{
			name: "sentence starter is not a name",
			text: "The Report was filed",
			want: []string{},
		},
		{
			name: "honorific is not a first name",
			text: "Call Mr. Jones",
			want: []string{"PERSON:Jones"},
		},
		{
			name: "url",
			text: "see https://example.com/profile?id=7.",
			want: []string{"URL:https://example.com/profile?id=7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Detect(ctx, tt.text, "en")
			require.NoError(t, err)
			assert.Equal(t, tt.want, spans(tt.text, got))
		})
	}

	t.Run("disabled rule", func(t *testing.T) {
		require.NoError(t, r.DisableRule("phone"))
		defer r.EnableRule("phone")
		got, err := r.Detect(ctx, "call 212-555-5555", "en")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("unknown rule", func(t *testing.T) {
		assert.Error(t, r.EnableRule("dna"))
		_, err := NewRuleRecognizer([]string{"dna"}, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("subset", func(t *testing.T) {
		only, err := NewRuleRecognizer([]string{"email"}, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, []string{"email"}, only.EnabledRules())
	})
}

func TestResolveOverlaps(t *testing.T) {
	in := []Detection{
		{Start: 0, End: 5, EntityType: "A", Score: 0.5},
		{Start: 0, End: 10, EntityType: "B", Score: 0.4},
		{Start: 12, End: 15, EntityType: "C", Score: 0.4},
		{Start: 12, End: 15, EntityType: "D", Score: 0.9},
	}
	out := ResolveOverlaps(in)
	require.Len(t, out, 2)
	assert.Equal(t, "B", out[0].EntityType)
	assert.Equal(t, "D", out[1].EntityType)
}

type stubRecognizer struct {
	out []Detection
	err error
}

func (s stubRecognizer) Detect(ctx context.Context, text, language string) ([]Detection, error) {
	return s.out, s.err
}

func TestComposite(t *testing.T) {
	ctx := context.Background()

	t.Run("merges members", func(t *testing.T) {
		c := NewComposite(zap.NewNop()).
			Add("a", stubRecognizer{out: []Detection{{Start: 0, End: 3, EntityType: "X"}}}).
			Add("b", stubRecognizer{out: []Detection{{Start: 5, End: 8, EntityType: "Y"}}})
		out, err := c.Detect(ctx, "abc..def", "en")
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].Source)
		assert.Equal(t, "b", out[1].Source)
	})

	t.Run("one failure tolerated", func(t *testing.T) {
		c := NewComposite(zap.NewNop()).
			Add("down", stubRecognizer{err: errors.New("timeout")}).
			Add("up", stubRecognizer{out: []Detection{{Start: 0, End: 1, EntityType: "X"}}})
		out, err := c.Detect(ctx, "x", "en")
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("all failures", func(t *testing.T) {
		c := NewComposite(zap.NewNop()).Add("down", stubRecognizer{err: errors.New("timeout")})
		_, err := c.Detect(ctx, "x", "en")
		assert.ErrorIs(t, err, ErrAllRecognizersFailed)
	})
}

func TestPresidioClient(t *testing.T) {
	text := "Zoë Jones lives here"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "en", req.Language)
		assert.Equal(t, text, req.Text)

		_ = json.NewEncoder(w).Encode([]analyzeResult{
			{Start: 0, End: 9, EntityType: "PERSON", Score: 0.85},
			{Start: 50, End: 60, EntityType: "PERSON", Score: 0.85},
		})
	}))
	defer srv.Close()

	p, err := NewPresidioClient(PresidioConfig{URL: srv.URL + "/"}, zap.NewNop())
	require.NoError(t, err)

	out, err := p.Detect(context.Background(), text, "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"PERSON:Zoë Jones"}, spans(text, out))

	t.Run("server error", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer bad.Close()
		p, _ := NewPresidioClient(PresidioConfig{URL: bad.URL}, zap.NewNop())
		_, err := p.Detect(context.Background(), text, "en")
		assert.ErrorContains(t, err, "503")
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := NewPresidioClient(PresidioConfig{}, zap.NewNop())
		assert.Error(t, err)
	})
}
