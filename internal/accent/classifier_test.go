package accent

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/langid"
	"github.com/snarg/accent-engine/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDetector returns a fixed language or error.
type stubDetector struct {
	lang  langid.Language
	err   error
	calls int
}

func (s *stubDetector) Detect(string) (langid.Language, error) {
	s.calls++
	return s.lang, s.err
}

var (
	english   = &stubDetector{lang: langid.Language{Code: "eng", Name: "English", Confidence: 1}}
	french    = &stubDetector{lang: langid.Language{Code: "fra", Name: "French", Confidence: 1}}
	undecided = &stubDetector{err: langid.ErrUndetermined}
)

func TestClassify_Rules(t *testing.T) {
	tests := []struct {
		name       string
		detector   langid.Detector
		text       string
		accent     string
		confidence int
	}{
		{"english_baseline", english, "I went to the shop this morning", English, 90},
		{"english_case_insensitive_name", &stubDetector{lang: langid.Language{Name: "ENGLISH"}}, "hello there", English, 90},
		{"non_english_no_marker", french, "bonjour tout le monde", Unknown, 0},
		{"undetermined_no_marker", undecided, "hm", Unknown, 0},
		{"detector_failure_is_unknown", &stubDetector{err: errors.New("boom")}, "hm", Unknown, 0},
		{"american_favorite", english, "that is my favorite song", American, 95},
		{"american_color", french, "color", American, 95},
		{"american_neighbor", undecided, "my neighbor", American, 95},
		{"british_aeroplane", english, "we boarded the aeroplane", British, 90},
		{"lorry_alone_is_british", undecided, "lorry", British, 90},
		{"australian_bungalow", english, "a small bungalow by the beach", Australian, 85},
		{"first_match_wins", english, "My favorite colour is the aeroplane", American, 95},
		{"british_before_australian", english, "a bungalow and an aeroplane", British, 90},
		{"case_sensitive_markers", english, "Favorite COLOR Neighbor", English, 90},
		{"substring_not_word", english, "colorful", American, 95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.detector, zerolog.Nop())
			res := c.Classify(tt.text)
			assert.Equal(t, KindOK, res.Kind)
			assert.Equal(t, tt.accent, res.Accent)
			assert.Equal(t, tt.confidence, res.Confidence)
			assert.Equal(t, tt.text, res.Excerpt)
			assert.Empty(t, res.Cause)
		})
	}
}

func TestClassify_FavoriteAlwaysAmerican(t *testing.T) {
	c := New(english, zerolog.Nop())
	fillers := []string{"", "aeroplane ", "lorry bungalow ", "colour ", strings.Repeat("x", 300)}
	for _, pre := range fillers {
		for _, post := range fillers {
			text := pre + "favorite" + post
			res := c.Classify(text)
			assert.Equal(t, American, res.Accent, text)
			assert.Equal(t, 95, res.Confidence, text)
		}
	}
}

func TestClassify_AeroplaneWithoutAmericanMarkers(t *testing.T) {
	for _, d := range []langid.Detector{english, french, undecided} {
		c := New(d, zerolog.Nop())
		for _, text := range []string{"aeroplane", "the aeroplane landed", "bungalow aeroplane", "aeroplane lorry"} {
			res := c.Classify(text)
			assert.Equal(t, British, res.Accent, text)
			assert.Equal(t, 90, res.Confidence, text)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := New(langid.NewWhatlang(0), zerolog.Nop())
	for _, text := range []string{"", "lorry", "My favorite colour is the aeroplane", "Das ist ein Haus am See."} {
		assert.Equal(t, c.Classify(text), c.Classify(text), text)
	}
}

func TestClassify_WithRealDetector(t *testing.T) {
	c := New(langid.NewWhatlang(0), zerolog.Nop())
	res := c.Classify("I think we should meet again next week to go through the plan in more detail.")
	assert.Equal(t, English, res.Accent)
	assert.Equal(t, 90, res.Confidence)
	assert.Equal(t, "English", res.Language)
}

func TestExcerpt(t *testing.T) {
	lengths := []int{0, 1, 149, 150, 151, 500}
	for _, n := range lengths {
		for _, unit := range []string{"a", "é", "語"} {
			text := strings.Repeat(unit, n)
			got := Excerpt(text)
			want := n
			if want > ExcerptLen {
				want = ExcerptLen
			}
			require.Equal(t, want, utf8.RuneCountInString(got), fmt.Sprintf("n=%d unit=%q", n, unit))
			require.True(t, strings.HasPrefix(text, got))
		}
	}
}

func TestOutcome(t *testing.T) {
	c := New(english, zerolog.Nop())

	t.Run("success_classifies", func(t *testing.T) {
		res := c.Outcome(transcribe.Transcript{Text: "the lorry"}, nil)
		assert.Equal(t, Result{Kind: KindOK, Accent: British, Confidence: 90, Excerpt: "the lorry", Language: "English"}, res)
	})

	t.Run("unintelligible", func(t *testing.T) {
		res := c.Outcome(transcribe.Transcript{}, transcribe.ErrUnintelligible)
		assert.Equal(t, Result{Kind: KindUnintelligible}, res)
	})

	t.Run("service_error", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", &transcribe.ServiceError{Provider: "whisper", StatusCode: 503, Err: errors.New("overloaded")})
		res := c.Outcome(transcribe.Transcript{}, err)
		assert.Equal(t, KindServiceError, res.Kind)
		assert.Equal(t, "whisper API error (status 503): overloaded", res.Cause)
		assert.Zero(t, res.Confidence)
		assert.Empty(t, res.Excerpt)
	})

	t.Run("other_error", func(t *testing.T) {
		res := c.Outcome(transcribe.Transcript{}, &transcribe.Error{Provider: "whisper", Err: errors.New("decode response: EOF")})
		assert.Equal(t, KindAnalysisError, res.Kind)
		assert.Equal(t, "whisper transcription: decode response: EOF", res.Cause)
		assert.Zero(t, res.Confidence)
		assert.Empty(t, res.Excerpt)
	})
}

func TestMatchCustomRules(t *testing.T) {
	rules := []Rule{{Accent: "A", Confidence: 1, Markers: []string{"x"}}, {Accent: "B", Confidence: 2, Markers: []string{"x", "y"}}}
	r, ok := Match(rules, "y then x")
	require.True(t, ok)
	assert.Equal(t, "A", r.Accent)

	_, ok = Match(rules, "nothing")
	assert.False(t, ok)
}
