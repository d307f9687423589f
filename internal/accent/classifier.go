// Package accent guesses an English speaker's accent from transcript wording.
//
// The guess is lexical: spellings like "color" or "aeroplane" that a
// recognizer emits for a speaker's word choice. It is not an acoustic model.
package accent

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/langid"
	"github.com/snarg/accent-engine/internal/transcribe"
)

// Accent labels.
const (
	Unknown    = "Unknown"
	English    = "English"
	American   = "American"
	British    = "British"
	Australian = "Australian"
)

const (
	// ExcerptLen is the excerpt size in characters (runes).
	ExcerptLen = 150
	// EnglishConfidence is the baseline score when the transcript is English.
	EnglishConfidence = 90
)

// Kind tags how an analysis ended.
type Kind string

const (
	KindOK             Kind = "ok"
	KindUnintelligible Kind = "unintelligible"
	KindServiceError   Kind = "service_error"
	KindAnalysisError  Kind = "analysis_error"
)

// Result is the outcome of one analysis. For every kind other than KindOK,
// Accent is empty, Confidence is 0 and Excerpt is empty.
type Result struct {
	Kind       Kind   `json:"kind"`
	Accent     string `json:"accent,omitempty"`
	Confidence int    `json:"confidence"`
	Excerpt    string `json:"excerpt,omitempty"`
	Language   string `json:"language,omitempty"` // detected language name; empty when undetermined
	Cause      string `json:"cause,omitempty"`    // error text for KindServiceError / KindAnalysisError
}

// Rule assigns an accent when the transcript contains any marker.
type Rule struct {
	Accent     string
	Confidence int
	Markers    []string
}

// Rules are evaluated top to bottom and the first match wins. "lorry"
// appears in both the British and the Australian rule; British is earlier,
// so "lorry" alone always resolves to British.
var Rules = []Rule{
	{Accent: American, Confidence: 95, Markers: []string{"color", "favorite", "neighbor"}},
	{Accent: British, Confidence: 90, Markers: []string{"aeroplane", "lorry"}},
	{Accent: Australian, Confidence: 85, Markers: []string{"bungalow", "lorry"}},
}

// Match returns the first rule with a marker contained in text. Matching is a
// case-sensitive substring test on the raw text.
func Match(rules []Rule, text string) (Rule, bool) {
	for _, r := range rules {
		for _, m := range r.Markers {
			if strings.Contains(text, m) {
				return r, true
			}
		}
	}
	return Rule{}, false
}

// Classifier combines language identification with the marker rules.
type Classifier struct {
	detector langid.Detector
	rules    []Rule
	log      zerolog.Logger
}

// New creates a classifier using the default Rules.
func New(detector langid.Detector, log zerolog.Logger) *Classifier {
	return &Classifier{
		detector: detector,
		rules:    Rules,
		log:      log.With().Str("component", "classifier").Logger(),
	}
}

// Classify scores a transcript. It depends only on text (and the detector),
// so repeated calls give identical results.
func (c *Classifier) Classify(text string) Result {
	res := Result{Kind: KindOK, Accent: Unknown}

	lang, err := c.detector.Detect(text)
	switch {
	case err == nil:
		res.Language = lang.Name
		if lang.IsEnglish() {
			res.Accent = English
			res.Confidence = EnglishConfidence
		}
	case errors.Is(err, langid.ErrUndetermined):
		c.log.Debug().Int("chars", len(text)).Msg("language undetermined, treating as unknown")
	default:
		c.log.Warn().Err(err).Msg("language detection failed, treating as unknown")
	}

	if r, ok := Match(c.rules, text); ok {
		res.Accent = r.Accent
		res.Confidence = r.Confidence
	}

	res.Excerpt = Excerpt(text)
	return res
}

// Outcome folds a transcription result into a Result. Transcription errors
// become non-fatal results with zero confidence.
func (c *Classifier) Outcome(t transcribe.Transcript, err error) Result {
	if err == nil {
		return c.Classify(t.Text)
	}

	var se *transcribe.ServiceError
	switch {
	case errors.Is(err, transcribe.ErrUnintelligible):
		return Result{Kind: KindUnintelligible}
	case errors.As(err, &se):
		return Result{Kind: KindServiceError, Cause: se.Error()}
	default:
		return Result{Kind: KindAnalysisError, Cause: err.Error()}
	}
}

// Excerpt returns the first ExcerptLen characters of text.
func Excerpt(text string) string {
	n := 0
	for i := range text {
		if n == ExcerptLen {
			return text[:i]
		}
		n++
	}
	return text
}
