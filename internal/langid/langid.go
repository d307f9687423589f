// Package langid identifies the natural language of a transcript.
package langid

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// ErrUndetermined means the text was too short or ambiguous to identify.
// Callers treat it as "unknown", never as a failure.
var ErrUndetermined = errors.New("language could not be determined")

// Language is a detected natural language.
type Language struct {
	Code       string  // ISO 639-3, e.g. "eng"
	Name       string  // English name, e.g. "English"
	Confidence float64 // 0..1
}

// Detector identifies the language of a text.
type Detector interface {
	Detect(text string) (Language, error)
}

// Whatlang detects languages with whatlanggo's trigram model.
type Whatlang struct {
	minConfidence float64
}

// NewWhatlang creates a detector that rejects results below minConfidence.
func NewWhatlang(minConfidence float64) *Whatlang {
	return &Whatlang{minConfidence: minConfidence}
}

func (w *Whatlang) Detect(text string) (Language, error) {
	if strings.TrimSpace(text) == "" {
		return Language{}, ErrUndetermined
	}

	info := whatlanggo.Detect(text)
	name := info.Lang.String()
	if info.Lang < 0 || name == "" {
		return Language{}, ErrUndetermined
	}
	if info.Confidence < w.minConfidence {
		return Language{}, ErrUndetermined
	}

	return Language{
		Code:       info.Lang.Iso6393(),
		Name:       name,
		Confidence: info.Confidence,
	}, nil
}

// IsEnglish reports whether the language name mentions English, case-insensitively.
func (l Language) IsEnglish() bool {
	return strings.Contains(strings.ToLower(l.Name), "english")
}
