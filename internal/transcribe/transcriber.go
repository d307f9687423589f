package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/audio"
	"github.com/snarg/accent-engine/internal/config"
)

// Transcript is the recognized text of one normalized file, exactly as the
// provider returned it. Blank Text never escapes Transcribe; it is reported
// as ErrUnintelligible instead.
type Transcript struct {
	Text     string
	Language string // provider's language hint, may be empty
	Provider string
	Model    string
	Duration time.Duration // wall time of the recognition call
}

// Transcriber runs one whole-file recognition call per normalized audio.
type Transcriber struct {
	provider Provider
	opts     TranscribeOpts
	log      zerolog.Logger
}

func NewTranscriber(p Provider, opts TranscribeOpts, log zerolog.Logger) *Transcriber {
	return &Transcriber{
		provider: p,
		opts:     opts,
		log:      log.With().Str("component", "transcriber").Str("provider", p.Name()).Logger(),
	}
}

// Provider returns the configured backend.
func (t *Transcriber) Provider() Provider { return t.provider }

// Transcribe blocks until the provider answers. Errors are one of
// ErrUnintelligible, *ServiceError or *Error.
func (t *Transcriber) Transcribe(ctx context.Context, a *audio.Normalized) (Transcript, error) {
	if a == nil || a.Path == "" {
		return Transcript{}, &Error{Provider: t.provider.Name(), Err: errors.New("no normalized audio")}
	}

	start := time.Now()
	resp, err := t.provider.Transcribe(ctx, a.Path, t.opts)
	took := time.Since(start)
	if err != nil {
		var se *ServiceError
		if errors.As(err, &se) || errors.Is(err, ErrUnintelligible) {
			return Transcript{}, err
		}
		return Transcript{}, &Error{Provider: t.provider.Name(), Err: err}
	}

	// Blankness is judged on a trimmed copy; the transcript keeps the
	// provider's text as returned.
	text := resp.Text
	if strings.TrimSpace(text) == "" {
		t.log.Debug().Dur("took", took).Msg("provider returned empty text")
		return Transcript{}, ErrUnintelligible
	}

	t.log.Debug().
		Int("chars", len(text)).
		Str("language", resp.Language).
		Dur("took", took).
		Msg("transcription complete")

	return Transcript{
		Text:     text,
		Language: resp.Language,
		Provider: t.provider.Name(),
		Model:    t.provider.Model(),
		Duration: took,
	}, nil
}

// NewProvider builds the provider selected by STT_PROVIDER.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.STTProvider {
	case "whisper":
		return NewWhisperClient(cfg.WhisperURL, cfg.WhisperModel, cfg.WhisperTimeout), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.WhisperTimeout), nil
	case "deepinfra":
		return NewDeepInfraClient(cfg.DeepInfraAPIKey, cfg.DeepInfraModel, cfg.WhisperTimeout), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModel, cfg.ElevenLabsKeyterm, cfg.WhisperTimeout), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}
}
