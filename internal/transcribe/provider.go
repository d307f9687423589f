package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error)
	Name() string  // "whisper", "openai", "deepinfra", "elevenlabs"
	Model() string // model identifier for logs
}

// TranscribeOpts are per-request options. Zero-value fields are omitted from
// the request.
type TranscribeOpts struct {
	Temperature float64
	Language    string // ISO-639-1 hint; empty lets the provider detect
	Prompt      string
	Hotwords    string
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds
}

// ErrUnintelligible means the provider answered but recognized no speech.
var ErrUnintelligible = errors.New("could not understand the audio")

// ServiceError means the recognition service was unreachable or rejected
// the request.
type ServiceError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s request: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Error is any other transcription failure (unreadable audio file,
// undecodable response).
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transcription: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// transportError wraps a failed HTTP round trip. Anything that is not a
// *url.Error (request construction etc.) stays a plain error.
func transportError(provider string, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &ServiceError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s request: %w", provider, err)
}

// statusError reports a non-2xx reply.
func statusError(provider string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return &ServiceError{Provider: provider, StatusCode: status, Err: errors.New(msg)}
}
