package transcribe

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient uses the OpenAI audio transcription API through go-openai.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may be empty for api.openai.com.
func NewOpenAIClient(apiKey, model, baseURL string, timeout time.Duration) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (oc *OpenAIClient) Name() string { return "openai" }

func (oc *OpenAIClient) Model() string { return oc.model }

func (oc *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts TranscribeOpts) (*Response, error) {
	resp, err := oc.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       oc.model,
		FilePath:    audioPath,
		Prompt:      opts.Prompt,
		Temperature: float32(opts.Temperature),
		Language:    opts.Language,
		Format:      openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, oc.classify(err)
	}
	return &Response{
		Text:     resp.Text,
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}

// classify maps go-openai errors onto the package taxonomy: API rejections
// and transport failures are service errors, the rest (e.g. unreadable file)
// pass through.
func (oc *OpenAIClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{Provider: oc.Name(), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ServiceError{Provider: oc.Name(), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return &ServiceError{Provider: oc.Name(), Err: err}
	}
	return err
}
