package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/accent-engine/internal/audio"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/pipeline"
	"github.com/snarg/accent-engine/internal/present"
)

// Submitter accepts analysis requests. *pipeline.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (<-chan pipeline.Outcome, error)
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	URL string `json:"url"`
}

// ProgressMessage is streamed for each completed stage.
type ProgressMessage struct {
	ID      string         `json:"id"`
	Stage   pipeline.Stage `json:"stage"`
	Message string         `json:"message"`
}

type AnalyzeHandler struct {
	pool    Submitter
	origins []string // websocket origin allowlist; empty allows all
}

func NewAnalyzeHandler(pool Submitter, origins []string) *AnalyzeHandler {
	return &AnalyzeHandler{pool: pool, origins: origins}
}

// Analyze runs one analysis. The response is a single JSON View, or an SSE
// stream of progress events ending in a result or error event when the
// client accepts text/event-stream.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := DecodeJSON(r, &body); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	source := strings.TrimSpace(body.URL)
	if source == "" {
		WriteError(w, http.StatusBadRequest, "url is required")
		return
	}

	id := uuid.NewString()
	progress := newProgressChan()
	done, err := h.pool.Submit(r.Context(), pipeline.Request{ID: id, Source: source, Progress: progress})
	if err != nil {
		status, msg := errorStatus(err)
		WriteErrorDetail(w, status, msg, err.Error())
		return
	}
	w.Header().Set("X-Analysis-ID", id)

	log := hlog.FromRequest(r).With().Str("analysis_id", id).Logger()
	if wantsEventStream(r) {
		if flusher, ok := w.(http.Flusher); ok {
			h.stream(r.Context(), w, flusher, id, progress, done)
			return
		}
		log.Warn().Msg("streaming not supported, answering with JSON")
	}

	select {
	case out := <-done:
		if out.Err != nil {
			status, msg := errorStatus(out.Err)
			WriteErrorDetail(w, status, msg, out.Err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, present.NewView(id, out.Result))
	case <-r.Context().Done():
		log.Info().Msg("client went away before analysis finished")
	}
}

func (h *AnalyzeHandler) stream(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, id string, progress progressChan, done <-chan pipeline.Outcome) {
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		writeSSE(w, "", event, data)
		flusher.Flush()
	}
	sendProgress := func(e pipeline.Event) {
		send("progress", ProgressMessage{ID: id, Stage: e.Stage, Message: present.StageMessage(e)})
	}

	for {
		select {
		case e := <-progress:
			sendProgress(e)
		case out := <-done:
			// Every event was emitted before the outcome was delivered.
			progress.drain(sendProgress)
			if out.Err != nil {
				_, msg := errorStatus(out.Err)
				send("error", ErrorResponse{Error: msg, Detail: out.Err.Error()})
				return
			}
			send("result", present.NewView(id, out.Result))
			return
		case <-ctx.Done():
			return
		}
	}
}

// Routes registers analysis routes on the given router.
func (h *AnalyzeHandler) Routes(r chi.Router) {
	r.Post("/analyze", h.Analyze)
	r.Get("/analyze/ws", h.Socket)
}

// errorStatus maps a fatal analysis error to an HTTP status and message.
func errorStatus(err error) (int, string) {
	var fe *media.FetchError
	var ne *audio.NormalizationError
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable, "analysis queue is full, try again later"
	case errors.Is(err, pipeline.ErrPoolStopped):
		return http.StatusServiceUnavailable, "service is shutting down"
	case errors.Is(err, media.ErrEmptySource):
		return http.StatusBadRequest, "url is required"
	case errors.As(err, &fe):
		return http.StatusUnprocessableEntity, "error downloading media"
	case errors.As(err, &ne), errors.Is(err, audio.ErrAssetMissing):
		return http.StatusUnprocessableEntity, "error converting audio"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "analysis cancelled"
	default:
		return http.StatusInternalServerError, "analysis failed"
	}
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// progressChan buffers one run's stage events. A run emits at most five,
// so sends never block; extras are dropped rather than stall a worker.
type progressChan chan pipeline.Event

func newProgressChan() progressChan { return make(progressChan, 16) }

func (p progressChan) Emit(e pipeline.Event) {
	select {
	case p <- e:
	default:
	}
}

func (p progressChan) drain(fn func(pipeline.Event)) {
	for {
		select {
		case e := <-p:
			fn(e)
		default:
			return
		}
	}
}
