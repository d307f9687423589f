package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/audio"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/metrics"
	"github.com/snarg/accent-engine/internal/transcribe"
)

// Stage collaborators. The concrete types live in media, audio, transcribe
// and accent.
type (
	Fetcher interface {
		Fetch(ctx context.Context, source, dir string) (*media.Asset, error)
	}
	Normalizer interface {
		Normalize(ctx context.Context, asset *media.Asset) (*audio.Normalized, error)
	}
	Transcriber interface {
		Transcribe(ctx context.Context, a *audio.Normalized) (transcribe.Transcript, error)
	}
	Classifier interface {
		Outcome(t transcribe.Transcript, err error) accent.Result
	}
)

// Request is one analysis. It carries everything scoped to the invocation;
// nothing outlives Run.
type Request struct {
	ID       string
	Source   string
	Progress Sink // optional per-request listener
}

// Options wires the stages together.
type Options struct {
	Fetcher     Fetcher
	Normalizer  Normalizer
	Transcriber Transcriber
	Classifier  Classifier
	WorkDir     string // parent of per-analysis workspaces; "" = os.TempDir()
	Sink        Sink   // receives every event from every run
	Log         zerolog.Logger
}

// Pipeline runs fetch -> normalize -> transcribe -> classify. Each run gets
// its own workspace directory, so runs can overlap safely.
type Pipeline struct {
	opts Options
	log  zerolog.Logger
}

func New(opts Options) (*Pipeline, error) {
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
	}
	return &Pipeline{
		opts: opts,
		log:  opts.Log.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Run executes all four stages in order. A fetch or normalize failure is
// returned as an error and no Result is produced. Transcription failures are
// folded into the Result and Run returns a nil error.
func (p *Pipeline) Run(ctx context.Context, req Request) (accent.Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	log := p.log.With().Str("analysis_id", req.ID).Logger()
	emit := func(e Event) {
		e.AnalysisID = req.ID
		e.Time = time.Now().UTC()
		if p.opts.Sink != nil {
			p.opts.Sink.Emit(e)
		}
		if req.Progress != nil {
			req.Progress.Emit(e)
		}
	}

	dir, err := os.MkdirTemp(p.opts.WorkDir, "analysis-")
	if err != nil {
		return accent.Result{}, fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("workspace cleanup failed")
		}
	}()

	runStart := time.Now()
	emit(Event{Stage: StageStarted, Source: req.Source})

	start := time.Now()
	asset, err := p.opts.Fetcher.Fetch(ctx, req.Source, dir)
	metrics.ObserveStage("fetch", start)
	if err != nil {
		return p.fail(log, emit, "fetch", err)
	}
	emit(Event{Stage: StageFetched, Source: req.Source, Path: asset.Path, Format: asset.Format})

	start = time.Now()
	norm, err := p.opts.Normalizer.Normalize(ctx, asset)
	metrics.ObserveStage("normalize", start)
	if err != nil {
		return p.fail(log, emit, "normalize", err)
	}
	emit(Event{Stage: StageNormalized, Path: norm.Path, Format: norm.Format})

	start = time.Now()
	tr, terr := p.opts.Transcriber.Transcribe(ctx, norm)
	metrics.ObserveStage("transcribe", start)
	te := Event{Stage: StageTranscribed, Chars: len(tr.Text)}
	if terr != nil {
		te.Err = terr.Error()
	}
	emit(te)

	start = time.Now()
	res := p.opts.Classifier.Outcome(tr, terr)
	metrics.ObserveStage("classify", start)
	metrics.AnalysesTotal.WithLabelValues(string(res.Kind)).Inc()
	emit(Event{Stage: StageClassified, Result: &res})

	log.Info().
		Str("kind", string(res.Kind)).
		Str("accent", res.Accent).
		Int("confidence", res.Confidence).
		Dur("took", time.Since(runStart)).
		Msg("analysis complete")
	return res, nil
}

func (p *Pipeline) fail(log zerolog.Logger, emit func(Event), stage string, err error) (accent.Result, error) {
	metrics.FailuresTotal.WithLabelValues(stage).Inc()
	emit(Event{Stage: StageFailed, Err: err.Error()})
	log.Warn().Err(err).Str("stage", stage).Msg("analysis failed")
	return accent.Result{}, err
}
