package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/audio"
	"github.com/snarg/accent-engine/internal/config"
	"github.com/snarg/accent-engine/internal/langid"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/proc"
	"github.com/snarg/accent-engine/internal/transcribe"
)

// Assembly is a pipeline built from config plus the pieces callers report on.
type Assembly struct {
	*Pipeline
	Provider transcribe.Provider
	Tools    map[string]func() bool // external binaries by name
}

// FromConfig wires the production stages: yt-dlp, S3 and watch-folder
// fetching, ffmpeg normalization, the configured STT provider and the
// marker classifier.
func FromConfig(cfg *config.Config, sink Sink, log zerolog.Logger) (*Assembly, error) {
	runner := proc.ExecRunner{}

	ytdlp := media.NewYTDLP(cfg.YTDLPPath, runner)
	sources := []media.Source{ytdlp}
	s3src, err := media.NewS3Source(cfg.S3, log)
	if err != nil {
		log.Warn().Err(err).Msg("s3 source unavailable, s3:// URLs will be rejected")
	} else {
		sources = append(sources, s3src)
	}
	if cfg.WatchDir != "" {
		sources = append(sources, media.NewLocalSource(cfg.WatchDir))
	}
	fetcher := media.NewFetcher(cfg.FetchTimeout, log, sources...)

	normalizer := audio.NewNormalizer(audio.Options{
		FFmpegPath: cfg.FFmpegPath,
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Preprocess: cfg.PreprocessAudio,
		Runner:     runner,
		Log:        log,
	})
	if cfg.PreprocessAudio {
		if normalizer.PreprocessEnabled() {
			log.Info().Msg("audio preprocessing enabled (sox found)")
		} else {
			log.Warn().Msg("PREPROCESS_AUDIO=true but sox not found in PATH; preprocessing disabled")
		}
	}

	provider, err := transcribe.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("stt provider: %w", err)
	}
	transcriber := transcribe.NewTranscriber(provider, transcribe.TranscribeOpts{Language: cfg.WhisperLanguage}, log)

	classifier := accent.New(langid.NewWhatlang(cfg.LangIDMinConfidence), log)

	p, err := New(Options{
		Fetcher:     fetcher,
		Normalizer:  normalizer,
		Transcriber: transcriber,
		Classifier:  classifier,
		WorkDir:     cfg.WorkDir,
		Sink:        sink,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	return &Assembly{
		Pipeline: p,
		Provider: provider,
		Tools: map[string]func() bool{
			"ffmpeg": normalizer.CheckFFmpeg,
			"yt-dlp": ytdlp.Available,
		},
	}, nil
}
