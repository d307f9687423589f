package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/proc"
)

// Format is the canonical container every normalized file uses.
const Format = "wav"

// ErrAssetMissing is returned when the fetched file is not on disk.
var ErrAssetMissing = errors.New("audio file not found")

// NormalizationError wraps a decode or encode failure.
type NormalizationError struct {
	Path string
	Err  error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("error converting audio: %v", e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// Normalized is a 16-bit linear PCM WAV file derived from a fetched asset.
type Normalized struct {
	Path   string
	Format string
	Source *media.Asset
}

// Options configures the normalizer. Zero SampleRate/Channels keep whatever
// the decoder produces.
type Options struct {
	FFmpegPath string
	SampleRate int
	Channels   int
	Preprocess bool // sox voice-band cleanup after conversion
	Runner     proc.Runner
	Log        zerolog.Logger
}

// Normalizer converts any container ffmpeg can decode into canonical PCM WAV.
type Normalizer struct {
	opts   Options
	runner proc.Runner
	log    zerolog.Logger
}

func NewNormalizer(opts Options) *Normalizer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	runner := opts.Runner
	if runner == nil {
		runner = proc.ExecRunner{}
	}
	return &Normalizer{
		opts:   opts,
		runner: runner,
		log:    opts.Log.With().Str("component", "normalizer").Logger(),
	}
}

// CheckFFmpeg reports whether the configured ffmpeg binary can be found.
func (n *Normalizer) CheckFFmpeg() bool { return proc.Available(n.opts.FFmpegPath) }

// PreprocessEnabled reports whether sox cleanup is configured and usable.
func (n *Normalizer) PreprocessEnabled() bool { return n.opts.Preprocess && CheckSox() }

// Normalize decodes the whole asset and writes a WAV next to it with the same
// base name. Input format is detected from content, not the extension.
func (n *Normalizer) Normalize(ctx context.Context, asset *media.Asset) (*Normalized, error) {
	if asset == nil || asset.Path == "" {
		return nil, ErrAssetMissing
	}
	if _, err := os.Stat(asset.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetMissing, asset.Path)
		}
		return nil, &NormalizationError{Path: asset.Path, Err: err}
	}

	out := OutputPath(asset.Path)
	if _, err := n.runner.Run(ctx, n.opts.FFmpegPath, n.ffmpegArgs(asset.Path, out)...); err != nil {
		os.Remove(out)
		return nil, &NormalizationError{Path: asset.Path, Err: err}
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		os.Remove(out)
		return nil, &NormalizationError{Path: asset.Path, Err: fmt.Errorf("ffmpeg produced no audio for %s", filepath.Base(asset.Path))}
	}

	if n.opts.Preprocess {
		if cleaned, err := Preprocess(ctx, n.runner, out); err != nil {
			n.log.Warn().Err(err).Msg("preprocessing failed, using unfiltered audio")
		} else if cleaned != out {
			if err := os.Rename(cleaned, out); err != nil {
				os.Remove(cleaned)
				n.log.Warn().Err(err).Msg("could not replace audio with preprocessed copy")
			}
		}
	}

	n.log.Debug().Str("input", asset.Path).Str("output", out).Msg("audio normalized")
	return &Normalized{Path: out, Format: Format, Source: asset}, nil
}

func (n *Normalizer) ffmpegArgs(in, out string) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y", "-i", in, "-vn", "-acodec", "pcm_s16le"}
	if n.opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(n.opts.SampleRate))
	}
	if n.opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(n.opts.Channels))
	}
	return append(args, "-f", Format, out)
}

// OutputPath substitutes the canonical extension. A source that is already
// .wav gets a distinct name so ffmpeg never reads and writes the same file.
func OutputPath(in string) string {
	ext := filepath.Ext(in)
	base := strings.TrimSuffix(in, ext)
	if strings.EqualFold(ext, "."+Format) {
		return base + ".pcm." + Format
	}
	return base + "." + Format
}
