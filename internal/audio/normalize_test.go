package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes the last argument (the output path) unless told to fail.
type fakeFFmpeg struct {
	err   error
	empty bool
	args  []string
}

func (f *fakeFFmpeg) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	data := []byte("RIFF....WAVEfmt ")
	if f.empty {
		data = nil
	}
	return nil, os.WriteFile(args[len(args)-1], data, 0o644)
}

func newAsset(t *testing.T, name string) *media.Asset {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("container"), 0o644))
	return &media.Asset{Path: p, Format: "webm"}
}

func TestNormalize(t *testing.T) {
	ff := &fakeFFmpeg{}
	n := NewNormalizer(Options{Runner: ff, Log: zerolog.Nop()})
	asset := newAsset(t, "source.webm")

	out, err := n.Normalize(context.Background(), asset)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(asset.Path), "source.wav"), out.Path)
	assert.Equal(t, "wav", out.Format)
	assert.Same(t, asset, out.Source)
	assert.FileExists(t, out.Path)

	assert.Contains(t, ff.args, "pcm_s16le")
	assert.NotContains(t, ff.args, "-ar", "no resampling unless configured")
	assert.NotContains(t, ff.args, "-ac")
}

func TestNormalizeResampleOptions(t *testing.T) {
	ff := &fakeFFmpeg{}
	n := NewNormalizer(Options{Runner: ff, SampleRate: 16000, Channels: 1, Log: zerolog.Nop()})
	_, err := n.Normalize(context.Background(), newAsset(t, "source.mp4"))
	require.NoError(t, err)
	assert.Contains(t, ff.args, "16000")
	assert.Contains(t, ff.args, "-ac")
}

func TestNormalizeMissingAsset(t *testing.T) {
	n := NewNormalizer(Options{Runner: &fakeFFmpeg{}, Log: zerolog.Nop()})

	_, err := n.Normalize(context.Background(), &media.Asset{Path: filepath.Join(t.TempDir(), "gone.mp4")})
	assert.ErrorIs(t, err, ErrAssetMissing)

	_, err = n.Normalize(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAssetMissing)
}

func TestNormalizeDecodeFailure(t *testing.T) {
	boom := errors.New("Invalid data found when processing input")
	n := NewNormalizer(Options{Runner: &fakeFFmpeg{err: boom}, Log: zerolog.Nop()})

	_, err := n.Normalize(context.Background(), newAsset(t, "source.mp4"))
	var ne *NormalizationError
	require.ErrorAs(t, err, &ne)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrAssetMissing)
}

func TestNormalizeEmptyOutput(t *testing.T) {
	asset := newAsset(t, "source.mp4")
	n := NewNormalizer(Options{Runner: &fakeFFmpeg{empty: true}, Log: zerolog.Nop()})

	_, err := n.Normalize(context.Background(), asset)
	var ne *NormalizationError
	require.ErrorAs(t, err, &ne)
	assert.NoFileExists(t, OutputPath(asset.Path))
}

func TestOutputPath(t *testing.T) {
	tests := map[string]string{
		"/w/source.mp4":  "/w/source.wav",
		"/w/source.webm": "/w/source.wav",
		"/w/source.wav":  "/w/source.pcm.wav",
		"/w/source.WAV":  "/w/source.pcm.wav",
		"/w/source":      "/w/source.wav",
	}
	for in, want := range tests {
		assert.Equal(t, want, OutputPath(in), in)
	}
}
