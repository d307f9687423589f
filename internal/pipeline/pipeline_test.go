package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/accent"
	"github.com/snarg/accent-engine/internal/audio"
	"github.com/snarg/accent-engine/internal/langid"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu   sync.Mutex
	dirs []string
	err  error
}

func (f *fakeFetcher) Fetch(_ context.Context, source, dir string) (*media.Asset, error) {
	f.mu.Lock()
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if f.err != nil {
		return nil, &media.FetchError{Source: source, Err: f.err}
	}
	path := filepath.Join(dir, "source.webm")
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return nil, err
	}
	return &media.Asset{Path: path, Format: "webm", Source: source, Size: 5}, nil
}

type fakeNormalizer struct{ err error }

func (n fakeNormalizer) Normalize(_ context.Context, asset *media.Asset) (*audio.Normalized, error) {
	if n.err != nil {
		return nil, &audio.NormalizationError{Path: asset.Path, Err: n.err}
	}
	out := audio.OutputPath(asset.Path)
	if err := os.WriteFile(out, []byte("RIFF"), 0o644); err != nil {
		return nil, err
	}
	return &audio.Normalized{Path: out, Format: audio.Format, Source: asset}, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(_ context.Context, a *audio.Normalized) (transcribe.Transcript, error) {
	if _, err := os.Stat(a.Path); err != nil {
		return transcribe.Transcript{}, err
	}
	return transcribe.Transcript{Text: t.text, Provider: "fake"}, t.err
}

type englishDetector struct{}

func (englishDetector) Detect(string) (langid.Language, error) {
	return langid.Language{Code: "eng", Name: "English", Confidence: 1}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stage, len(r.events))
	for i, e := range r.events {
		out[i] = e.Stage
	}
	return out
}

func newTestPipeline(t *testing.T, f *fakeFetcher, n fakeNormalizer, tr fakeTranscriber, sink Sink) (*Pipeline, string) {
	t.Helper()
	work := filepath.Join(t.TempDir(), "work")
	p, err := New(Options{
		Fetcher:     f,
		Normalizer:  n,
		Transcriber: tr,
		Classifier:  accent.New(englishDetector{}, zerolog.Nop()),
		WorkDir:     work,
		Sink:        sink,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	return p, work
}

func assertEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace not cleaned up")
}

func TestRun_Success(t *testing.T) {
	global := &recorder{}
	local := &recorder{}
	f := &fakeFetcher{}
	p, work := newTestPipeline(t, f, fakeNormalizer{}, fakeTranscriber{text: "my favorite lorry"}, global)

	res, err := p.Run(context.Background(), Request{ID: "a1", Source: "https://example.com/v", Progress: local})
	require.NoError(t, err)
	assert.Equal(t, accent.Result{Kind: accent.KindOK, Accent: accent.American, Confidence: 95, Excerpt: "my favorite lorry", Language: "English"}, res)

	want := []Stage{StageStarted, StageFetched, StageNormalized, StageTranscribed, StageClassified}
	assert.Equal(t, want, global.stages())
	assert.Equal(t, want, local.stages())
	for _, e := range global.events {
		assert.Equal(t, "a1", e.AnalysisID)
		assert.False(t, e.Time.IsZero())
	}
	last := global.events[len(global.events)-1]
	require.NotNil(t, last.Result)
	assert.Equal(t, res, *last.Result)
	assert.Equal(t, len("my favorite lorry"), global.events[3].Chars)

	assertEmpty(t, work)
}

func TestRun_AssignsID(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPipeline(t, &fakeFetcher{}, fakeNormalizer{}, fakeTranscriber{text: "hello"}, rec)
	_, err := p.Run(context.Background(), Request{Source: "x"})
	require.NoError(t, err)
	require.NotEmpty(t, rec.events)
	assert.Len(t, rec.events[0].AnalysisID, 36)
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	rec := &recorder{}
	f := &fakeFetcher{err: errors.New("404")}
	p, work := newTestPipeline(t, f, fakeNormalizer{}, fakeTranscriber{text: "x"}, rec)

	_, err := p.Run(context.Background(), Request{ID: "b", Source: "https://bad"})
	var fe *media.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "error downloading media: 404", err.Error())
	assert.Equal(t, []Stage{StageStarted, StageFailed}, rec.stages())
	assert.Equal(t, err.Error(), rec.events[1].Err)
	assertEmpty(t, work)
}

func TestRun_NormalizeErrorIsFatal(t *testing.T) {
	rec := &recorder{}
	p, work := newTestPipeline(t, &fakeFetcher{}, fakeNormalizer{err: errors.New("bad codec")}, fakeTranscriber{text: "x"}, rec)

	_, err := p.Run(context.Background(), Request{ID: "c", Source: "https://v"})
	var ne *audio.NormalizationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, []Stage{StageStarted, StageFetched, StageFailed}, rec.stages())
	assertEmpty(t, work)
}

func TestRun_TranscriptionErrorsAreResults(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind accent.Kind
	}{
		{"unintelligible", transcribe.ErrUnintelligible, accent.KindUnintelligible},
		{"service", &transcribe.ServiceError{Provider: "whisper", StatusCode: 500, Err: errors.New("down")}, accent.KindServiceError},
		{"other", &transcribe.Error{Provider: "whisper", Err: errors.New("decode")}, accent.KindAnalysisError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p, work := newTestPipeline(t, &fakeFetcher{}, fakeNormalizer{}, fakeTranscriber{err: tt.err}, rec)
			res, err := p.Run(context.Background(), Request{ID: "d", Source: "https://v"})
			require.NoError(t, err)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Zero(t, res.Confidence)
			assert.Empty(t, res.Excerpt)
			assert.Equal(t, tt.err.Error(), rec.events[3].Err)
			assertEmpty(t, work)
		})
	}
}

func TestRun_DistinctWorkspaces(t *testing.T) {
	f := &fakeFetcher{}
	p, work := newTestPipeline(t, f, fakeNormalizer{}, fakeTranscriber{text: "hello"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.Background(), Request{Source: "https://v"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, d := range f.dirs {
		assert.False(t, seen[d], "workspace reused: %s", d)
		seen[d] = true
		assert.Equal(t, work, filepath.Dir(d))
	}
	assert.Len(t, seen, 8)
	assertEmpty(t, work)
}

func TestSinks(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var calls int
	s := Sinks{a, nil, SinkFunc(func(Event) { calls++ }), b}
	s.Emit(Event{Stage: StageStarted})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
	assert.Equal(t, 1, calls)
}
