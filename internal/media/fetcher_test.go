package media

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner stands in for yt-dlp: it writes a file into the output template
// directory and prints the path, or fails.
type fakeRunner struct {
	ext     string
	print   bool
	err     error
	gotArgs []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.gotArgs = args
	if f.err != nil {
		return nil, f.err
	}
	var tmpl string
	for i, a := range args {
		if a == "--output" {
			tmpl = args[i+1]
		}
	}
	path := strings.Replace(tmpl, "%(ext)s", f.ext, 1)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return nil, err
	}
	if !f.print {
		return nil, nil
	}
	return []byte("[info] something\n" + path + "\n"), nil
}

func TestYTDLPFetch(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{ext: "webm", print: true}
	f := NewFetcher(0, zerolog.Nop(), NewYTDLP("yt-dlp", r))

	asset, err := f.Fetch(context.Background(), "https://example.com/watch?v=1", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.webm"), asset.Path)
	assert.Equal(t, "webm", asset.Format)
	assert.Equal(t, int64(5), asset.Size)
	assert.Equal(t, "https://example.com/watch?v=1", asset.Source)
	assert.Contains(t, r.gotArgs, "bestaudio/best")
	assert.Equal(t, "https://example.com/watch?v=1", r.gotArgs[len(r.gotArgs)-1])
}

func TestYTDLPSourceIsNeverAnOption(t *testing.T) {
	r := &fakeRunner{ext: "webm", print: true}
	f := NewFetcher(0, zerolog.Nop(), NewYTDLP("yt-dlp", r))

	for _, src := range []string{"--exec=id", "-o/tmp/x", "--batch-file=/etc/passwd"} {
		t.Run(src, func(t *testing.T) {
			r.gotArgs = nil
			asset, err := f.Fetch(context.Background(), src, t.TempDir())
			require.Error(t, err)
			assert.Nil(t, asset)
			assert.ErrorIs(t, err, ErrOptionLikeSource)
			assert.Nil(t, r.gotArgs, "yt-dlp must not be invoked")
		})
	}

	// A real URL always follows the end-of-options marker.
	_, err := f.Fetch(context.Background(), "https://example.com/watch?v=1", t.TempDir())
	require.NoError(t, err)
	n := len(r.gotArgs)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, "--", r.gotArgs[n-2])
	assert.Equal(t, "https://example.com/watch?v=1", r.gotArgs[n-1])
}

func TestYTDLPFetchWithoutPrint(t *testing.T) {
	dir := t.TempDir()
	f := NewFetcher(0, zerolog.Nop(), NewYTDLP("", &fakeRunner{ext: "m4a"}))

	asset, err := f.Fetch(context.Background(), "https://example.com/a", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.m4a"), asset.Path)
	assert.Equal(t, "m4a", asset.Format)
}

func TestFetchErrors(t *testing.T) {
	boom := errors.New("ERROR: Unsupported URL")

	tests := []struct {
		name    string
		source  string
		sources []Source
		wantIs  error
	}{
		{"empty_source", "   ", []Source{NewYTDLP("", &fakeRunner{})}, ErrEmptySource},
		{"runner_failure", "https://nope.invalid/x", []Source{NewYTDLP("", &fakeRunner{err: boom})}, boom},
		{"no_source_for_scheme", "ftp://host/file.mp3", []Source{NewYTDLP("", &fakeRunner{})}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(0, zerolog.Nop(), tt.sources...)
			asset, err := f.Fetch(context.Background(), tt.source, t.TempDir())
			require.Error(t, err)
			assert.Nil(t, asset)

			var fe *FetchError
			require.True(t, errors.As(err, &fe), "want *FetchError, got %T", err)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			assert.True(t, strings.HasPrefix(err.Error(), "error downloading media: "))
		})
	}
}

type fakeS3 struct {
	body        string
	contentType *string
	err         error
	bucket, key string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.body)),
		ContentType: f.contentType,
	}, nil
}

func TestS3SourceFetch(t *testing.T) {
	dir := t.TempDir()
	client := &fakeS3{body: "ID3data"}
	f := NewFetcher(0, zerolog.Nop(),
		NewS3SourceWithClient(client, zerolog.Nop()),
		NewYTDLP("", &fakeRunner{err: errors.New("should not be called")}),
	)

	asset, err := f.Fetch(context.Background(), "s3://clips/2026/interview.mp3", dir)
	require.NoError(t, err)
	assert.Equal(t, "clips", client.bucket)
	assert.Equal(t, "2026/interview.mp3", client.key)
	assert.Equal(t, filepath.Join(dir, "source.mp3"), asset.Path)
	assert.Equal(t, "mp3", asset.Format)

	data, err := os.ReadFile(asset.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3data", string(data))
}

func TestS3SourceContentTypeFallback(t *testing.T) {
	ct := "audio/ogg"
	src := NewS3SourceWithClient(&fakeS3{body: "x", contentType: &ct}, zerolog.Nop())
	u, _ := url.Parse("s3://bucket/noext")
	asset, err := src.Fetch(context.Background(), u, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "ogg", asset.Format)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		raw     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://b/k.wav", "b", "k.wav", false},
		{"s3://b/dir/k.wav", "b", "dir/k.wav", false},
		{"s3://b/", "", "", true},
		{"s3:///k", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			b, k, err := parseS3URL(u)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, b)
			assert.Equal(t, tt.key, k)
		})
	}
}

func TestLocalSourceFetch(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "Clip.MP4")
	require.NoError(t, os.WriteFile(src, []byte("moov"), 0o644))

	dir := t.TempDir()
	f := NewFetcher(0, zerolog.Nop(), NewLocalSource(root), NewYTDLP("", &fakeRunner{err: errors.New("should not be called")}))
	asset, err := f.Fetch(context.Background(), FileURL(src), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "source.mp4"), asset.Path)
	assert.Equal(t, "mp4", asset.Format)
	assert.Equal(t, int64(4), asset.Size)

	// The original stays where it was.
	_, err = os.Stat(src)
	assert.NoError(t, err)
}

func TestLocalSourceRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	outside := filepath.Join(other, "secret.wav")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	f := NewFetcher(0, zerolog.Nop(), NewLocalSource(root))
	_, err := f.Fetch(context.Background(), FileURL(outside), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = f.Fetch(context.Background(), FileURL(filepath.Join(root, "..", filepath.Base(other), "secret.wav")), t.TempDir())
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestLocalSourceNoRoots(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "a.wav")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))

	u, err := url.Parse(FileURL(p))
	require.NoError(t, err)
	_, err = NewLocalSource("").Fetch(context.Background(), u, t.TempDir())
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestLocalSourceRefusesSymlinkOutOfRoot(t *testing.T) {
	root := t.TempDir()
	secret := filepath.Join(t.TempDir(), "secret.wav")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o644))
	link := filepath.Join(root, "innocent.wav")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	f := NewFetcher(0, zerolog.Nop(), NewLocalSource(root))
	_, err := f.Fetch(context.Background(), FileURL(link), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutsideRoot)

	// A link that stays inside the root is fine.
	inside := filepath.Join(root, "real.mp3")
	require.NoError(t, os.WriteFile(inside, []byte("ID3"), 0o644))
	alias := filepath.Join(root, "alias.mp3")
	require.NoError(t, os.Symlink(inside, alias))
	asset, err := f.Fetch(context.Background(), FileURL(alias), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "mp3", asset.Format)
}
