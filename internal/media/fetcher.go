package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptySource is returned (wrapped in a FetchError) for a blank source.
var ErrEmptySource = errors.New("source URL is empty")

// Asset is a fetched media file on local disk.
type Asset struct {
	Path   string
	Format string // container tag, usually the file extension without the dot
	Source string
	Size   int64
}

// FetchError wraps any failure to retrieve a source.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error downloading media: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Source retrieves one kind of media location into a directory.
type Source interface {
	Name() string
	Handles(u *url.URL) bool
	Fetch(ctx context.Context, u *url.URL, dir string) (*Asset, error)
}

// Fetcher picks the first Source that handles a URL and materializes the
// media into the caller's directory.
type Fetcher struct {
	sources []Source
	timeout time.Duration
	log     zerolog.Logger
}

// NewFetcher creates a fetcher that tries sources in order. timeout <= 0
// means no deadline beyond the caller's context.
func NewFetcher(timeout time.Duration, log zerolog.Logger, sources ...Source) *Fetcher {
	return &Fetcher{
		sources: sources,
		timeout: timeout,
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch downloads source into dir. Every failure is a *FetchError; no retry
// is attempted.
func (f *Fetcher) Fetch(ctx context.Context, source, dir string) (*Asset, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, &FetchError{Source: source, Err: ErrEmptySource}
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}

	src := f.pick(u)
	if src == nil {
		return nil, &FetchError{Source: source, Err: fmt.Errorf("unsupported URL scheme %q", u.Scheme)}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	start := time.Now()
	asset, err := src.Fetch(ctx, u, dir)
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}
	asset.Source = source
	if fi, err := os.Stat(asset.Path); err == nil {
		asset.Size = fi.Size()
	} else {
		return nil, &FetchError{Source: source, Err: fmt.Errorf("%s reported %s but it is not on disk: %w", src.Name(), asset.Path, err)}
	}
	if asset.Format == "" {
		asset.Format = formatOf(asset.Path)
	}

	f.log.Debug().
		Str("source", src.Name()).
		Str("path", asset.Path).
		Str("format", asset.Format).
		Int64("bytes", asset.Size).
		Dur("took", time.Since(start)).
		Msg("media fetched")
	return asset, nil
}

func (f *Fetcher) pick(u *url.URL) Source {
	for _, s := range f.sources {
		if s.Handles(u) {
			return s
		}
	}
	return nil
}

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
