package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for file:// URLs that resolve outside every
// allowed root.
var ErrOutsideRoot = errors.New("path is outside the allowed directories")

// LocalSource copies file:// media from a fixed set of root directories. It
// exists for the watch-folder intake; HTTP callers cannot name arbitrary
// files because anything outside the roots is refused.
type LocalSource struct {
	roots []string
}

// NewLocalSource allows files under the given directories. Empty roots are
// ignored; a source with no roots refuses everything.
func NewLocalSource(roots ...string) *LocalSource {
	ls := &LocalSource{}
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		ls.roots = append(ls.roots, filepath.Clean(abs))
		if real, err := filepath.EvalSymlinks(abs); err == nil && real != abs {
			ls.roots = append(ls.roots, real)
		}
	}
	return ls
}

// FileURL turns a local path into the source string LocalSource handles.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func (l *LocalSource) Name() string { return "local" }

func (l *LocalSource) Handles(u *url.URL) bool { return u.Scheme == "file" }

func (l *LocalSource) Fetch(ctx context.Context, u *url.URL, dir string) (*Asset, error) {
	path := filepath.Clean(filepath.FromSlash(u.Path))
	if !l.allowed(path) {
		return nil, fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	// A symlink inside a root may still point elsewhere.
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}
	if !l.allowed(real) {
		return nil, fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	name := path
	path = real

	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	if fi, err := in.Stat(); err != nil {
		return nil, err
	} else if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	ext := filepath.Ext(name)
	dest := filepath.Join(dir, outputStem+strings.ToLower(ext))
	out, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, readerWithContext{ctx: ctx, r: in}); err != nil {
		out.Close()
		return nil, fmt.Errorf("copy %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	return &Asset{Path: dest, Format: formatOf(name)}, nil
}

func (l *LocalSource) allowed(path string) bool {
	for _, root := range l.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// readerWithContext stops a copy once ctx is cancelled.
type readerWithContext struct {
	ctx context.Context
	r   io.Reader
}

func (r readerWithContext) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
