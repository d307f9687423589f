package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/snarg/accent-engine/internal/proc"
)

// outputStem is the base name every download gets inside its workspace.
const outputStem = "source"

// ErrOptionLikeSource is returned for a source that yt-dlp would parse as a
// command-line option.
var ErrOptionLikeSource = errors.New("source must not start with '-'")

// YTDLP fetches anything yt-dlp can resolve, preferring an audio-only stream
// and falling back to the best combined stream.
type YTDLP struct {
	path   string
	runner proc.Runner
}

// NewYTDLP creates a yt-dlp source. runner may be nil for os/exec.
func NewYTDLP(path string, runner proc.Runner) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	if runner == nil {
		runner = proc.ExecRunner{}
	}
	return &YTDLP{path: path, runner: runner}
}

func (y *YTDLP) Name() string { return "yt-dlp" }

// Handles accepts http(s) URLs and bare strings; yt-dlp does its own
// extractor matching and reports unsupported URLs itself.
func (y *YTDLP) Handles(u *url.URL) bool {
	switch u.Scheme {
	case "http", "https", "":
		return true
	}
	return false
}

// Available reports whether the yt-dlp binary can be found.
func (y *YTDLP) Available() bool { return proc.Available(y.path) }

func (y *YTDLP) Fetch(ctx context.Context, u *url.URL, dir string) (*Asset, error) {
	source := u.String()
	if strings.HasPrefix(strings.TrimSpace(source), "-") {
		return nil, ErrOptionLikeSource
	}

	tmpl := filepath.Join(dir, outputStem+".%(ext)s")
	out, err := y.runner.Run(ctx, y.path,
		"--format", "bestaudio/best",
		"--no-playlist",
		"--no-progress",
		"--output", tmpl,
		"--print", "after_move:filepath",
		"--",
		source,
	)
	if err != nil {
		return nil, err
	}

	path := lastLine(string(out))
	if path == "" {
		// Older yt-dlp builds don't support --print after_move; look for what it wrote.
		matches, _ := filepath.Glob(filepath.Join(dir, outputStem+".*"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("yt-dlp produced no output file")
		}
		path = matches[0]
	}
	if rel, err := filepath.Rel(dir, path); err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("yt-dlp wrote outside the workspace: %s", path)
	}
	return &Asset{Path: path, Format: formatOf(path)}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
