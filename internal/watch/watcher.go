// Package watch turns media files dropped into a directory into analyses.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/snarg/accent-engine/internal/media"
	"github.com/snarg/accent-engine/internal/metrics"
	"github.com/snarg/accent-engine/internal/pipeline"
)

// Submitter accepts analysis requests. *pipeline.Pool satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (<-chan pipeline.Outcome, error)
}

// Options configures a Watcher.
type Options struct {
	Dir        string
	Extensions []string // lowercase, no dot
	Backfill   bool     // analyze files already present at Start
	Settle     time.Duration
	Submitter  Submitter
	Log        zerolog.Logger
}

// Status is a snapshot for the health endpoint.
type Status struct {
	Status    string `json:"status"` // starting, backfilling, watching or stopped
	Dir       string `json:"dir"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Failed    int64  `json:"failed"`
	Skipped   int64  `json:"skipped"`
}

// maxRetryDelay caps the back-off used while the analysis queue is full.
const maxRetryDelay = 30 * time.Second

// Watcher monitors a directory tree with fsnotify. A file is submitted once
// it has stopped changing for the settle period; an unchanged file is never
// submitted twice.
type Watcher struct {
	opts Options
	exts map[string]bool
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	timers  map[string]*time.Timer
	seen    map[string]fileStamp

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	status    atomic.Value // string
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// New creates a watcher. Settle <= 0 defaults to 500ms.
func New(opts Options) *Watcher {
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		exts[strings.TrimPrefix(strings.ToLower(e), ".")] = true
	}
	w := &Watcher{
		opts:   opts,
		exts:   exts,
		log:    opts.Log.With().Str("component", "watcher").Logger(),
		timers: make(map[string]*time.Timer),
		seen:   make(map[string]fileStamp),
	}
	w.status.Store("starting")
	return w
}

// Start adds every directory under Dir to the watch set and begins
// watching. Analyses it submits run under ctx.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw
	w.ctx, w.cancel = context.WithCancel(ctx)

	dirCount := 0
	err = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == w.opts.Dir {
				return err
			}
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := fw.Add(path); addErr != nil {
				w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		fw.Close()
		w.cancel()
		return err
	}

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.opts.Dir).
		Strs("extensions", w.opts.Extensions).
		Msg("file watcher initialized")

	w.wg.Add(1)
	go w.watchLoop()

	if w.opts.Backfill {
		w.wg.Add(1)
		go w.backfill()
	} else {
		w.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher, cancels pending timers and in-flight
// analyses, and waits for its goroutines.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.cancel != nil {
		w.cancel()
	}
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.mu.Lock()
	w.stopped = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info().
		Int64("submitted", w.submitted.Load()).
		Int64("completed", w.completed.Load()).
		Int64("failed", w.failed.Load()).
		Int64("skipped", w.skipped.Load()).
		Msg("file watcher stopped")
}

// Status returns the current watcher counters.
func (w *Watcher) Status() Status {
	s, _ := w.status.Load().(string)
	return Status{
		Status:    s,
		Dir:       w.opts.Dir,
		Submitted: w.submitted.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Skipped:   w.skipped.Load(),
	}
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				w.addTree(event.Name)
				continue
			}

			if !w.wanted(event.Name) {
				continue
			}
			w.schedule(event.Name, w.opts.Settle)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// addTree watches a newly created directory and everything below it. Nested
// directories made in one go (MkdirAll, a moved-in tree) exist before their
// parent is watched, so they raise no events of their own; media already
// inside them is scheduled here instead.
func (w *Watcher) addTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking new directory")
			return nil
		}
		if d.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				w.log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
			} else {
				w.log.Debug().Str("path", path).Msg("watching new directory")
			}
			return nil
		}
		if w.wanted(path) {
			w.schedule(path, w.opts.Settle)
		}
		return nil
	})
}

func (w *Watcher) wanted(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return w.exts[strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")]
}

// schedule (re)starts the timer for path. Every new write pushes the
// submission back, so a file still being copied in is not picked up early.
func (w *Watcher) schedule(path string, delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if t, ok := w.timers[path]; ok {
		t.Reset(delay)
		return
	}
	w.timers[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.process(path, delay)
	})
}

func (w *Watcher) process(path string, delay time.Duration) {
	if w.ctx.Err() != nil {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		// Removed or renamed before it settled.
		w.log.Debug().Err(err).Str("path", path).Msg("watched file vanished")
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}

	w.mu.Lock()
	prev, dup := w.seen[path]
	w.mu.Unlock()
	if dup && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
		w.skipped.Add(1)
		metrics.WatchFilesTotal.WithLabelValues("unchanged").Inc()
		return
	}
	if info.Size() == 0 {
		w.skipped.Add(1)
		metrics.WatchFilesTotal.WithLabelValues("empty").Inc()
		return
	}

	req := pipeline.Request{Source: media.FileURL(path)}
	done, err := w.opts.Submitter.Submit(w.ctx, req)
	switch {
	case errors.Is(err, pipeline.ErrQueueFull):
		next := min(delay*2, maxRetryDelay)
		w.log.Debug().Str("path", path).Dur("retry_in", next).Msg("analysis queue full, retrying later")
		metrics.WatchFilesTotal.WithLabelValues("deferred").Inc()
		w.schedule(path, next)
		return
	case err != nil:
		w.skipped.Add(1)
		metrics.WatchFilesTotal.WithLabelValues("rejected").Inc()
		w.log.Warn().Err(err).Str("path", path).Msg("failed to submit watched file")
		return
	}

	w.submitted.Add(1)
	metrics.WatchFilesTotal.WithLabelValues("submitted").Inc()
	w.log.Info().Str("path", path).Msg("watched file submitted")

	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[path] = stamp
	if w.stopped {
		return
	}
	w.wg.Add(1)
	go w.await(path, done)
}

// await logs the outcome. Results reach subscribers through the pipeline's
// event sinks, so nothing is written next to the file.
func (w *Watcher) await(path string, done <-chan pipeline.Outcome) {
	defer w.wg.Done()
	select {
	case out := <-done:
		if out.Err != nil {
			w.failed.Add(1)
			w.log.Warn().Err(out.Err).Str("path", path).Msg("watched file analysis failed")
			return
		}
		w.completed.Add(1)
		w.log.Info().
			Str("path", path).
			Str("kind", string(out.Result.Kind)).
			Str("accent", out.Result.Accent).
			Msg("watched file analyzed")
	case <-w.ctx.Done():
	}
}

// backfill submits media already in the tree, oldest first. Files the queue
// cannot take yet are retried with the same back-off as live events.
func (w *Watcher) backfill() {
	defer w.wg.Done()
	w.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry
	_ = filepath.WalkDir(w.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !w.wanted(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	w.log.Info().Int("files", len(files)).Msg("backfill starting")
	for _, f := range files {
		if w.ctx.Err() != nil {
			w.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
		w.process(f.path, w.opts.Settle)
	}

	if w.ctx.Err() == nil {
		w.status.Store("watching")
	}
	w.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}
