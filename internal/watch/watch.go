// Package watch turns a drop folder into a source of analysis jobs. Video
// files are queued once their size and modification time have stopped
// changing for the settle interval, so copies in progress are not picked
// up half written.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/jobs"
	"github.com/gwlsn/vidproof/internal/logger"
)

// Prober probes a dropped file before it is queued.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Enqueuer accepts probed files. *jobs.Queue satisfies it.
type Enqueuer interface {
	Add(probe *ffmpeg.ProbeResult) (*jobs.Job, error)
}

// fileState is what was last observed for a tracked file.
type fileState struct {
	size    int64
	modTime time.Time
	changed time.Time // when size or modTime last moved
}

// Watcher monitors one directory (not recursively).
type Watcher struct {
	dir    string
	settle time.Duration
	tick   time.Duration
	prober Prober
	queue  Enqueuer

	mu      sync.Mutex
	pending map[string]fileState
	queued  map[string]fileState // files already handed to the queue
	now     func() time.Time
}

// New creates a Watcher for dir. settle <= 0 uses five seconds.
func New(dir string, settle time.Duration, prober Prober, queue Enqueuer) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 5 * time.Second
	}
	tick := settle / 4
	if tick > time.Second {
		tick = time.Second
	}
	return &Watcher{
		dir:     abs,
		settle:  settle,
		tick:    tick,
		prober:  prober,
		queue:   queue,
		pending: make(map[string]fileState),
		queued:  make(map[string]fileState),
		now:     time.Now,
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Run watches until ctx is cancelled. Files already present when Run starts
// are treated like new drops.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("scan watch dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.track(filepath.Join(w.dir, e.Name()))
		}
	}

	logger.Info("Watching drop folder", "dir", w.dir, "settle", w.settle)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.track(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error", "dir", w.dir, "error", err)

		case <-ticker.C:
			w.enqueueSettled(ctx)
		}
	}
}

// candidate reports whether name could be an evidence file.
func candidate(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, suffix := range []string{".part", ".tmp", ".crdownload"} {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			return false
		}
	}
	return ffmpeg.IsVideoFile(base)
}

// track records the current size of path, restarting its settle timer when
// it changed.
func (w *Watcher) track(path string) {
	if !candidate(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if q, ok := w.queued[path]; ok && q.size == info.Size() && q.modTime.Equal(info.ModTime()) {
		return
	}
	st, ok := w.pending[path]
	if !ok || st.size != info.Size() || !st.modTime.Equal(info.ModTime()) {
		w.pending[path] = fileState{size: info.Size(), modTime: info.ModTime(), changed: w.now()}
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	delete(w.queued, path)
	w.mu.Unlock()
}

// enqueueSettled re-stats pending files and queues those unchanged for the
// settle interval. Probing happens without the lock held.
func (w *Watcher) enqueueSettled(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	var ready []string
	for path, st := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != st.size || !info.ModTime().Equal(st.modTime) {
			w.pending[path] = fileState{size: info.Size(), modTime: info.ModTime(), changed: now}
			continue
		}
		if now.Sub(st.changed) >= w.settle {
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.enqueue(ctx, path)
	}
}

func (w *Watcher) enqueue(ctx context.Context, path string) {
	w.mu.Lock()
	st, ok := w.pending[path]
	delete(w.pending, path)
	w.mu.Unlock()
	if !ok {
		return
	}

	probe, err := w.prober.Probe(ctx, path)
	if err != nil {
		// Queue it anyway so the failure is recorded against the file
		logger.Warn("Dropped file could not be probed", "path", path, "error", err)
		probe = &ffmpeg.ProbeResult{Path: path, Size: st.size}
	}

	job, err := w.queue.Add(probe)
	if err != nil {
		logger.Error("Failed to queue dropped file", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	w.queued[path] = st
	w.mu.Unlock()

	logger.Info("Queued dropped file", "path", path, "job", job.ID, "status", job.Status)
}
