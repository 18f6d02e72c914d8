package browse

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

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/logger"
)

// maxConcurrentProbes bounds ffprobe processes started by one call.
const maxConcurrentProbes = 16

// ErrOutsideRoot is returned for paths that escape the evidence root.
var ErrOutsideRoot = errors.New("path is outside the evidence root")

// Prober is the subset of ffmpeg.Prober the browser needs.
type Prober interface {
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// ProgressCallback is called during file discovery to report progress
type ProgressCallback func(probed, total int)

// Entry represents a file or directory in the browser
type Entry struct {
	Name      string              `json:"name"`
	Path      string              `json:"path"`
	IsDir     bool                `json:"is_dir"`
	Size      int64               `json:"size"`
	SizeHuman string              `json:"size_human"`
	ModTime   time.Time           `json:"mod_time"`
	VideoInfo *ffmpeg.ProbeResult `json:"video_info,omitempty"`
	ProbeErr  string              `json:"probe_error,omitempty"` // ffprobe could not read the file
	FileCount int                 `json:"file_count,omitempty"`  // For directories: number of video files
	TotalSize int64               `json:"total_size,omitempty"`  // For directories: total size of video files
}

// BrowseResult contains the result of browsing a directory
type BrowseResult struct {
	Path       string   `json:"path"`
	Parent     string   `json:"parent,omitempty"`
	Entries    []*Entry `json:"entries"`
	VideoCount int      `json:"video_count"`
	TotalSize  int64    `json:"total_size"`
	TotalHuman string   `json:"total_human"`
}

// Browser lists evidence files under a root directory. Probe results are
// kept in the injected cache.
type Browser struct {
	prober Prober
	root   string
	cache  *ProbeCache
}

// NewBrowser creates a Browser. A nil cache gets a private one with the
// default TTL.
func NewBrowser(prober Prober, root string, cache *ProbeCache) *Browser {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = filepath.Clean(root)
	}
	if cache == nil {
		cache = NewProbeCache(DefaultCacheTTL)
	}
	return &Browser{prober: prober, root: absRoot, cache: cache}
}

// Root returns the absolute evidence root.
func (b *Browser) Root() string {
	return b.root
}

// Resolve makes path absolute and checks it stays under the root. An empty
// path is the root itself.
func (b *Browser) Resolve(path string) (string, error) {
	if path == "" {
		return b.root, nil
	}
	clean, err := filepath.Abs(path)
	if err != nil {
		clean = filepath.Clean(path)
	}
	if clean != b.root && !strings.HasPrefix(clean, b.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return clean, nil
}

// Browse returns the contents of a directory. Paths outside the root fall
// back to the root.
func (b *Browser) Browse(ctx context.Context, path string) (*BrowseResult, error) {
	cleanPath, err := b.Resolve(path)
	if err != nil {
		cleanPath = b.root
	}

	entries, err := os.ReadDir(cleanPath)
	if err != nil {
		return nil, err
	}

	result := &BrowseResult{
		Path:    cleanPath,
		Entries: make([]*Entry, 0, len(entries)),
	}
	if cleanPath != b.root {
		result.Parent = filepath.Dir(cleanPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, e := range entries {
		// Skip hidden files
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		entry := &Entry{
			Name:    e.Name(),
			Path:    filepath.Join(cleanPath, e.Name()),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}

		switch {
		case e.IsDir():
			entry.FileCount, entry.TotalSize = countVideos(entry.Path)
			entry.SizeHuman = humanize.Bytes(uint64(entry.TotalSize))
		case ffmpeg.IsVideoFile(e.Name()):
			entry.SizeHuman = humanize.Bytes(uint64(entry.Size))
			result.VideoCount++
			result.TotalSize += entry.Size
			// Each goroutine owns its entry
			g.Go(func() error {
				r, err := b.probe(gctx, entry.Path, info)
				if err != nil {
					entry.ProbeErr = err.Error()
					return nil
				}
				entry.VideoInfo = r
				return nil
			})
		default:
			continue
		}
		result.Entries = append(result.Entries, entry)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.TotalHuman = humanize.Bytes(uint64(result.TotalSize))

	// Directories first, then by name
	sort.Slice(result.Entries, func(i, j int) bool {
		if result.Entries[i].IsDir != result.Entries[j].IsDir {
			return result.Entries[i].IsDir
		}
		return strings.ToLower(result.Entries[i].Name) < strings.ToLower(result.Entries[j].Name)
	})

	return result, nil
}

// countVideos counts video files in a directory (non-recursive for speed)
func countVideos(dirPath string) (count int, totalSize int64) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if e.IsDir() || !ffmpeg.IsVideoFile(e.Name()) {
			continue
		}
		count++
		if info, err := e.Info(); err == nil {
			totalSize += info.Size()
		}
	}
	return count, totalSize
}

func (b *Browser) probe(ctx context.Context, path string, info fs.FileInfo) (*ffmpeg.ProbeResult, error) {
	if r, ok := b.cache.Get(path, info.Size(), info.ModTime()); ok {
		return r, nil
	}
	r, err := b.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	b.cache.Put(path, info.Size(), info.ModTime(), r)
	return r, nil
}

// ProbeFile probes a single file under the root, using the cache.
func (b *Browser) ProbeFile(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	clean, err := b.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	return b.probe(ctx, clean, info)
}

// VideoFiles expands paths (files or directories, walked recursively) into
// probed video files sorted by path. Paths outside the root and files
// ffprobe cannot read are skipped. onProgress may be nil.
func (b *Browser) VideoFiles(ctx context.Context, paths []string, onProgress ProgressCallback) ([]*ffmpeg.ProbeResult, error) {
	// First pass: collect candidates without probing
	type candidate struct {
		path string
		info fs.FileInfo
	}
	var candidates []candidate
	seen := make(map[string]bool)
	add := func(p string, info fs.FileInfo) {
		if !seen[p] {
			seen[p] = true
			candidates = append(candidates, candidate{p, info})
		}
	}

	for _, path := range paths {
		clean, err := b.Resolve(path)
		if err != nil {
			logger.Warn("Skipping path outside evidence root", "path", path)
			continue
		}
		info, err := os.Stat(clean)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if ffmpeg.IsVideoFile(clean) {
				add(clean, info)
			}
			continue
		}
		err = filepath.WalkDir(clean, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // Skip unreadable entries
			}
			if d.IsDir() {
				if p != clean && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if !ffmpeg.IsVideoFile(p) {
				return nil
			}
			if fi, err := d.Info(); err == nil {
				add(p, fi)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	total := len(candidates)
	if onProgress != nil {
		onProgress(0, total)
	}

	var (
		mu      sync.Mutex
		results []*ffmpeg.ProbeResult
		probed  atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentProbes)

	for _, c := range candidates {
		g.Go(func() error {
			r, err := b.probe(gctx, c.path, c.info)
			if err != nil {
				logger.Debug("Probe failed", "path", c.path, "error", err)
			} else {
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
			if onProgress != nil {
				onProgress(int(probed.Add(1)), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

// Invalidate drops a cached probe result, e.g. after a file was replaced.
func (b *Browser) Invalidate(path string) {
	b.cache.Invalidate(path)
}
