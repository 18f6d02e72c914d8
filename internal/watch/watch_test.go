package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwlsn/vidproof/internal/ffmpeg"
	"github.com/gwlsn/vidproof/internal/jobs"
)

type fakeProber struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ffmpeg.ProbeResult{
		Path:       path,
		Size:       100,
		VideoCodec: "h264",
		Width:      640,
		Height:     480,
		FrameCount: 50,
	}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// manual returns a watcher driven by a fake clock, without fsnotify.
func manual(t *testing.T, prober Prober) (*Watcher, *jobs.Queue, *time.Time) {
	t.Helper()
	queue := jobs.NewQueue()
	w, err := New(t.TempDir(), time.Second, prober, queue)
	require.NoError(t, err)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	return w, queue, &now
}

func TestCandidate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/drop/bodycam.mp4", true},
		{"/drop/LOBBY.MOV", true},
		{"/drop/notes.txt", false},
		{"/drop/.hidden.mp4", false},
		{"/drop/upload.mp4.part", false},
		{"/drop/upload.mp4.crdownload", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, candidate(tt.name), tt.name)
	}
}

func TestSettleBeforeQueue(t *testing.T) {
	w, queue, now := manual(t, &fakeProber{})
	path := filepath.Join(w.Dir(), "clip.mp4")
	writeFile(t, path, "first chunk")

	w.track(path)
	w.enqueueSettled(context.Background())
	assert.Empty(t, queue.GetAll(), "not settled yet")

	// Still growing: the timer restarts
	*now = now.Add(800 * time.Millisecond)
	writeFile(t, path, "first chunk, second chunk")
	w.enqueueSettled(context.Background())
	*now = now.Add(800 * time.Millisecond)
	w.enqueueSettled(context.Background())
	assert.Empty(t, queue.GetAll(), "size changed inside the settle window")

	*now = now.Add(300 * time.Millisecond)
	w.enqueueSettled(context.Background())
	all := queue.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, path, all[0].InputPath)
	assert.Equal(t, jobs.StatusPending, all[0].Status)

	// Further events for the same unchanged file are ignored
	w.track(path)
	*now = now.Add(2 * time.Second)
	w.enqueueSettled(context.Background())
	assert.Len(t, queue.GetAll(), 1)
}

func TestRequeueAfterReplace(t *testing.T) {
	w, queue, now := manual(t, &fakeProber{})
	path := filepath.Join(w.Dir(), "clip.mp4")
	writeFile(t, path, "v1")

	w.track(path)
	*now = now.Add(2 * time.Second)
	w.enqueueSettled(context.Background())
	require.Len(t, queue.GetAll(), 1)

	writeFile(t, path, "version two")
	w.track(path)
	*now = now.Add(2 * time.Second)
	w.enqueueSettled(context.Background())
	assert.Len(t, queue.GetAll(), 2)
}

func TestIgnoresNonVideo(t *testing.T) {
	w, queue, now := manual(t, &fakeProber{})
	for _, name := range []string{"notes.txt", "clip.mp4.part", ".clip.mp4"} {
		p := filepath.Join(w.Dir(), name)
		writeFile(t, p, "x")
		w.track(p)
	}
	*now = now.Add(time.Minute)
	w.enqueueSettled(context.Background())
	assert.Empty(t, queue.GetAll())
}

func TestForgetRemovedFile(t *testing.T) {
	w, queue, now := manual(t, &fakeProber{})
	path := filepath.Join(w.Dir(), "clip.mp4")
	writeFile(t, path, "x")
	w.track(path)

	require.NoError(t, os.Remove(path))
	*now = now.Add(time.Minute)
	w.enqueueSettled(context.Background())
	assert.Empty(t, queue.GetAll())
}

func TestUnprobeableFileIsSkipped(t *testing.T) {
	w, queue, now := manual(t, &fakeProber{err: errors.New("invalid data found")})
	path := filepath.Join(w.Dir(), "broken.mp4")
	writeFile(t, path, "garbage")

	w.track(path)
	*now = now.Add(time.Minute)
	w.enqueueSettled(context.Background())

	all := queue.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, jobs.StatusSkipped, all[0].Status)
	assert.NotEmpty(t, all[0].Error)
}

func TestRunPicksUpDrops(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "before.mp4")
	writeFile(t, existing, "already here")

	queue := jobs.NewQueue()
	w, err := New(dir, 50*time.Millisecond, &fakeProber{}, queue)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give fsnotify a moment to register the directory
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "after.mov"), "dropped later")
	writeFile(t, filepath.Join(dir, "ignore.txt"), "not video")

	require.Eventually(t, func() bool {
		return len(queue.GetAll()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	var paths []string
	for _, j := range queue.GetAll() {
		paths = append(paths, filepath.Base(j.InputPath))
	}
	assert.ElementsMatch(t, []string{"before.mp4", "after.mov"}, paths)
}
