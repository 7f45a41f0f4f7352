package progress

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeEditor) EditMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeEditor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeEditor) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func TestRateLimitSuppressesBursts(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Hour, nil)
	ctx := context.Background()

	rep.UpdateDownload(ctx, 10, 1)
	rep.UpdateDownload(ctx, 20, 2)
	rep.UpdateDownload(ctx, 30, 3)

	// only the first update inside the window renders
	assert.Equal(t, 1, ed.count())
}

func TestStageChangeForcesRender(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Hour, nil)
	ctx := context.Background()

	rep.UpdateDownload(ctx, 10, 1) // consumes the window
	rep.SetStage(ctx, StageZipping)
	rep.SetStage(ctx, StageUploading)

	assert.Equal(t, 3, ed.count())
	assert.Equal(t, StageUploading, rep.Stage())
}

func TestRenderAfterIntervalElapses(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", 20*time.Millisecond, nil)
	ctx := context.Background()

	rep.UpdateDownload(ctx, 10, 1)
	rep.UpdateDownload(ctx, 20, 2) // suppressed
	time.Sleep(30 * time.Millisecond)
	rep.UpdateDownload(ctx, 30, 3)

	assert.Equal(t, 2, ed.count())
}

func TestPercentClamping(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Nanosecond, nil)
	ctx := context.Background()
	rep.SetStage(ctx, StageDownloading)

	rep.UpdateDownload(ctx, 250, 1)
	assert.Contains(t, ed.last(), "100%")
	assert.Contains(t, ed.last(), strings.Repeat("▰", 10))

	// negative percent means "unchanged"
	rep.UpdateDownload(ctx, -1, 2)
	assert.Contains(t, ed.last(), "100%")
}

func TestUploadClamping(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Nanosecond, nil)
	ctx := context.Background()

	// negative current clamps to 0 of the given total
	rep.UpdateUpload(ctx, -5, 10, 1, 1, StageUploading)
	assert.Contains(t, ed.last(), "📤")
	assert.Contains(t, ed.last(), "0%")

	// negative total clamps to 0 and hides the upload section
	rep.UpdateUpload(ctx, 5, -10, 1, 1, StageUploading)
	assert.NotContains(t, ed.last(), "📤")

	// current beyond total still renders a full bar, capped at 100
	rep.UpdateUpload(ctx, 20, 10, 1, 1, StageUploading)
	assert.Contains(t, ed.last(), "100%")
}

func TestBarFill(t *testing.T) {
	tests := []struct {
		percent int
		filled  int
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{14, 1},
		{50, 5},
		{94, 9},
		{95, 10},
		{100, 10},
		{-5, 0},
		{130, 10},
	}
	for _, tt := range tests {
		got := bar(tt.percent)
		assert.Equal(t, tt.filled, strings.Count(got, "▰"), "percent %d", tt.percent)
		assert.Equal(t, barSegments-tt.filled, strings.Count(got, "▱"), "percent %d", tt.percent)
	}
}

func TestSectionGating(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Nanosecond, nil)
	ctx := context.Background()

	// preparing with no activity: header only
	rep.SetStage(ctx, StagePreparing)
	require.Equal(t, 1, len(strings.Split(ed.last(), "\n")))

	// downloading stage shows the download line even at 0%
	rep.SetStage(ctx, StageDownloading)
	assert.Contains(t, ed.last(), "🎶")

	// zip and upload lines appear only with non-zero totals
	assert.NotContains(t, ed.last(), "🗜️ ")
	rep.UpdateZip(ctx, 2, 5)
	assert.Contains(t, ed.last(), "Files: 2/5")
	rep.UpdateUpload(ctx, 512, 1024, 1, 3, StageUploading)
	assert.Contains(t, ed.last(), "50%")
	assert.Contains(t, ed.last(), "(1/3)")
}

func TestTrackCounts(t *testing.T) {
	ed := &fakeEditor{}
	rep := NewReporter(ed, "Album X", time.Nanosecond, nil)
	ctx := context.Background()
	rep.SetStage(ctx, StageDownloading)

	rep.UpdateDownload(ctx, 40, 3)
	assert.Contains(t, ed.last(), "Tracks: 3")

	rep.SetTotalTracks(ctx, 12)
	rep.UpdateDownload(ctx, 41, 3)
	assert.Contains(t, ed.last(), "Tracks: 3/12")
}

func TestEditErrorsAreSwallowed(t *testing.T) {
	ed := &fakeEditor{err: context.DeadlineExceeded}
	rep := NewReporter(ed, "Album X", time.Nanosecond, nil)
	ctx := context.Background()

	// must not panic or propagate
	rep.SetStage(ctx, StageDownloading)
	rep.UpdateDownload(ctx, 50, 1)
}
