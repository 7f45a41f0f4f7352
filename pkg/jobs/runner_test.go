package jobs

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mediabot/pkg/downloader"
	"mediabot/pkg/models"
	"mediabot/pkg/notify"
	"mediabot/pkg/queue"
	"mediabot/pkg/settings"
	"mediabot/pkg/tasks"
	"mediabot/pkg/uploader"
)

type recordingMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (m *recordingMessenger) SendText(ctx context.Context, chatID int64, text string) (notify.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return notify.MessageRef{ChatID: chatID, MessageID: int64(len(m.texts))}, nil
}

func (m *recordingMessenger) EditText(ctx context.Context, ref notify.MessageRef, text string) error {
	return nil
}

func (m *recordingMessenger) SendFile(ctx context.Context, chatID int64, path, caption string) error {
	return nil
}

func (m *recordingMessenger) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func newTestRunner(t *testing.T, msg notify.Messenger) (*Runner, *tasks.Registry) {
	t.Helper()
	reg := tasks.NewRegistry(nil)
	q := queue.New(nil)
	dl := downloader.NewRunner(downloader.Config{
		BinaryPath: "/nonexistent/apple-music-dl",
		BaseDir:    t.TempDir(),
	}, reg, nil, nil)
	up, err := uploader.New(context.Background(), uploader.StorageConfig{}, msg, nil)
	require.NoError(t, err)
	st := settings.NewStore(nil, nil) // defaults only: queue off, chat mode
	r := NewRunner(reg, q, dl, up, st, nil, msg, time.Millisecond, nil)
	return r, reg
}

func TestSubmitRejectsInvalidLink(t *testing.T) {
	r, _ := newTestRunner(t, &recordingMessenger{})
	_, err := r.Submit(models.DownloadRequest{
		OwnerID: 1, ChatID: 1, Link: "https://example.com/not-music",
	})
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestSubmitDirectModeReportsFailure(t *testing.T) {
	msg := &recordingMessenger{}
	r, reg := newTestRunner(t, msg)

	res, err := r.Submit(models.DownloadRequest{
		OwnerID: 1, ChatID: 42,
		Link: "https://music.apple.com/us/album/thriller/269572838",
	})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	require.NotEmpty(t, res.TaskID)

	// the downloader binary is missing, so the job fails and the task
	// leaves the registry
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(res.TaskID); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok := reg.Get(res.TaskID)
	assert.False(t, ok, "task should be finished")

	var sawFailure bool
	for _, text := range msg.all() {
		if strings.Contains(text, "failed") {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure, "user should be told the job failed")
}

func waitTaskGone(t *testing.T, reg *tasks.Registry, taskID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(taskID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never finished", taskID)
}

func TestFailedJobCleansWorkDir(t *testing.T) {
	base := t.TempDir()
	msg := &recordingMessenger{}
	reg := tasks.NewRegistry(nil)
	q := queue.New(nil)
	dl := downloader.NewRunner(downloader.Config{
		BinaryPath: "/nonexistent/apple-music-dl",
		BaseDir:    base,
	}, reg, nil, nil)
	up, err := uploader.New(context.Background(), uploader.StorageConfig{}, msg, nil)
	require.NoError(t, err)
	r := NewRunner(reg, q, dl, up, settings.NewStore(nil, nil), nil, msg, time.Millisecond, nil)

	res, err := r.Submit(models.DownloadRequest{
		OwnerID: 1, ChatID: 42,
		Link: "https://music.apple.com/us/album/thriller/269572838",
	})
	require.NoError(t, err)
	waitTaskGone(t, reg, res.TaskID)

	// the failed run's work dir (with its generated config) is removed
	// with the job, not left for the hourly sweep
	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPanickedJobRecordedAsFailed(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)
	reg := tasks.NewRegistry(log)
	q := queue.New(nil)
	dl := downloader.NewRunner(downloader.Config{
		BinaryPath: "/nonexistent/apple-music-dl",
		BaseDir:    t.TempDir(),
	}, reg, nil, nil)
	up, err := uploader.New(context.Background(), uploader.StorageConfig{}, notify.NewLogMessenger(nil), nil)
	require.NoError(t, err)
	// nil messenger makes the job panic on its first status message
	r := NewRunner(reg, q, dl, up, settings.NewStore(nil, nil), nil, nil, time.Millisecond, log)

	res, err := r.Submit(models.DownloadRequest{
		OwnerID: 1, ChatID: 42,
		Link: "https://music.apple.com/us/album/thriller/269572838",
	})
	require.NoError(t, err)
	waitTaskGone(t, reg, res.TaskID)

	finished := logs.FilterMessage("task finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, string(tasks.StatusFailed), finished[0].ContextMap()["status"])
}

func TestJobLabel(t *testing.T) {
	tests := []struct {
		link  string
		label string
	}{
		{"https://music.apple.com/us/album/thriller/269572838", "thriller"},
		{"https://music.apple.com/us/album/dark-side/123?x=1", "dark side"},
		{"https://music.apple.com/us/album", "download"},
		{"", "download"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.label, jobLabel(tt.link), tt.link)
	}
}
