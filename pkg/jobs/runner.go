package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediabot/pkg/archive"
	"mediabot/pkg/downloader"
	"mediabot/pkg/history"
	"mediabot/pkg/models"
	"mediabot/pkg/notify"
	"mediabot/pkg/progress"
	"mediabot/pkg/queue"
	"mediabot/pkg/settings"
	"mediabot/pkg/tasks"
	"mediabot/pkg/uploader"
)

// ErrInvalidLink rejects requests whose link the downloader cannot handle.
var ErrInvalidLink = errors.New("unsupported link")

const providerName = "Apple Music"

// Runner turns download requests into running or queued jobs and walks each
// job through the download / zip / upload pipeline.
type Runner struct {
	registry  *tasks.Registry
	queue     *queue.Queue
	dl        *downloader.Runner
	up        *uploader.Uploader
	settings  *settings.Store
	history   *history.Store
	messenger notify.Messenger
	log       *zap.Logger

	progressInterval time.Duration
	zipPartSize      int64
}

func NewRunner(
	registry *tasks.Registry,
	q *queue.Queue,
	dl *downloader.Runner,
	up *uploader.Uploader,
	st *settings.Store,
	hist *history.Store,
	messenger notify.Messenger,
	progressInterval time.Duration,
	log *zap.Logger,
) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		registry:         registry,
		queue:            q,
		dl:               dl,
		up:               up,
		settings:         st,
		history:          hist,
		messenger:        messenger,
		log:              log,
		progressInterval: progressInterval,
		zipPartSize:      archive.DefaultPartSize,
	}
}

// Submit admits one download request. In queue mode the job is parked in
// the FIFO queue and the result carries its queue id and position; otherwise
// a task starts immediately in its own goroutine and the result carries the
// task id.
func (r *Runner) Submit(req models.DownloadRequest) (models.SubmitResult, error) {
	if !downloader.ValidLink(req.Link) {
		return models.SubmitResult{}, ErrInvalidLink
	}

	if r.settings.QueueMode() {
		queueID, pos := r.queue.Enqueue(req.OwnerID, req.Link, req.Options, func(ctx context.Context) {
			task := r.registry.Create(req.OwnerID, req.ChatID, jobLabel(req.Link))
			r.execute(task, req)
		})
		return models.SubmitResult{Queued: true, QueueID: queueID, Position: pos}, nil
	}

	task := r.registry.Create(req.OwnerID, req.ChatID, jobLabel(req.Link))
	go r.execute(task, req)
	return models.SubmitResult{TaskID: task.ID}, nil
}

// execute runs the full pipeline for one task. It owns the task's lifetime:
// whatever happens, the task leaves the registry when this returns. The
// recover defer is registered after the finish defer so a panic adjusts the
// recorded status before the task is removed.
func (r *Runner) execute(task *tasks.Task, req models.DownloadRequest) {
	status := tasks.StatusDone
	defer func() { r.registry.Finish(task.ID, status) }()
	defer func() {
		if rec := recover(); rec != nil {
			status = tasks.StatusFailed
			r.log.Error("job panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", rec))
		}
	}()

	ctx := task.Context()

	ref, err := r.messenger.SendText(ctx, req.ChatID,
		fmt.Sprintf("⏳ %s\nTask %s — /cancel_%s to stop", task.Label, task.ID, task.ID))
	if err != nil {
		r.log.Warn("status message failed", zap.String("task_id", task.ID), zap.Error(err))
	}
	rep := progress.NewReporter(notify.NewEditor(r.messenger, ref), task.Label, r.progressInterval, r.log)
	r.registry.AttachProgress(task.ID, rep)

	rep.SetStage(ctx, progress.StagePreparing)

	outDir, err := r.runPipeline(ctx, task, rep, req)
	if outDir != "" {
		defer os.RemoveAll(outDir)
	}
	if err != nil {
		if task.Cancelled() || errors.Is(err, context.Canceled) {
			status = tasks.StatusCancelled
			r.notify(req.ChatID, fmt.Sprintf("🚫 %s cancelled", task.Label))
			return
		}
		status = tasks.StatusFailed
		r.log.Error("job failed",
			zap.String("task_id", task.ID),
			zap.String("link", req.Link),
			zap.Error(err))
		r.notify(req.ChatID, fmt.Sprintf("❌ %s failed: %v", task.Label, err))
		return
	}

	rep.SetStage(ctx, progress.StageDone)
}

// runPipeline performs download → optional zip → upload. The returned
// directory (when non-empty) is the temp workspace the caller must remove.
func (r *Runner) runPipeline(ctx context.Context, task *tasks.Task, rep *progress.Reporter, req models.DownloadRequest) (string, error) {
	rep.SetStage(ctx, progress.StageDownloading)
	outDir, err := r.dl.Run(ctx, task, rep, req.Link, req.Options)
	if err != nil {
		return outDir, err
	}

	files, err := downloader.CollectFiles(outDir)
	if err != nil {
		return outDir, err
	}
	if len(files) == 0 {
		return outDir, fmt.Errorf("downloader produced no files")
	}

	uploads := files
	if r.settings.AlbumZip() && len(files) > 1 {
		rep.SetStage(ctx, progress.StageZipping)
		dest := archive.UniquePath(filepath.Join(outDir, archive.ZipName(providerName, task.Label)))
		parts, err := archive.SplitZipFolder(filepath.Join(outDir, "downloads"), dest, r.zipPartSize,
			func(done, total int) { rep.UpdateZip(ctx, done, total) })
		if err != nil {
			return outDir, err
		}
		uploads = parts
	}

	rep.SetStage(ctx, progress.StageUploading)
	mode := r.settings.UploadMode()
	links, err := r.up.UploadFiles(ctx, req.ChatID, uploads, rep, mode)
	if err != nil {
		return outDir, err
	}

	rep.SetStage(ctx, progress.StageFinalizing)
	r.recordHistory(req, len(files))

	if len(links) > 0 {
		r.notify(req.ChatID, "✅ "+task.Label+"\n"+strings.Join(links, "\n"))
	}
	return outDir, nil
}

func (r *Runner) recordHistory(req models.DownloadRequest, fileCount int) {
	entry := models.HistoryEntry{
		UserID:      req.OwnerID,
		Provider:    providerName,
		ContentType: downloader.ContentType(req.Link),
		ContentID:   downloader.ContentID(req.Link),
		Title:       jobLabel(req.Link),
		Quality:     req.Options["alac-max"],
	}
	if err := r.history.Record(entry); err != nil {
		// history is best-effort; a dead DB must not fail a finished job
		r.log.Warn("history record failed", zap.Error(err))
	}
	r.log.Info("download recorded",
		zap.Int64("user_id", req.OwnerID),
		zap.Int("files", fileCount))
}

func (r *Runner) notify(chatID int64, text string) {
	if _, err := r.messenger.SendText(context.Background(), chatID, text); err != nil {
		r.log.Debug("notification failed", zap.Error(err))
	}
}

// jobLabel derives a short human label from the link: the readable slug of
// the content path, e.g. "thriller" from .../album/thriller/269572838.
func jobLabel(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	// path is {storefront}/{type}/{slug}/{id}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 4 && parts[2] != "" {
		return strings.ReplaceAll(parts[2], "-", " ")
	}
	return "download"
}
