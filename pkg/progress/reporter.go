package progress

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Stage labels the phase a job is currently in. Stages are plain labels,
// not an enforced state machine; callers set them as the pipeline advances.
type Stage string

const (
	StagePreparing   Stage = "Preparing"
	StageDownloading Stage = "Downloading"
	StageProcessing  Stage = "Processing"
	StageZipping     Stage = "Zipping"
	StageUploading   Stage = "Uploading"
	StageFinalizing  Stage = "Finalizing"
	StageDone        Stage = "Done"
)

var stageEmoji = map[Stage]string{
	StagePreparing:   "🟡",
	StageDownloading: "⬇️",
	StageProcessing:  "🛠️",
	StageZipping:     "🗜️",
	StageUploading:   "⬆️",
	StageFinalizing:  "🧹",
	StageDone:        "✅",
}

// Editor edits the status message a reporter renders into. Implementations
// are expected to tolerate failure; the reporter swallows edit errors.
type Editor interface {
	EditMessage(ctx context.Context, text string) error
}

// Reporter merges heterogeneous progress signals (download percent, track
// counts, zip file counts, upload bytes) for one job into a single rendered
// status block. Renders are rate-limited to one per minimum interval unless
// forced; the gate check and the render happen under one lock so two
// concurrent updates can never both fire inside the same window.
type Reporter struct {
	editor Editor
	label  string
	log    *zap.Logger

	mu      sync.Mutex
	limiter *rate.Limiter

	stage           Stage
	downloadPercent int
	tracksDone      int
	tracksTotal     int

	zipDone  int
	zipTotal int

	uploadCurrent int64
	uploadTotal   int64
	fileIndex     int
	fileTotal     int
}

// NewReporter creates a reporter rendering into editor. minInterval bounds
// how often non-forced renders may fire; values <= 0 default to 2s.
func NewReporter(editor Editor, label string, minInterval time.Duration, log *zap.Logger) *Reporter {
	if minInterval <= 0 {
		minInterval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{
		editor:  editor,
		label:   label,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		stage:   StagePreparing,
	}
}

// SetStage sets the current stage and forces an immediate render. Stage
// changes are high-value signals the user should see promptly.
func (r *Reporter) SetStage(ctx context.Context, stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.renderLocked(ctx, true)
}

// Stage returns the current stage label.
func (r *Reporter) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// SetTotalTracks records the expected track count. Negative totals are
// ignored.
func (r *Reporter) SetTotalTracks(ctx context.Context, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if total >= 0 {
		r.tracksTotal = total
	}
	r.renderLocked(ctx, false)
}

// UpdateDownload updates download progress. Negative arguments leave the
// corresponding value unchanged; percent is clamped to [0,100].
func (r *Reporter) UpdateDownload(ctx context.Context, percent, tracksDone int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if percent >= 0 {
		r.downloadPercent = clampPercent(percent)
	}
	if tracksDone >= 0 {
		r.tracksDone = tracksDone
	}
	r.renderLocked(ctx, false)
}

// UpdateZip updates the zip stage file counts; negatives are clamped to 0.
func (r *Reporter) UpdateZip(ctx context.Context, done, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zipDone = max(0, done)
	r.zipTotal = max(0, total)
	r.renderLocked(ctx, false)
}

// UpdateUpload updates upload byte progress. fileIndex/fileTotal describe
// the current file of a multi-file upload; non-positive values leave them
// unchanged. A non-empty label overrides the stage header.
func (r *Reporter) UpdateUpload(ctx context.Context, current, total int64, fileIndex, fileTotal int, label Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current < 0 {
		current = 0
	}
	if total < 0 {
		total = 0
	}
	r.uploadCurrent = current
	r.uploadTotal = total
	if fileIndex > 0 {
		r.fileIndex = fileIndex
	}
	if fileTotal > 0 {
		r.fileTotal = fileTotal
	}
	if label != "" {
		r.stage = label
	}
	r.renderLocked(ctx, false)
}

// renderLocked performs the atomic gate-and-render. Callers must hold r.mu.
func (r *Reporter) renderLocked(ctx context.Context, force bool) {
	allowed := r.limiter.Allow()
	if !allowed && !force {
		return
	}
	if err := r.editor.EditMessage(ctx, r.renderText()); err != nil {
		// Best-effort: an unreachable status message must never abort
		// the job it is reporting on.
		r.log.Debug("progress update skipped", zap.Error(err))
	}
}

func (r *Reporter) renderText() string {
	lines := make([]string, 0, 4)

	emoji, ok := stageEmoji[r.stage]
	if !ok {
		emoji = "🔄"
	}
	lines = append(lines, fmt.Sprintf("%s %s • %s", emoji, r.label, r.stage))

	if r.stage == StageDownloading || r.stage == StageProcessing || r.downloadPercent > 0 || r.tracksDone > 0 {
		tracks := fmt.Sprintf("%d", r.tracksDone)
		if r.tracksTotal > 0 {
			tracks = fmt.Sprintf("%d/%d", r.tracksDone, r.tracksTotal)
		}
		lines = append(lines, fmt.Sprintf("🎶 %s %d%%  •  Tracks: %s", bar(r.downloadPercent), r.downloadPercent, tracks))
	}

	if r.zipTotal > 0 {
		percent := clampPercent(r.zipDone * 100 / r.zipTotal)
		lines = append(lines, fmt.Sprintf("🗜️ %s %d%%  •  Files: %d/%d", bar(percent), percent, r.zipDone, r.zipTotal))
	}

	if r.uploadTotal > 0 {
		percent := clampPercent(int(r.uploadCurrent * 100 / r.uploadTotal))
		idx := ""
		if r.fileIndex > 0 && r.fileTotal > 0 {
			idx = fmt.Sprintf(" (%d/%d)", r.fileIndex, r.fileTotal)
		}
		lines = append(lines, fmt.Sprintf("📤 %s %d%%%s", bar(percent), percent, idx))
	}

	return strings.Join(lines, "\n")
}

const barSegments = 10

// bar renders a fixed-width block-character progress bar with
// round(percent/10) filled segments.
func bar(percent int) string {
	filled := int(math.Round(float64(clampPercent(percent)) / barSegments))
	return strings.Repeat("▰", filled) + strings.Repeat("▱", barSegments-filled)
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
