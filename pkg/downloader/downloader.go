package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"mediabot/pkg/progress"
	"mediabot/pkg/tasks"
)

// Config holds the external downloader binary settings.
type Config struct {
	BinaryPath   string
	BaseDir      string
	AlacQuality  string
	AtmosQuality string
}

// CodeProvider obtains an out-of-band verification code when the external
// binary prompts for one mid-run (the provider's 2FA challenge).
type CodeProvider interface {
	RequestCode(ctx context.Context, ownerID int64) (string, error)
}

// Runner drives the external Apple Music downloader CLI for one service
// instance. Each Run gets a per-task working directory under BaseDir.
type Runner struct {
	cfg      Config
	registry *tasks.Registry
	codes    CodeProvider
	log      *zap.Logger
}

// NewRunner builds a runner. codes may be nil; 2FA prompts then fail the
// run instead of waiting for user input.
func NewRunner(cfg Config, registry *tasks.Registry, codes CodeProvider, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, registry: registry, codes: codes, log: log}
}

var linkPattern = regexp.MustCompile(`^https://music\.apple\.com/[a-z]{2}/(album|song|playlist|artist)/`)

// ValidLink reports whether link is a supported music.apple.com URL.
func ValidLink(link string) bool {
	return linkPattern.MatchString(link)
}

// ContentType extracts the content kind (album, song, playlist, artist)
// from a valid link, or "" for anything else.
func ContentType(link string) string {
	m := linkPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

var idPattern = regexp.MustCompile(`/(\d+)(?:\?|$)`)

// ContentID extracts the trailing numeric catalog id from a link, or "".
func ContentID(link string) string {
	m := idPattern.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}

// optionFlags maps user-facing option keys to downloader CLI flags. Values
// of "true" emit a bare flag; anything else is passed as the flag's value.
var optionFlags = map[string]string{
	"aac":           "--aac",
	"aac-type":      "--aac-type",
	"alac-max":      "--alac-max",
	"all-album":     "--all-album",
	"atmos":         "--atmos",
	"atmos-max":     "--atmos-max",
	"debug":         "--debug",
	"mv-audio-type": "--mv-audio-type",
	"mv-max":        "--mv-max",
	"select":        "--select",
	"song":          "--song",
}

// BuildArgs converts the user's option map into CLI arguments, ending with
// the link itself. Unknown options are skipped.
func BuildArgs(link string, options map[string]string) []string {
	args := make([]string, 0, len(options)*2+1)
	for key, flag := range optionFlags {
		val, ok := options[key]
		if !ok {
			continue
		}
		if val == "true" {
			args = append(args, flag)
		} else if val != "" && val != "false" {
			args = append(args, flag, val)
		}
	}
	args = append(args, link)
	return args
}

// Run executes the downloader for link inside a fresh directory, streaming
// progress into rep. The subprocess is registered with the task registry so
// a cancel can terminate it; cancellation surfaces as ctx's error. The
// returned path is the directory holding the downloaded files; it is
// returned on failure too (once created) so the caller can clean it up.
func (r *Runner) Run(ctx context.Context, task *tasks.Task, rep *progress.Reporter, link string, options map[string]string) (string, error) {
	outDir := filepath.Join(r.cfg.BaseDir, task.ID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	cfgPath := filepath.Join(outDir, "config.yaml")
	if err := writeRunConfig(cfgPath, outDir, r.cfg); err != nil {
		return outDir, err
	}

	args := append([]string{"--config", cfgPath}, BuildArgs(link, options)...)
	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	cmd.Dir = outDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return outDir, fmt.Errorf("attach stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return outDir, fmt.Errorf("attach stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return outDir, fmt.Errorf("start downloader: %w", err)
	}
	defer stdin.Close()
	r.registry.RegisterSubprocess(task.ID, cmd.Process)
	defer r.registry.ClearSubprocess(task.ID)

	r.log.Info("downloader started",
		zap.String("task_id", task.ID),
		zap.String("link", link))

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesOrPrompt)
	tracksDone := 0
	for scanner.Scan() {
		line := scanner.Text()
		if total, ok := parseTrackTotal(line); ok {
			rep.SetTotalTracks(ctx, total)
			continue
		}
		if parseTrackDone(line) {
			tracksDone++
			rep.UpdateDownload(ctx, -1, tracksDone)
			continue
		}
		if pct, ok := parsePercent(line); ok {
			rep.UpdateDownload(ctx, pct, -1)
			continue
		}
		if codePromptPattern.MatchString(line) {
			if err := r.answerCodePrompt(ctx, task.OwnerID, stdin); err != nil {
				r.log.Warn("verification code prompt unanswered",
					zap.String("task_id", task.ID), zap.Error(err))
			}
		}
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return outDir, ctx.Err()
	}
	if err != nil {
		return outDir, fmt.Errorf("downloader failed: %w: %s", err, stderrTail(&stderr))
	}
	return outDir, nil
}

// answerCodePrompt forwards a user-supplied verification code to the
// binary's stdin. Without a code provider the prompt goes unanswered and
// the binary times out on its own.
func (r *Runner) answerCodePrompt(ctx context.Context, ownerID int64, stdin io.Writer) error {
	if r.codes == nil {
		return fmt.Errorf("no code provider configured")
	}
	code, err := r.codes.RequestCode(ctx, ownerID)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(stdin, code); err != nil {
		return fmt.Errorf("write code: %w", err)
	}
	return nil
}

// scanLinesOrPrompt splits on newlines like bufio.ScanLines, but also
// flushes buffered bytes that match an interactive code prompt. The binary
// writes its prompt without a trailing newline and then blocks on stdin, so
// a plain line scanner would never surface it.
func scanLinesOrPrompt(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte("\r")), nil
	}
	if codePromptPattern.Match(data) {
		return len(data), data, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var (
	codePromptPattern = regexp.MustCompile(`(?i)(2fa|verification) code`)
	percentPattern    = regexp.MustCompile(`(\d{1,3})%`)
	trackTotalPattern = regexp.MustCompile(`(?i)total[^0-9]*(\d+)\s+track`)
	trackDonePattern  = regexp.MustCompile(`(?i)track\s+(?:completed|downloaded|saved)`)
)

func parsePercent(line string) (int, bool) {
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil || pct > 100 {
		return 0, false
	}
	return pct, true
}

func parseTrackTotal(line string) (int, bool) {
	m := trackTotalPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseTrackDone(line string) bool {
	return trackDonePattern.MatchString(line)
}

// stderrTail returns the last few lines of stderr for error messages.
func stderrTail(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}

// mediaExtensions are the output formats the downloader can produce.
var mediaExtensions = map[string]bool{
	".m4a":  true,
	".flac": true,
	".mp4":  true,
	".ec3":  true,
}

// CollectFiles walks dir and returns the downloaded media files in
// lexical order.
func CollectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if mediaExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan downloads: %w", err)
	}
	return files, nil
}
