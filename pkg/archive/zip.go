package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultPartSize caps split-zip parts below common chat upload limits.
const DefaultPartSize = int64(1900 * 1024 * 1024)

// ProgressFunc receives (filesDone, filesTotal) after each archived file.
type ProgressFunc func(done, total int)

// ZipFolder archives every regular file under dir into destZip, preserving
// relative paths. Source files are removed as they are archived so the peak
// disk footprint stays close to one copy of the content.
func ZipFolder(dir, destZip string, onProgress ProgressFunc) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}

	out, err := os.Create(destZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for i, f := range files {
		if err := addFile(zw, dir, f); err != nil {
			zw.Close()
			return err
		}
		os.Remove(f)
		if onProgress != nil {
			onProgress(i+1, len(files))
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

// SplitZipFolder archives dir into one or more parts, starting a new part
// once the current one would exceed maxPartSize (estimated by source file
// size; zip overhead on already-compressed media is negligible). Returns
// the created part paths. A single part keeps the plain name; multiple
// parts get a .partN suffix before the extension.
func SplitZipFolder(dir, destZip string, maxPartSize int64, onProgress ProgressFunc) ([]string, error) {
	if maxPartSize <= 0 {
		maxPartSize = DefaultPartSize
	}
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	var parts []string
	var zw *zip.Writer
	var out *os.File
	var partSize int64

	closePart := func() error {
		if zw == nil {
			return nil
		}
		if err := zw.Close(); err != nil {
			out.Close()
			return fmt.Errorf("finalize archive part: %w", err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close archive part: %w", err)
		}
		zw, out = nil, nil
		partSize = 0
		return nil
	}

	openPart := func() error {
		name := partName(destZip, len(parts)+1)
		f, err := os.Create(name)
		if err != nil {
			return fmt.Errorf("create archive part: %w", err)
		}
		out = f
		zw = zip.NewWriter(f)
		parts = append(parts, name)
		return nil
	}

	for i, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			closePart()
			return nil, fmt.Errorf("stat %s: %w", f, err)
		}
		if zw != nil && partSize > 0 && partSize+info.Size() > maxPartSize {
			if err := closePart(); err != nil {
				return nil, err
			}
		}
		if zw == nil {
			if err := openPart(); err != nil {
				return nil, err
			}
		}
		if err := addFile(zw, dir, f); err != nil {
			closePart()
			return nil, err
		}
		partSize += info.Size()
		os.Remove(f)
		if onProgress != nil {
			onProgress(i+1, len(files))
		}
	}
	if err := closePart(); err != nil {
		return nil, err
	}

	// single part: drop the .part1 suffix
	if len(parts) == 1 && parts[0] != destZip {
		if err := os.Rename(parts[0], destZip); err != nil {
			return nil, fmt.Errorf("rename archive: %w", err)
		}
		parts[0] = destZip
	}
	return parts, nil
}

func partName(destZip string, n int) string {
	ext := filepath.Ext(destZip)
	return strings.TrimSuffix(destZip, ext) + fmt.Sprintf(".part%d", n) + ext
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan folder: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to archive in %s", dir)
	}
	return files, nil
}

func addFile(zw *zip.Writer, baseDir, path string) error {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return fmt.Errorf("relativize %s: %w", path, err)
	}
	w, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return fmt.Errorf("add %s: %w", rel, err)
	}
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// ZipName builds a descriptive archive file name like "[Apple Music] Album
// Title.zip", sanitized for the filesystem.
func ZipName(provider, title string) string {
	name := fmt.Sprintf("[%s] %s", provider, title)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimSpace(name)
	if len(name) > 200 {
		name = name[:200]
	}
	return name + ".zip"
}

// UniquePath returns path if free, otherwise the first "name (n)" variant
// that does not exist yet.
func UniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
