package debuglog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anyclaude/anyclaude/internal/config"
)

// rotatingWriter is an io.Writer over a log file that rotates either by
// size or once per day, driven by the debug.rotation Mode/MaxBytes/
// MaxFiles settings.
type rotatingWriter struct {
	filename string
	mode     string // "size" or "daily"
	maxBytes int64
	maxFiles int

	mu          sync.Mutex
	file        *os.File
	currentSize int64
	openedDay   string
}

const (
	rotationModeDaily       = "daily"
	defaultMaxBytes   int64 = 100 * 1024 * 1024
	defaultMaxFiles         = 5
)

func newRotatingWriter(filename string, cfg *config.Rotation) (io.Writer, error) {
	w := &rotatingWriter{
		filename: filename,
		mode:     "size",
		maxBytes: defaultMaxBytes,
		maxFiles: defaultMaxFiles,
	}
	if cfg != nil {
		if cfg.Mode != "" {
			w.mode = cfg.Mode
		}
		if cfg.MaxBytes > 0 {
			w.maxBytes = cfg.MaxBytes
		}
		if cfg.MaxFiles > 0 {
			w.maxFiles = cfg.MaxFiles
		}
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("debuglog: create log directory: %w", err)
		}
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == rotationModeDaily && time.Now().Format("20060102") != w.openedDay {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	} else if w.mode != rotationModeDaily && w.currentSize+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

func (w *rotatingWriter) openFile() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("debuglog: open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("debuglog: stat log file: %w", err)
	}
	w.file = file
	w.currentSize = info.Size()
	w.openedDay = time.Now().Format("20060102")
	return nil
}

func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	timestamp := time.Now().Format("20060102-150405")
	ext := filepath.Ext(w.filename)
	base := strings.TrimSuffix(w.filename, ext)
	backupName := fmt.Sprintf("%s.%s%s", base, timestamp, ext)

	if err := os.Rename(w.filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("debuglog: rotate log file: %w", err)
	}
	if err := w.openFile(); err != nil {
		return err
	}
	w.pruneBackups()
	return nil
}

func (w *rotatingWriter) pruneBackups() {
	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)

	matches, err := filepath.Glob(filepath.Join(dir, prefix+".*"+ext))
	if err != nil {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, m := range matches {
		if m == w.filename {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: m, modTime: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.Before(backups[j].modTime) })

	for len(backups) > w.maxFiles {
		_ = os.Remove(backups[0].path)
		backups = backups[1:]
	}
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
