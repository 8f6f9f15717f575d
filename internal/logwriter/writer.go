// Package logwriter is the append-only attack log with size-based
// rotation into numbered backups (path.1 is the newest).
package logwriter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"shadowlog/internal/model"

	"go.uber.org/zap"
)

const filePerm = 0o640

// Writer serialises appends and rotation behind one mutex. Append never
// fails the caller; problems are logged and the record is dropped.
type Writer struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	backups  int
	file     *os.File
	size     int64
	closed   bool
	logger   *zap.Logger
}

// Open creates or reopens path for appending. Rotation is off when either
// maxBytes or backups is zero.
func Open(path string, maxBytes int64, backups int, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		path:     path,
		maxBytes: maxBytes,
		backups:  backups,
		logger:   logger.With(zap.String("attack_log", path)),
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) rotationEnabled() bool {
	return w.maxBytes > 0 && w.backups > 0
}

// Append writes rec as one line. Concurrent callers never interleave.
func (w *Writer) Append(rec *model.AttackRecord) {
	line := []byte(rec.Line() + "\n")

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.logger.Warn("attack log closed, record dropped", zap.String("event_id", rec.EventID))
		return
	}

	if w.rotationEnabled() && w.size > 0 && w.size+int64(len(line)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			w.logger.Error("attack log rotation failed", zap.Error(err))
		}
	}

	if w.file == nil {
		if err := w.openFile(); err != nil {
			w.logger.Error("attack log unavailable, record dropped",
				zap.String("event_id", rec.EventID), zap.Error(err))
			return
		}
	}

	n, err := w.file.Write(line)
	if err != nil {
		w.logger.Error("attack log write failed, record dropped",
			zap.String("event_id", rec.EventID), zap.Int("written", n), zap.Error(err))
		if n > 0 {
			if terr := w.file.Truncate(w.size); terr != nil {
				w.logger.Error("attack log truncate after failed write", zap.Error(terr))
				w.size += int64(n)
			}
		}
		return
	}
	w.size += int64(n)
}

// Close flushes and closes the active file. Later appends are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

func (w *Writer) openFile() error {
	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return fmt.Errorf("open attack log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat attack log: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotate shifts path.i to path.i+1, dropping the oldest, then moves the
// active file to path.1. Must be called with mu held.
func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warn("closing attack log before rotation", zap.Error(err))
		}
		w.file = nil
	}

	oldest := backupName(w.path, w.backups)
	if err := os.Remove(oldest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", oldest, err)
	}
	for i := w.backups - 1; i >= 1; i-- {
		src := backupName(w.path, i)
		if err := os.Rename(src, backupName(w.path, i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift %s: %w", src, err)
		}
	}
	if err := os.Rename(w.path, backupName(w.path, 1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rotate %s: %w", w.path, err)
	}

	w.logger.Info("attack log rotated", zap.Int("backups", w.backups))
	return w.openFile()
}

func backupName(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}
