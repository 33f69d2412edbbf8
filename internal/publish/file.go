package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kjstillabower/wx-station-poller/internal/models"
)

// DefaultFileMode is the permission of the output file.
const DefaultFileMode os.FileMode = 0o644

// FileWriter replaces the output file with the latest record. Each write goes
// to a temp file in the same directory and is renamed over the target, so
// readers see either the previous record or the new one.
type FileWriter struct {
	mu   sync.Mutex
	path string
	dir  string
	mode os.FileMode
}

// NewFileWriter resolves path and checks that its directory exists. The file
// itself need not exist yet. A zero mode uses DefaultFileMode.
func NewFileWriter(path string, mode os.FileMode) (*FileWriter, error) {
	if path == "" {
		return nil, errors.New("publish: output file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("publish: resolve output file: %w", err)
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("publish: output dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("publish: output dir %s is not a directory", dir)
	}
	if mode == 0 {
		mode = DefaultFileMode
	}
	return &FileWriter{path: abs, dir: dir, mode: mode}, nil
}

// Name implements Publisher.
func (w *FileWriter) Name() string { return "file" }

// Path returns the resolved output file path.
func (w *FileWriter) Path() string { return w.path }

// Publish writes the record for r without a trailing newline.
func (w *FileWriter) Publish(ctx context.Context, r models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := r.MarshalJSON()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tmp, err := os.CreateTemp(w.dir, "."+filepath.Base(w.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, w.mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		return fmt.Errorf("replace output file: %w", err)
	}
	committed = true
	return nil
}
