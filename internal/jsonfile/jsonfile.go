// Package jsonfile reads and atomically writes JSON state files.
package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sjoeboo/loopbot/internal/logging"
)

var storeLog = logging.ForComponent(logging.CompStore)

// ErrNotExist is returned by Read when the file does not exist.
var ErrNotExist = fs.ErrNotExist

const tmpSuffix = ".tmp"

// tempPrefix hides temp files for path; dotfiles keep their single dot.
func tempPrefix(path string) string {
	return "." + strings.TrimPrefix(filepath.Base(path), ".") + "."
}

// WriteAtomic marshals v and replaces path with the result.
//
// The data is written to a temp file in the same directory, fsynced, then
// renamed over path, so readers only ever see the old or the new document.
func WriteAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix(path)+"*"+tmpSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		// rename still gives readers a whole file
		storeLog.Warn("fsync_failed", "path", tmpPath, "error", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to finalize save: %w", err)
	}
	committed = true
	return nil
}

// Read decodes the JSON document at path into v.
// A missing file returns an error wrapping ErrNotExist.
func Read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt JSON in %s: %w", path, err)
	}
	return nil
}

// CleanupTemp removes temp files left next to path by an interrupted write.
func CleanupTemp(path string) {
	dir := filepath.Dir(path)
	prefix := tempPrefix(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		leftover := filepath.Join(dir, name)
		if err := os.Remove(leftover); err != nil && !errors.Is(err, fs.ErrNotExist) {
			storeLog.Warn("temp_cleanup_failed", "path", leftover, "error", err)
			continue
		}
		storeLog.Info("temp_cleanup", "path", leftover)
	}
}
