package fileutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BackupSuffix names the previous good copy kept beside a durable file.
const BackupSuffix = ".backup"

// ErrCorruptState reports a durable file that exists but cannot be decoded.
var ErrCorruptState = errors.New("corrupt state file")

// WriteDurable replaces path with data so that a crash at any point leaves
// either the previous or the new content readable. The data is written and
// synced to a temporary file, the current file is rotated to path+".backup",
// and the temporary file is renamed into place.
func WriteDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+BackupSuffix); err != nil {
			cleanup()
			return fmt.Errorf("rotate backup: %w", err)
		}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}
	syncDir(dir)
	return nil
}

// ReadDurable reads path, falling back to the backup copy when the primary is
// missing. It returns fs.ErrNotExist when neither exists.
func ReadDurable(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, path, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, path, fmt.Errorf("read state file: %w", err)
	}
	backup := path + BackupSuffix
	data, err = os.ReadFile(backup)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, path, fs.ErrNotExist
		}
		return nil, backup, fmt.Errorf("read state backup: %w", err)
	}
	return data, backup, nil
}

// RemoveDurable deletes path and its backup copy. Missing files are not an
// error.
func RemoveDurable(path string) error {
	for _, candidate := range []string{path, path + BackupSuffix} {
		if err := os.Remove(candidate); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove state file: %w", err)
		}
	}
	return nil
}

// WriteJSON encodes value as indented JSON and writes it with WriteDurable.
func WriteJSON(path string, value any, perm os.FileMode) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return WriteDurable(path, data, perm)
}

// ReadJSON decodes a durable JSON file into value. It reports found=false
// without error when neither the file nor its backup exists, and wraps
// ErrCorruptState when the content does not decode.
func ReadJSON(path string, value any) (bool, error) {
	data, source, err := ReadDurable(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, value); err != nil {
		return true, fmt.Errorf("%w: %s: %w", ErrCorruptState, source, err)
	}
	return true, nil
}

func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
