package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"tilevolve/internal/model"
)

// SaveSnapshotFile writes snap as indented JSON. The file is written to a
// temporary sibling and renamed so readers never see a partial record.
func SaveSnapshotFile(path string, snap model.NetworkSnapshot) error {
	if path == "" {
		return errors.New("snapshot path is required")
	}
	data, err := EncodeSnapshotIndent(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadSnapshotFile reads a snapshot written by SaveSnapshotFile. A missing
// file is ok=false with no error; an unreadable or corrupt file is ok=false
// with the cause, and the caller decides the fallback.
func LoadSnapshotFile(path string) (model.NetworkSnapshot, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.NetworkSnapshot{}, false, nil
		}
		return model.NetworkSnapshot{}, false, err
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return model.NetworkSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return snap, true, nil
}
