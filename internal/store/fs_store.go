package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwbudde/photofingerprint/internal/metrics"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Records are stored as <baseDir>/fingerprints/<id>.json.
//
// Thread-safety: writes go to a temp file that is renamed into place, so no
// locks are needed and readers never observe a partial record.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "fingerprints"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) recordPath(id string) string {
	return filepath.Join(fs.baseDir, "fingerprints", id+".json")
}

// Save atomically writes rec using the temp file + rename pattern.
func (fs *FSStore) Save(rec *Record) (err error) {
	defer func() { metrics.StoreOp(KindFS, "save", err) }()

	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	finalPath := fs.recordPath(rec.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	slog.Debug("Record saved", "id", rec.ID, "path", finalPath)
	return nil
}

// Load retrieves the record with the given ID.
func (fs *FSStore) Load(id string) (rec *Record, err error) {
	defer func() { metrics.StoreOp(KindFS, "load", err) }()

	if err := validateID(id); err != nil {
		return nil, err
	}

	path := fs.recordPath(id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var loaded Record
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to deserialize record %s: %w", id, err)
	}

	return &loaded, nil
}

// List returns metadata for all readable records. Corrupt files are skipped
// with a warning.
func (fs *FSStore) List() ([]RecordInfo, error) {
	infos := []RecordInfo{}
	err := fs.Walk(func(rec *Record) error {
		infos = append(infos, rec.ToInfo())
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortInfos(infos)
	slog.Debug("Listed records", "count", len(infos))
	return infos, nil
}

// Walk visits every readable record in directory order.
func (fs *FSStore) Walk(fn func(*Record) error) error {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "fingerprints"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read fingerprints directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue // Skip temp files and foreign entries
		}

		rec, err := fs.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			slog.Warn("Failed to load record for listing", "file", name, "error", err)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the record with the given ID.
func (fs *FSStore) Delete(id string) (err error) {
	defer func() { metrics.StoreOp(KindFS, "delete", err) }()

	if err := validateID(id); err != nil {
		return err
	}

	path := fs.recordPath(id)
	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to remove record file: %w", err)
	}

	slog.Debug("Record deleted", "id", id, "path", path)
	return nil
}

// Close is a no-op for the filesystem store.
func (fs *FSStore) Close() error {
	return nil
}
