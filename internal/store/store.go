package store

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Store defines persistence of fingerprint records.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound (matched with errors.Is) when a record does not exist
//   - Return *ValidationError for records that fail Validate
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// Save validates and persists rec, replacing any record with the same ID.
	Save(rec *Record) error

	// Load retrieves the record with the given ID.
	Load(id string) (*Record, error)

	// List returns metadata for all stored records, oldest first.
	List() ([]RecordInfo, error)

	// Walk calls fn for every stored record until fn returns an error.
	Walk(fn func(*Record) error) error

	// Delete removes the record with the given ID.
	Delete(id string) error

	Close() error
}

// Kinds accepted by NewStore.
const (
	KindFS     = "fs"
	KindBadger = "badger"
)

// NewStore opens the store of the given kind rooted at dir. The badger
// database lives in dir/badger so job journals can share dir.
func NewStore(kind, dir string) (Store, error) {
	switch strings.ToLower(kind) {
	case "", KindFS:
		return NewFSStore(dir)
	case KindBadger:
		return NewBadgerStore(filepath.Join(dir, "badger"))
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "record not found: " + e.ID
	}
	return "record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

func validateID(id string) error {
	if id == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return &ValidationError{Field: "ID", Reason: "contains path characters"}
	}
	return nil
}
