package store

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
)

// Record is a persisted fingerprint with the metadata of its source image.
type Record struct {
	// ID is the unique identifier of the record (UUID)
	ID string `json:"id"`

	// Source names the image the fingerprint was built from (path or upload label)
	Source string `json:"source"`

	Width  int `json:"width"`
	Height int `json:"height"`

	// Backend is the builder that produced the fingerprint
	Backend string `json:"backend"`

	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`

	CreatedAt time.Time `json:"createdAt"`
}

// RecordInfo is a record without its fingerprint, for listings.
type RecordInfo struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Backend   string    `json:"backend"`
	Keys      int       `json:"keys"` // populated fingerprint keys
	CreatedAt time.Time `json:"createdAt"`
}

// NewRecord creates a record with a fresh ID and the current time.
func NewRecord(source string, width, height int, backend string, fp fingerprint.Fingerprint) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Source:      source,
		Width:       width,
		Height:      height,
		Backend:     backend,
		Fingerprint: fp,
		CreatedAt:   time.Now().UTC(),
	}
}

// fileNamespace scopes the name-based IDs of records built from files.
var fileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("photofp:file"))

// NewFileRecord creates a record for the image file at path. The ID is
// derived from the absolute path, so fingerprinting the same file again
// overwrites the earlier record instead of adding one.
func NewFileRecord(path string, width, height int, backend string, fp fingerprint.Fingerprint) *Record {
	rec := NewRecord(path, width, height, backend, fp)
	rec.ID = FileID(path)
	return rec
}

// FileID returns the record ID of the image file at path.
func FileID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return uuid.NewSHA1(fileNamespace, []byte(filepath.Clean(path))).String()
}

// ToInfo converts a full Record to RecordInfo (metadata only).
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		ID:        r.ID,
		Source:    r.Source,
		Width:     r.Width,
		Height:    r.Height,
		Backend:   r.Backend,
		Keys:      r.Fingerprint.Len(),
		CreatedAt: r.CreatedAt,
	}
}

// Validate checks that the record is complete and that its fingerprint
// matches the recorded dimensions.
func (r *Record) Validate() error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	if r.Source == "" {
		return &ValidationError{Field: "Source", Reason: "cannot be empty"}
	}
	if r.Width < 0 || r.Height < 0 {
		return &ValidationError{Field: "Width/Height", Reason: "cannot be negative"}
	}
	if r.CreatedAt.IsZero() {
		return &ValidationError{Field: "CreatedAt", Reason: "cannot be zero"}
	}
	if got, want := r.Fingerprint.Pixels(), r.Width*r.Height; got != want {
		return &ValidationError{
			Field:  "Fingerprint",
			Reason: fmt.Sprintf("built from %d pixels, expected %d for %dx%d", got, want, r.Width, r.Height),
		}
	}
	if !r.Fingerprint.IsEmpty() {
		if sum := r.Fingerprint.Sum(); math.Abs(sum-1) > 1e-6 {
			return &ValidationError{Field: "Fingerprint", Reason: fmt.Sprintf("weights sum to %f", sum)}
		}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

func sortInfos(infos []RecordInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
