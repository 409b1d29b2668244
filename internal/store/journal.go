package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JournalEntry records the outcome of indexing one file in a job.
// Each entry is serialized as a JSON line in journal.jsonl.
type JournalEntry struct {
	Path string `json:"path"`

	// RecordID is set when the file was fingerprinted and stored
	RecordID string `json:"recordId,omitempty"`

	// Error is set when the file was skipped
	Error string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

func journalPath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, "journal.jsonl")
}

// JournalWriter appends entries to a job's JSONL journal.
// It is safe for concurrent use.
type JournalWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewJournalWriter creates <baseDir>/jobs/<jobID>/journal.jsonl, truncating
// any earlier journal of the same job.
func NewJournalWriter(baseDir, jobID string) (*JournalWriter, error) {
	if err := validateID(jobID); err != nil {
		return nil, err
	}

	path := journalPath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &JournalWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 32*1024),
		path:   path,
	}, nil
}

// Write buffers one entry; it reaches disk on Flush or Close.
func (jw *JournalWriter) Write(entry JournalEntry) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	if _, err := jw.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (jw *JournalWriter) Flush() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := jw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the journal file.
func (jw *JournalWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := jw.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the journal file.
func (jw *JournalWriter) Path() string {
	return jw.path
}

// ReadJournal returns every entry of a job's journal.
func ReadJournal(baseDir, jobID string) ([]JournalEntry, error) {
	if err := validateID(jobID); err != nil {
		return nil, err
	}

	file, err := os.Open(journalPath(baseDir, jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{ID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	return decodeJournal(file)
}

func decodeJournal(r io.Reader) ([]JournalEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 16*1024), 1024*1024)

	entries := []JournalEntry{}
	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}

// DeleteJournal removes a job's journal. Returns nil if it doesn't exist.
func DeleteJournal(baseDir, jobID string) error {
	if err := validateID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Dir(journalPath(baseDir, jobID))); err != nil {
		return fmt.Errorf("failed to delete journal: %w", err)
	}
	return nil
}
