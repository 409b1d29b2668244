package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/store"
)

// ImageExtensions lists the file extensions picked up by CollectImages.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

// CollectImages returns the image files in dir, sorted by path.
func CollectImages(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path))) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	slices.Sort(paths)
	return paths, nil
}

// Result is the outcome of indexing one file.
type Result struct {
	Path   string
	Record *store.Record
	Err    error
}

// Indexer fingerprints image files, persists the records and adds them to
// an optional in-memory index.
type Indexer struct {
	Builder backend.Builder
	Store   store.Store
	Index   *Index // may be nil
	Workers int
	Logger  *slog.Logger
}

// IndexFile fingerprints one file and stores the resulting record. A file
// indexed before keeps its record ID and is overwritten.
func (ix *Indexer) IndexFile(ctx context.Context, path string) (*store.Record, error) {
	px, err := fingerprint.DecodeFile(path)
	if err != nil {
		return nil, err
	}

	fp, built, err := backend.BuildWithBackend(ctx, ix.Builder, px)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint %s: %w", path, err)
	}

	rec := store.NewFileRecord(path, px.Width, px.Height, string(built), fp)
	if err := ix.Store.Save(rec); err != nil {
		return nil, fmt.Errorf("failed to save record for %s: %w", path, err)
	}
	if ix.Index != nil {
		ix.Index.Add(rec.ID, rec.Source, rec.Fingerprint)
	}
	return rec, nil
}

// Run indexes paths with up to Workers files in flight and calls report
// once per file. report may be called concurrently. Per-file failures are
// reported, not returned; Run only fails when ctx is cancelled.
func (ix *Indexer) Run(ctx context.Context, paths []string, report func(Result)) error {
	logger := ix.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := ix.Workers
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, path := range paths {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := ix.IndexFile(gctx, path)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if err != nil {
				logger.Warn("Failed to index file", "path", path, "error", err)
			} else {
				logger.Debug("Indexed file", "path", path, "id", rec.ID, "keys", rec.Fingerprint.Len())
			}
			if report != nil {
				report(Result{Path: path, Record: rec, Err: err})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
