package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/index"
	"github.com/cwbudde/photofingerprint/internal/store"
)

var (
	indexRecursive bool
	indexWorkers   int
)

var indexCmd = &cobra.Command{
	Use:   "index <dir>",
	Short: "Fingerprint and store every image in a directory",
	Long: `Fingerprints the PNG, JPEG and GIF files in dir and saves one record per
file. Each file's outcome is written to a journal under <data-dir>/jobs/.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexRecursive, "recursive", "r", false, "Descend into subdirectories")
	indexCmd.Flags().IntVar(&indexWorkers, "workers", 0, "Files fingerprinted in parallel (0 = config value)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	paths, err := index.CollectImages(args[0], indexRecursive)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	builder, cleanup, err := newBuilder()
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	jobID := uuid.NewString()
	journal, err := store.NewJournalWriter(cfg.DataDir, jobID)
	if err != nil {
		return err
	}
	defer journal.Close()

	workers := cfg.Index.Workers
	if indexWorkers > 0 {
		workers = indexWorkers
	}
	ix := &index.Indexer{Builder: builder, Store: st, Workers: workers, Logger: logger}

	slog.Info("Indexing", "dir", args[0], "files", len(paths), "workers", workers, "backend", builder.Backend())

	var processed, failed atomic.Int64
	start := time.Now()
	err = ix.Run(cmd.Context(), paths, func(r index.Result) {
		entry := store.JournalEntry{Path: r.Path}
		if r.Err != nil {
			entry.Error = r.Err.Error()
			failed.Add(1)
		} else {
			entry.RecordID = r.Record.ID
			processed.Add(1)
		}
		if werr := journal.Write(entry); werr != nil {
			slog.Warn("Failed to write journal entry", "error", werr)
		}
	})
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d of %d image(s) in %s, %d failed.\n",
		processed.Load(), len(paths), time.Since(start).Round(time.Millisecond), failed.Load())
	fmt.Printf("Journal: %s\n", journal.Path())
	return nil
}
