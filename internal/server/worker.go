package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/photofingerprint/internal/index"
	"github.com/cwbudde/photofingerprint/internal/store"
)

// runJob fingerprints every image under the job's directory. Each file's
// outcome is appended to the job journal under journalDir.
func runJob(ctx context.Context, jm *JobManager, ix *index.Indexer, journalDir, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	paths, err := index.CollectImages(job.Config.Dir, job.Config.Recursive)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	journal, err := store.NewJournalWriter(journalDir, jobID)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	defer journal.Close()

	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Total = len(paths)
	})
	slog.Info("Starting job", "job_id", jobID, "dir", job.Config.Dir, "files", len(paths))

	start := time.Now()
	err = ix.Run(ctx, paths, func(r index.Result) {
		entry := store.JournalEntry{Path: r.Path}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		} else {
			entry.RecordID = r.Record.ID
		}
		if werr := journal.Write(entry); werr != nil {
			slog.Warn("Failed to write journal entry", "job_id", jobID, "error", werr)
		}

		var snapshot Job
		jm.UpdateJob(jobID, func(j *Job) {
			if r.Err != nil {
				j.Failed++
			} else {
				j.Processed++
			}
			snapshot = *j
		})
		jm.broadcaster.Broadcast(progressEvent(&snapshot))
	})

	// The journal must be readable once the job reports a final state
	if ferr := journal.Flush(); ferr != nil {
		slog.Warn("Failed to flush journal", "job_id", jobID, "error", ferr)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		markJobCancelled(jm, jobID)
		return err
	}
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	var final Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
		final = *j
	})

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"processed", final.Processed,
		"failed", final.Failed,
	)
	jm.broadcaster.Broadcast(progressEvent(&final))
	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	var snapshot Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		snapshot = *j
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	jm.broadcaster.Broadcast(progressEvent(&snapshot))
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	var snapshot Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		snapshot = *j
	})
	slog.Info("Job cancelled", "job_id", jobID)
	jm.broadcaster.Broadcast(progressEvent(&snapshot))
}
