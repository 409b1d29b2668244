package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query indexing jobs on a running server",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(serverURL + "/api/v1/jobs")
	}
	return getJobStatus(serverURL+"/api/v1/jobs/"+args[0], args[0])
}

func fetchJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(url string) error {
	var jobs []server.Job
	if _, err := fetchJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job.ID)
		fmt.Printf("  State: %s\n", job.State)
		fmt.Printf("  Dir: %s\n", job.Config.Dir)
		fmt.Printf("  Progress: %d/%d (%d failed)\n", job.Processed+job.Failed, job.Total, job.Failed)
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	var job server.Job
	code, err := fetchJSON(url, &job)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("State: %s\n", job.State)
	fmt.Println()

	fmt.Println("Configuration:")
	fmt.Printf("  Dir: %s\n", job.Config.Dir)
	fmt.Printf("  Recursive: %v\n", job.Config.Recursive)
	fmt.Println()

	fmt.Println("Progress:")
	fmt.Printf("  Files: %d\n", job.Total)
	fmt.Printf("  Indexed: %d\n", job.Processed)
	fmt.Printf("  Failed: %d\n", job.Failed)

	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	elapsed := end.Sub(job.StartTime)
	fmt.Printf("  Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if secs := elapsed.Seconds(); secs > 0 && job.Processed > 0 {
		fmt.Printf("  Throughput: %.1f images/sec\n", float64(job.Processed)/secs)
	}

	if job.Error != "" {
		fmt.Printf("\nError: %s\n", job.Error)
	}

	return nil
}
