package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage stored fingerprint records",
	Long:  `Manage stored fingerprint records including listing and cleaning old records.`,
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored records",
	Long:  `Display all records with ID, creation time, image size, populated keys, backend and source.`,
	RunE:  runListRecords,
}

var cleanRecordsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old records",
	Long: `Delete old records based on retention policy.
You can keep only the newest N records or delete records older than N days.`,
	RunE: runCleanRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.AddCommand(listRecordsCmd)
	recordsCmd.AddCommand(cleanRecordsCmd)

	cleanRecordsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N records (0 = keep all)")
	cleanRecordsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete records older than N days (0 = no age limit)")
	cleanRecordsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func runListRecords(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.List()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tSIZE\tKEYS\tBACKEND\tSOURCE")
	fmt.Fprintln(w, "--\t-------\t----\t----\t-------\t------")

	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%s\t%s\n",
			shortID(info.ID),
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			info.Width, info.Height,
			info.Keys,
			info.Backend,
			info.Source,
		)
	}

	w.Flush()

	sizeStr := "unknown"
	if size, err := getDirSize(cfg.DataDir); err == nil {
		sizeStr = formatBytes(size)
	}
	fmt.Printf("\nTotal records: %d (%s on disk)\n", len(infos), sizeStr)
	return nil
}

func runCleanRecords(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	infos, err := st.List()
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No records to clean.")
		return nil
	}

	toDelete := selectRecordsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No records match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d record(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n",
			shortID(info.ID),
			info.Source,
			info.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := st.Delete(info.ID); err != nil {
			slog.Error("Failed to delete record", "id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted record", "id", info.ID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d record(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRecordsForDeletion applies the retention policy. infos must be
// sorted oldest first, as Store.List returns them.
func selectRecordsForDeletion(infos []store.RecordInfo, keepLast int, olderThanDays int, now time.Time) []store.RecordInfo {
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.CreatedAt.Before(cutoff) {
				selected[info.ID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		for _, info := range infos[:len(infos)-keepLast] {
			selected[info.ID] = true
		}
	}

	var toDelete []store.RecordInfo
	for _, info := range infos {
		if selected[info.ID] {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
