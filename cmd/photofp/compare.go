package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
)

var (
	verifyBackend   bool
	verifyTolerance float64
)

var compareCmd = &cobra.Command{
	Use:   "compare <image-a> <image-b>",
	Short: "Score the similarity of two images",
	Long: `Prints the cosine similarity of the two images' fingerprints (1 = same
color layout, 0 = nothing in common). With --verify, each image is also built
on the CPU and the configured backend and the per-key deltas are reported.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().BoolVar(&verifyBackend, "verify", false, "Cross-check the backend against the CPU builder")
	compareCmd.Flags().Float64Var(&verifyTolerance, "tolerance", 1e-9, "Maximum per-key weight delta accepted by --verify")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	builder, cleanup, err := newBuilder()
	if err != nil {
		return err
	}
	defer cleanup()

	fps := make([]fingerprint.Fingerprint, len(args))
	for i, path := range args {
		px, err := fingerprint.DecodeFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if fps[i], err = builder.Build(cmd.Context(), px); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		if verifyBackend {
			report, err := backend.CrossCheck(cmd.Context(), backend.NewCPU(), builder, px, verifyTolerance)
			if err != nil {
				return err
			}
			status := "ok"
			if !report.Agree() {
				status = "MISMATCH"
			}
			fmt.Printf("%s: %s %d keys, %s %d keys, max delta %.3g, similarity %.6f [%s]\n",
				path, report.A, report.KeysA, report.B, report.KeysB, report.MaxDelta, report.Similarity, status)
			if !report.Agree() {
				return fmt.Errorf("%s: %s and %s disagree by %.3g", path, report.A, report.B, report.MaxDelta)
			}
		}
	}

	fmt.Printf("%.6f\n", fingerprint.Similarity(fps[0], fps[1]))
	return nil
}
