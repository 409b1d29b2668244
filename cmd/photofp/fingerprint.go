package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/fingerprint/backend"
	"github.com/cwbudde/photofingerprint/internal/store"
)

var saveFingerprint bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <image>...",
	Short: "Build and print image fingerprints",
	Long: `Builds the fingerprint of each image and prints it as JSON, one record per
line. With --save the records are also written to the store.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFingerprint,
}

func init() {
	fingerprintCmd.Flags().BoolVar(&saveFingerprint, "save", false, "Persist the fingerprints to the store")
	rootCmd.AddCommand(fingerprintCmd)
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	builder, cleanup, err := newBuilder()
	if err != nil {
		return err
	}
	defer cleanup()

	var st store.Store
	if saveFingerprint {
		if st, err = openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	enc := json.NewEncoder(os.Stdout)
	for _, path := range args {
		px, err := fingerprint.DecodeFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fp, built, err := backend.BuildWithBackend(cmd.Context(), builder, px)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		rec := store.NewFileRecord(path, px.Width, px.Height, string(built), fp)
		if st != nil {
			if err := st.Save(rec); err != nil {
				return err
			}
			slog.Info("Fingerprint saved", "id", rec.ID, "source", path)
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}
