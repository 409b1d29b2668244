package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/photofingerprint/internal/fingerprint"
	"github.com/cwbudde/photofingerprint/internal/index"
)

var (
	searchK   int
	searchMin float64
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find stored images similar to an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchK, "k", 0, "Maximum number of matches (0 = config value)")
	searchCmd.Flags().Float64Var(&searchMin, "min", -1, "Minimum score (negative = config value)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	k := cfg.Search.K
	if searchK > 0 {
		k = searchK
	}
	minScore := cfg.Search.MinScore
	if searchMin >= 0 {
		minScore = searchMin
	}

	builder, cleanup, err := newBuilder()
	if err != nil {
		return err
	}
	defer cleanup()

	px, err := fingerprint.DecodeFile(args[0])
	if err != nil {
		return err
	}
	fp, err := builder.Build(cmd.Context(), px)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	idx, err := index.FromStore(st)
	if err != nil {
		return err
	}

	matches := idx.Search(fp, k, minScore)
	if len(matches) == 0 {
		fmt.Printf("No matches among %d stored fingerprint(s).\n", idx.Len())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tID\tSOURCE")
	fmt.Fprintln(w, "-----\t--\t------")
	for _, m := range matches {
		fmt.Fprintf(w, "%.6f\t%s\t%s\n", m.Score, m.ID, m.Source)
	}
	return w.Flush()
}
