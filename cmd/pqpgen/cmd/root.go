// Package cmd provides CLI command implementations
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "pqpgen",
	Short: "pqpgen - Peptide spectral library generator",
	Long: `pqpgen builds peptide spectral libraries from scored PSM tables.

It consolidates multiple runs into one library with support for:
- Retention time and ion mobility calibration against a reference run
- PSM, peptide and protein level FDR control
- Consensus or best-replicate fragment merging
- Tabular (TSV) and relational (PQP SQLite) output
- Reduction of a full store to an alignment subset`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the logger handed to the pipeline packages.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(reduceCmd)
}
