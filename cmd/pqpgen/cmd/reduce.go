package cmd

import (
	"github.com/spf13/cobra"

	"pqpgen/pkg/config"
	"pqpgen/pkg/reduce"
)

var (
	// Flags for reduce command
	reduceInput    string
	reduceOutput   string
	reduceBins     int
	reducePeptides int
)

var reduceCmd = &cobra.Command{
	Use:   "reduce",
	Short: "Reduce a PQP store to a retention-time-stratified subset",
	Long: `Reduce a relational PQP store to a small subset of precursors spread
evenly over the retention time range, for example as an alignment
library. Non-decoy precursors are binned by retention time and the
first few of each bin are kept; everything depending on a removed
precursor is deleted with it.

Examples:
  # Reduce into a new store, keeping 5 precursors in each of 10 bins
  pqpgen reduce --in library.pqp --out reduced.pqp

  # Reduce in place with a denser sampling
  pqpgen reduce --in library.pqp --bins 25 --peptides 10`,
	RunE: runReduce,
}

func init() {
	defaults := config.DefaultReduce()
	f := reduceCmd.Flags()

	f.StringVarP(&reduceInput, "in", "i", "", "Input PQP store (required)")
	f.StringVarP(&reduceOutput, "out", "o", "", "Output PQP store (empty reduces the input in place)")
	f.IntVar(&reduceBins, "bins", defaults.Bins, "Number of equal-width retention time bins")
	f.IntVar(&reducePeptides, "peptides", defaults.PeptidesPerBin, "Precursors to keep per bin")

	reduceCmd.MarkFlagRequired("in")
}

func runReduce(cmd *cobra.Command, args []string) error {
	cfg := config.Reduce{
		Input:          reduceInput,
		Output:         reduceOutput,
		Bins:           reduceBins,
		PeptidesPerBin: reducePeptides,
	}
	return reduce.Reduce(cfg, newLogger())
}
