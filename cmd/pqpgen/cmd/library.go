package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pqpgen/pkg/config"
	"pqpgen/pkg/core"
	"pqpgen/pkg/library"
	"pqpgen/pkg/reader/psmtsv"
	"pqpgen/pkg/writer/pqp"
)

var (
	// Flags for library command
	configFile  string
	outputFile  string
	storeOutput string

	rtCalibration      bool
	rtReferenceFile    string
	rtReferenceRunPath string
	rtFilter           string
	rtLowessFraction   float64
	rtPSMFDR           float64

	imCalibration      bool
	imReferenceFile    string
	imReferenceRunPath string
	imFilter           string
	imLowessFraction   float64
	imPSMFDR           float64

	psmFDR     float64
	peptideFDR float64
	proteinFDR float64
	pi0Lambda  []float64

	minPeptides     int
	proteotypic     bool
	consensus       bool
	minFragmentRuns int
	noFDR           bool
)

var libraryCmd = &cobra.Command{
	Use:   "library [psm/peak TSV files...]",
	Short: "Build a spectral library from scored PSM tables",
	Long: `Build a spectral library from per-run PSM tables and their matching
peak tables. Runs are paired by file name: every <run>.psms.tsv needs a
<run>.peaks.tsv next to it.

Examples:
  # Consensus library from three runs
  pqpgen library --out library.tsv run_a.psms.tsv run_a.peaks.tsv run_b.psms.tsv run_b.peaks.tsv run_c.psms.tsv run_c.peaks.tsv

  # Also write the relational PQP store and skip ion mobility calibration
  pqpgen library --out library.tsv --store library.pqp --im-calibration=false runs/*.tsv

  # Overlay options from a YAML file, flags still win
  pqpgen library --config pqpgen.yaml --out library.tsv runs/*.tsv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLibrary,
}

func init() {
	defaults := config.DefaultLibrary()
	f := libraryCmd.Flags()

	f.StringVar(&configFile, "config", "", "YAML file with pipeline options (flags take precedence)")
	f.StringVarP(&outputFile, "out", "o", "", "Output library TSV path (required)")
	f.StringVar(&storeOutput, "store", "", "Also write a relational PQP store at this path")

	f.BoolVar(&rtCalibration, "rt-calibration", defaults.RTCalibration, "Calibrate retention times against a reference run")
	f.StringVar(&rtReferenceFile, "rt-reference", "", "Explicit retention time reference run TSV (skips automatic selection)")
	f.StringVar(&rtReferenceRunPath, "rt-reference-run-path", defaults.RTReferenceRunPath, "Where to persist the selected retention time reference run")
	f.StringVar(&rtFilter, "rt-filter", "", "Only consider runs whose identifier contains this tag as retention time reference")
	f.Float64Var(&rtLowessFraction, "rt-lowess-fraction", defaults.RTLowessFraction, "Lowess fraction for retention time calibration (0 = cross-validated)")
	f.Float64Var(&rtPSMFDR, "rt-psm-fdr-threshold", defaults.RTPSMFDR, "Q-value threshold for retention time calibration anchors")

	f.BoolVar(&imCalibration, "im-calibration", defaults.IMCalibration, "Calibrate ion mobility against a reference run")
	f.StringVar(&imReferenceFile, "im-reference", "", "Explicit ion mobility reference run TSV (skips automatic selection)")
	f.StringVar(&imReferenceRunPath, "im-reference-run-path", defaults.IMReferenceRunPath, "Where to persist the selected ion mobility reference run")
	f.StringVar(&imFilter, "im-filter", "", "Only consider runs whose identifier contains this tag as ion mobility reference")
	f.Float64Var(&imLowessFraction, "im-lowess-fraction", defaults.IMLowessFraction, "Lowess fraction for ion mobility calibration (0 = cross-validated)")
	f.Float64Var(&imPSMFDR, "im-psm-fdr-threshold", defaults.IMPSMFDR, "Q-value threshold for ion mobility calibration anchors")

	f.Float64Var(&psmFDR, "psm-fdr-threshold", defaults.PSMFDR, "PSM-level q-value threshold for library evidence")
	f.Float64Var(&peptideFDR, "peptide-fdr-threshold", defaults.PeptideFDR, "Global peptide-level FDR threshold")
	f.Float64Var(&proteinFDR, "protein-fdr-threshold", defaults.ProteinFDR, "Global protein-level FDR threshold")
	f.Float64SliceVar(&pi0Lambda, "pi0-lambda", defaults.Pi0Lambda[:], "Pi0 lambda grid as start,end,step (end and step 0 fix pi0 to start)")

	f.IntVar(&minPeptides, "min-peptides", defaults.MinPeptides, "Minimum shared peptides required for calibration")
	f.BoolVar(&proteotypic, "proteotypic", defaults.Proteotypic, "Keep only peptides mapping to a single protein")
	f.BoolVar(&consensus, "consensus", defaults.Consensus, "Merge replicates into consensus spectra (false keeps the best replicate)")
	f.IntVar(&minFragmentRuns, "min-fragment-runs", defaults.MinFragmentRuns, "Minimum runs a fragment must appear in to survive the consensus")
	f.BoolVar(&noFDR, "nofdr", defaults.NoFDR, "Trust precomputed q-values instead of re-estimating FDR")

	libraryCmd.MarkFlagRequired("out")
}

// libraryConfig layers defaults, the optional YAML file and explicit
// flags, in that order.
func libraryConfig(cmd *cobra.Command) (config.Library, error) {
	cfg := config.DefaultLibrary()
	if configFile != "" {
		if err := cfg.ApplyFile(configFile); err != nil {
			return cfg, err
		}
	}

	flagOverrides := map[string]func(){
		"out":                   func() { cfg.Output = outputFile },
		"store":                 func() { cfg.StoreOutput = storeOutput },
		"rt-calibration":        func() { cfg.RTCalibration = rtCalibration },
		"rt-reference":          func() { cfg.RTReferenceFile = rtReferenceFile },
		"rt-reference-run-path": func() { cfg.RTReferenceRunPath = rtReferenceRunPath },
		"rt-filter":             func() { cfg.RTFilter = rtFilter },
		"rt-lowess-fraction":    func() { cfg.RTLowessFraction = rtLowessFraction },
		"rt-psm-fdr-threshold":  func() { cfg.RTPSMFDR = rtPSMFDR },
		"im-calibration":        func() { cfg.IMCalibration = imCalibration },
		"im-reference":          func() { cfg.IMReferenceFile = imReferenceFile },
		"im-reference-run-path": func() { cfg.IMReferenceRunPath = imReferenceRunPath },
		"im-filter":             func() { cfg.IMFilter = imFilter },
		"im-lowess-fraction":    func() { cfg.IMLowessFraction = imLowessFraction },
		"im-psm-fdr-threshold":  func() { cfg.IMPSMFDR = imPSMFDR },
		"psm-fdr-threshold":     func() { cfg.PSMFDR = psmFDR },
		"peptide-fdr-threshold": func() { cfg.PeptideFDR = peptideFDR },
		"protein-fdr-threshold": func() { cfg.ProteinFDR = proteinFDR },
		"min-peptides":          func() { cfg.MinPeptides = minPeptides },
		"proteotypic":           func() { cfg.Proteotypic = proteotypic },
		"consensus":             func() { cfg.Consensus = consensus },
		"min-fragment-runs":     func() { cfg.MinFragmentRuns = minFragmentRuns },
		"nofdr":                 func() { cfg.NoFDR = noFDR },
	}
	for name, apply := range flagOverrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}

	if cmd.Flags().Changed("pi0-lambda") {
		if len(pi0Lambda) != 3 {
			return cfg, fmt.Errorf("--pi0-lambda needs exactly three values (start,end,step), got %d", len(pi0Lambda))
		}
		copy(cfg.Pi0Lambda[:], pi0Lambda)
	}

	return cfg, nil
}

func runLibrary(cmd *cobra.Command, args []string) error {
	cfg, err := libraryConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()

	pairs, err := psmtsv.MatchRunFiles(args)
	if err != nil {
		return err
	}

	runs := make([]core.Run, 0, len(pairs))
	for _, pair := range pairs {
		run, err := psmtsv.ReadRun(pair[0], pair[1])
		if err != nil {
			return err
		}
		logger.Info("read run", "run", run.ID, "psms", len(run.PSMs))
		runs = append(runs, run)
	}

	entries, err := library.New(cfg, logger).Generate(runs)
	if err != nil {
		return err
	}
	logger.Info("generated library", "entries", len(entries))

	if err := library.WriteTSV(cfg.Output, entries); err != nil {
		return err
	}
	logger.Info("wrote library", "path", cfg.Output)

	if cfg.StoreOutput != "" {
		if err := pqp.WriteStore(cfg.StoreOutput, entries); err != nil {
			return err
		}
		logger.Info("wrote store", "path", cfg.StoreOutput)
	}

	return nil
}
