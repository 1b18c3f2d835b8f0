package library

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"pqpgen/pkg/calib"
	"pqpgen/pkg/config"
	"pqpgen/pkg/core"
	"pqpgen/pkg/fdr"
)

// Generator runs the multi-run consolidation pipeline: per-run FDR,
// reference selection, axis calibration, cross-run merge and the final
// library-level filters.
type Generator struct {
	cfg    config.Library
	logger *slog.Logger
	pi0    fdr.Pi0Estimator
}

// New creates a Generator with the default pi0 estimation strategy.
func New(cfg config.Library, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:    cfg,
		logger: logger,
		pi0:    &fdr.StoreyPi0{},
	}
}

// SetPi0Estimator replaces the pi0 estimation strategy. Passing nil
// removes the capability; estimation then fails fast unless a fixed
// pi0 is configured.
func (g *Generator) SetPi0Estimator(est fdr.Pi0Estimator) {
	g.pi0 = est
}

// Generate consolidates the runs into the candidate library and applies
// all entity-level filters. The returned entries are deterministically
// ordered and ready to be written.
func (g *Generator) Generate(runs []core.Run) ([]core.LibraryEntry, error) {
	if err := g.cfg.Validate(); err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("no input runs")
	}

	if !g.cfg.NoFDR {
		g.assignPSMQValues(runs)
	}

	var err error
	runs, err = g.calibrateAxis(runs, calib.AxisRT)
	if err != nil {
		return nil, err
	}
	runs, err = g.calibrateAxis(runs, calib.AxisIM)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("all runs were excluded during calibration")
	}

	acceptedPeptides, acceptedProteins, err := g.globalFilters(runs)
	if err != nil {
		return nil, err
	}

	// Library-level PSM filter: decoys and PSMs above the threshold do
	// not contribute evidence to the merge.
	libraryRuns := make([]core.Run, 0, len(runs))
	total := 0
	for _, run := range runs {
		kept := core.Run{ID: run.ID}
		for i := range run.PSMs {
			psm := &run.PSMs[i]
			if psm.Decoy || len(psm.Peaks) == 0 {
				continue
			}
			if psm.QValue > g.cfg.PSMFDR {
				continue
			}
			kept.PSMs = append(kept.PSMs, *psm)
		}
		total += len(kept.PSMs)
		libraryRuns = append(libraryRuns, kept)
	}
	if total == 0 {
		return nil, fmt.Errorf("no PSMs passed the %.4f PSM FDR threshold", g.cfg.PSMFDR)
	}

	var entries []core.LibraryEntry
	if g.cfg.Consensus {
		entries = Consensus(libraryRuns, g.cfg.MinFragmentRuns)
	} else {
		entries = BestReplicate(libraryRuns)
	}
	g.logger.Info("merged candidate library", "precursors", len(entries), "consensus", g.cfg.Consensus)

	if acceptedPeptides != nil {
		kept := entries[:0]
		for _, e := range entries {
			if acceptedPeptides[e.ModifiedPeptide] {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if g.cfg.Proteotypic {
		entries = FilterProteotypic(entries)
	}
	if acceptedProteins != nil {
		entries = FilterByProtein(entries, acceptedProteins)
	}

	valid := entries[:0]
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			g.logger.Warn("dropping invalid library entry", "precursor", entries[i].Key(), "err", err)
			continue
		}
		valid = append(valid, entries[i])
	}
	entries = valid

	g.logger.Info("library assembled", "precursors", len(entries))
	return entries, nil
}

// assignPSMQValues computes model-based q-values from PEPs per run.
func (g *Generator) assignPSMQValues(runs []core.Run) {
	for r := range runs {
		psms := runs[r].PSMs
		peps := make([]float64, len(psms))
		for i := range psms {
			peps[i] = psms[i].PEP
		}
		qvalues := fdr.ModelQValues(peps)
		for i := range psms {
			psms[i].QValue = qvalues[i]
		}
	}
}

// alignmentSurvivors restricts a run to the high-confidence non-decoy
// PSMs used as calibration anchors.
func alignmentSurvivors(run core.Run, threshold float64) core.Run {
	kept := core.Run{ID: run.ID}
	for i := range run.PSMs {
		psm := &run.PSMs[i]
		if psm.Decoy || psm.QValue > threshold {
			continue
		}
		kept.PSMs = append(kept.PSMs, *psm)
	}
	return kept
}

// calibrateAxis selects the axis reference, fits per-run mappings and
// rewrites the axis coordinate of every PSM onto the reference scale.
// Runs that cannot be calibrated are excluded from the library.
func (g *Generator) calibrateAxis(runs []core.Run, axis calib.Axis) ([]core.Run, error) {
	var enabled bool
	var selCfg calib.SelectorConfig
	var fraction float64
	var threshold float64
	var refRunPath string
	switch axis {
	case calib.AxisRT:
		enabled = g.cfg.RTCalibration
		selCfg = calib.SelectorConfig{
			ReferenceFile: g.cfg.RTReferenceFile,
			FilterTag:     g.cfg.RTFilter,
			MinPeptides:   g.cfg.MinPeptides,
		}
		fraction = g.cfg.RTLowessFraction
		threshold = g.cfg.RTPSMFDR
		refRunPath = g.cfg.RTReferenceRunPath
	case calib.AxisIM:
		enabled = g.cfg.IMCalibration
		selCfg = calib.SelectorConfig{
			ReferenceFile: g.cfg.IMReferenceFile,
			FilterTag:     g.cfg.IMFilter,
			MinPeptides:   g.cfg.MinPeptides,
		}
		fraction = g.cfg.IMLowessFraction
		threshold = g.cfg.IMPSMFDR
		refRunPath = g.cfg.IMReferenceRunPath
	}
	if !enabled {
		return runs, nil
	}

	anchorRuns := make([]core.Run, 0, len(runs))
	for _, run := range runs {
		anchorRuns = append(anchorRuns, alignmentSurvivors(run, threshold))
	}

	ref, err := calib.SelectReference(axis, anchorRuns, selCfg)
	if err != nil {
		return nil, fmt.Errorf("%s reference selection failed: %w", axis, err)
	}
	if ref == nil {
		g.logger.Warn("no reference run meets the calibration threshold, axis disabled",
			"axis", axis, "min_peptides", g.cfg.MinPeptides)
		return runs, nil
	}
	if ref.RunID != "" {
		g.logger.Info("selected reference run", "axis", axis, "run", ref.RunID, "anchors", len(ref.Values))
	}
	if err := ref.Write(refRunPath); err != nil {
		return nil, fmt.Errorf("failed to persist %s reference run: %w", axis, err)
	}

	// The overloaded "0 means cross-validate" CLI convention becomes an
	// explicit tagged choice here.
	frac := calib.FixedFraction(fraction)
	if fraction == 0 {
		frac = calib.CrossValidated()
	}

	calibrated := make([]core.Run, 0, len(runs))
	for i, run := range runs {
		mapping, err := calib.Calibrate(axis, anchorRuns[i].PSMs, ref, frac, g.cfg.MinPeptides)
		if err != nil {
			if errors.Is(err, calib.ErrInsufficientData) {
				g.logger.Warn("run excluded from library", "axis", axis, "run", run.ID, "err", err)
				continue
			}
			return nil, fmt.Errorf("%s calibration of run %s failed: %w", axis, run.ID, err)
		}

		// Calibrated PSMs are derived records; the caller's slices stay
		// untouched.
		derived := core.Run{ID: run.ID, PSMs: make([]core.PSM, len(run.PSMs))}
		copy(derived.PSMs, run.PSMs)
		for j := range derived.PSMs {
			psm := &derived.PSMs[j]
			switch axis {
			case calib.AxisRT:
				psm.RetentionTime = mapping.Apply(psm.RetentionTime)
			case calib.AxisIM:
				if psm.IonMobility != nil {
					im := mapping.Apply(*psm.IonMobility)
					psm.IonMobility = &im
				}
			}
		}
		calibrated = append(calibrated, derived)
	}

	return calibrated, nil
}

// globalFilters runs the peptide- and protein-level FDR estimations
// over the pooled runs. Returns nil maps in nofdr mode.
func (g *Generator) globalFilters(runs []core.Run) (map[string]bool, map[string]bool, error) {
	if g.cfg.NoFDR {
		return nil, nil, nil
	}

	lambda := fdr.Lambda{
		Start: g.cfg.Pi0Lambda[0],
		End:   g.cfg.Pi0Lambda[1],
		Step:  g.cfg.Pi0Lambda[2],
	}
	est := &fdr.Estimator{Pi0: g.pi0, Lambda: lambda}

	// Best PEP per modified peptide across all runs.
	peptidePEP := make(map[string]float64)
	peptideDecoy := make(map[string]bool)
	proteinPEP := make(map[string]float64)
	proteinDecoy := make(map[string]bool)
	for _, run := range runs {
		for i := range run.PSMs {
			psm := &run.PSMs[i]
			if prev, ok := peptidePEP[psm.ModifiedPeptide]; !ok || psm.PEP < prev {
				peptidePEP[psm.ModifiedPeptide] = psm.PEP
				peptideDecoy[psm.ModifiedPeptide] = psm.Decoy
			}
			for _, acc := range core.SplitProteinIDs(psm.ProteinID) {
				if prev, ok := proteinPEP[acc]; !ok || psm.PEP < prev {
					proteinPEP[acc] = psm.PEP
					proteinDecoy[acc] = psm.Decoy
				}
			}
		}
	}

	acceptedPeptides, pi0, err := applyLevel(est, peptidePEP, peptideDecoy, g.cfg.PeptideFDR)
	if err != nil {
		return nil, nil, fmt.Errorf("peptide-level FDR failed: %w", err)
	}
	g.logger.Info("peptide-level FDR", "accepted", len(acceptedPeptides), "pi0", pi0)

	acceptedProteins, pi0, err := applyLevel(est, proteinPEP, proteinDecoy, g.cfg.ProteinFDR)
	if err != nil {
		return nil, nil, fmt.Errorf("protein-level FDR failed: %w", err)
	}
	g.logger.Info("protein-level FDR", "accepted", len(acceptedProteins), "pi0", pi0)

	return acceptedPeptides, acceptedProteins, nil
}

// applyLevel turns per-entity best scores into an accepted-key set.
func applyLevel(est *fdr.Estimator, pep map[string]float64, decoy map[string]bool, threshold float64) (map[string]bool, float64, error) {
	keys := make([]string, 0, len(pep))
	for k := range pep {
		keys = append(keys, k)
	}
	// Stable entity order keeps tie handling, and with it the accepted
	// set, deterministic.
	sort.Strings(keys)

	scores := make([]float64, len(keys))
	decoys := make([]bool, len(keys))
	for i, k := range keys {
		scores[i] = pep[k]
		decoys[i] = decoy[k]
	}

	dec, err := est.Apply(scores, decoys, threshold)
	if err != nil {
		return nil, 0, err
	}

	accepted := make(map[string]bool)
	for i, k := range keys {
		if dec.Accepted[i] {
			accepted[k] = true
		}
	}
	return accepted, dec.Pi0, nil
}
