// Package library merges calibrated per-run PSM evidence into one
// library row per (peptide, charge) entity and assembles the final
// outputs.
package library

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"pqpgen/pkg/core"
)

// median computes the middle value of an unsorted sample.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// groupByPrecursor collects replicate PSMs across runs by precursor key.
// Iteration order over the returned keys is made deterministic by the
// callers sorting the final entries.
func groupByPrecursor(runs []core.Run) map[string][]*core.PSM {
	groups := make(map[string][]*core.PSM)
	for r := range runs {
		for i := range runs[r].PSMs {
			psm := &runs[r].PSMs[i]
			groups[psm.Key()] = append(groups[psm.Key()], psm)
		}
	}
	return groups
}

// bestReplicateOf returns the replicate with the lowest PEP. Ties are
// broken by higher summed fragment intensity so the selection stays
// deterministic across orderings.
func bestReplicateOf(replicates []*core.PSM) *core.PSM {
	best := replicates[0]
	for _, psm := range replicates[1:] {
		if psm.PEP < best.PEP ||
			(psm.PEP == best.PEP && psm.SummedIntensity() > best.SummedIntensity()) {
			best = psm
		}
	}
	return best
}

// entryScaffold builds a library entry from the best replicate's
// identity fields.
func entryScaffold(best *core.PSM) core.LibraryEntry {
	return core.LibraryEntry{
		PeptideSequence: best.PeptideSequence,
		ModifiedPeptide: best.ModifiedPeptide,
		PrecursorCharge: best.PrecursorCharge,
		ProteinID:       best.ProteinID,
		GeneName:        best.GeneName,
		Decoy:           best.Decoy,
	}
}

// Consensus merges replicate measurements across runs: calibrated RT
// and IM become the median over contributing replicates and fragment
// intensities are averaged per annotation. Annotations observed in
// fewer than minFragmentRuns replicates are dropped.
func Consensus(runs []core.Run, minFragmentRuns int) []core.LibraryEntry {
	if minFragmentRuns < 1 {
		minFragmentRuns = 1
	}

	var entries []core.LibraryEntry
	for _, replicates := range groupByPrecursor(runs) {
		best := bestReplicateOf(replicates)
		entry := entryScaffold(best)

		var rts, mzs, ims []float64
		for _, psm := range replicates {
			rts = append(rts, psm.RetentionTime)
			mzs = append(mzs, psm.PrecursorMZ)
			if psm.IonMobility != nil {
				ims = append(ims, *psm.IonMobility)
			}
		}
		entry.RetentionTime = median(rts)
		entry.PrecursorMZ = median(mzs)
		if len(ims) > 0 {
			im := median(ims)
			entry.IonMobility = &im
		}

		type fragmentAccum struct {
			peak      core.Peak
			intensity float64
			mzSum     float64
			count     int
		}
		accum := make(map[string]*fragmentAccum)
		for _, psm := range replicates {
			for _, peak := range psm.Peaks {
				a, ok := accum[peak.Annotation]
				if !ok {
					a = &fragmentAccum{peak: peak}
					accum[peak.Annotation] = a
				}
				a.intensity += peak.Intensity
				a.mzSum += peak.ProductMZ
				a.count++
			}
		}

		for _, a := range accum {
			if a.count < minFragmentRuns {
				continue
			}
			entry.Fragments = append(entry.Fragments, core.Fragment{
				Annotation:     a.peak.Annotation,
				FragmentType:   a.peak.FragmentType,
				Ordinal:        a.peak.Ordinal,
				FragmentCharge: a.peak.FragmentCharge,
				NeutralLoss:    a.peak.NeutralLoss,
				ProductMZ:      a.mzSum / float64(a.count),
				Intensity:      a.intensity / float64(a.count),
			})
		}
		entry.SortFragments()

		entries = append(entries, entry)
	}

	core.SortEntries(entries)
	return entries
}

// BestReplicate keeps the single best-scoring replicate per precursor
// and discards the rest.
func BestReplicate(runs []core.Run) []core.LibraryEntry {
	var entries []core.LibraryEntry
	for _, replicates := range groupByPrecursor(runs) {
		best := bestReplicateOf(replicates)
		entry := entryScaffold(best)
		entry.PrecursorMZ = best.PrecursorMZ
		entry.RetentionTime = best.RetentionTime
		if best.IonMobility != nil {
			im := *best.IonMobility
			entry.IonMobility = &im
		}

		for _, peak := range best.Peaks {
			entry.Fragments = append(entry.Fragments, core.Fragment{
				Annotation:     peak.Annotation,
				FragmentType:   peak.FragmentType,
				Ordinal:        peak.Ordinal,
				FragmentCharge: peak.FragmentCharge,
				NeutralLoss:    peak.NeutralLoss,
				ProductMZ:      peak.ProductMZ,
				Intensity:      peak.Intensity,
			})
		}
		entry.SortFragments()

		entries = append(entries, entry)
	}

	core.SortEntries(entries)
	return entries
}
