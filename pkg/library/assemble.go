package library

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"pqpgen/pkg/core"
)

// tsvHeader is the column order of the tabular library output.
var tsvHeader = []string{
	"PrecursorMz",
	"ProductMz",
	"Annotation",
	"ProteinId",
	"GeneName",
	"PeptideSequence",
	"ModifiedPeptideSequence",
	"PrecursorCharge",
	"LibraryIntensity",
	"NormalizedRetentionTime",
	"PrecursorIonMobility",
}

// FilterProteotypic drops entries whose peptide maps to more than one
// protein accession.
func FilterProteotypic(entries []core.LibraryEntry) []core.LibraryEntry {
	kept := entries[:0]
	for _, e := range entries {
		if e.Proteotypic() {
			kept = append(kept, e)
		}
	}
	return kept
}

// FilterByProtein keeps entries whose every protein accession survived
// protein-level FDR.
func FilterByProtein(entries []core.LibraryEntry, accepted map[string]bool) []core.LibraryEntry {
	kept := entries[:0]
	for _, e := range entries {
		ok := true
		for _, acc := range e.ProteinAccessions() {
			if !accepted[acc] {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, e)
		}
	}
	return kept
}

// WriteTSV writes the tabular library, one row per fragment, ordered by
// peptide then charge. The file is written to a temporary sibling and
// renamed so a failure never leaves a half-written library behind.
func WriteTSV(path string, entries []core.LibraryEntry) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary library file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for i, col := range tsvHeader {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)

	for i := range entries {
		e := &entries[i]
		im := ""
		if e.IonMobility != nil {
			im = fmt.Sprintf("%.6f", *e.IonMobility)
		}
		for _, f := range e.Fragments {
			fmt.Fprintf(w, "%.6f\t%.6f\t%s\t%s\t%s\t%s\t%s\t%d\t%.2f\t%.4f\t%s\n",
				e.PrecursorMZ, f.ProductMZ, f.Annotation,
				e.ProteinID, e.GeneName,
				e.PeptideSequence, e.ModifiedPeptide, e.PrecursorCharge,
				f.Intensity, e.RetentionTime, im)
		}
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write library: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close library file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move library into place: %w", err)
	}
	return nil
}
