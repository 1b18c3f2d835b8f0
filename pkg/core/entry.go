package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Fragment is one consolidated fragment peak of a library entry.
type Fragment struct {
	Annotation     string
	FragmentType   string
	Ordinal        int
	FragmentCharge int
	NeutralLoss    bool
	ProductMZ      float64
	Intensity      float64
}

// LibraryEntry is one library row per (modified peptide, charge) entity
// surviving FDR and proteotypicity filtering. RetentionTime and
// IonMobility are on the calibrated reference scale.
type LibraryEntry struct {
	PeptideSequence string
	ModifiedPeptide string
	PrecursorCharge int
	PrecursorMZ     float64
	ProteinID       string
	GeneName        string
	RetentionTime   float64
	IonMobility     *float64
	Decoy           bool
	Fragments       []Fragment
}

// Key returns the precursor grouping key in format "ModifiedPeptide/Charge".
func (e *LibraryEntry) Key() string {
	return PrecursorKey(e.ModifiedPeptide, e.PrecursorCharge)
}

// Proteotypic reports whether the entry's peptide maps to exactly one
// protein accession.
func (e *LibraryEntry) Proteotypic() bool {
	return e.ProteinID != "" && !strings.Contains(e.ProteinID, ";")
}

// ProteinAccessions splits the entry's protein mapping into individual
// accessions.
func (e *LibraryEntry) ProteinAccessions() []string {
	return SplitProteinIDs(e.ProteinID)
}

// SplitProteinIDs splits a ';'-separated protein mapping into
// individual accessions.
func SplitProteinIDs(proteinID string) []string {
	if proteinID == "" {
		return nil
	}
	parts := strings.Split(proteinID, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// SortFragments sorts fragments by product m/z in ascending order.
func (e *LibraryEntry) SortFragments() {
	sort.Slice(e.Fragments, func(i, j int) bool {
		return e.Fragments[i].ProductMZ < e.Fragments[j].ProductMZ
	})
}

// Validate checks that a library entry is complete enough to be written.
func (e *LibraryEntry) Validate() error {
	var errs []string

	if e.ModifiedPeptide == "" {
		errs = append(errs, "modified peptide is required")
	}
	if e.PeptideSequence == "" {
		errs = append(errs, "peptide sequence is required")
	}
	if e.PrecursorCharge <= 0 {
		errs = append(errs, "precursor charge must be positive")
	}
	if e.PrecursorMZ <= 0 {
		errs = append(errs, "precursor m/z must be positive")
	}
	if e.ProteinID == "" {
		errs = append(errs, "protein mapping is required")
	}
	if math.IsNaN(e.RetentionTime) || math.IsInf(e.RetentionTime, 0) {
		errs = append(errs, "retention time must be finite")
	}
	if len(e.Fragments) == 0 {
		errs = append(errs, "at least one fragment is required")
	}
	for i, f := range e.Fragments {
		if f.ProductMZ <= 0 {
			errs = append(errs, fmt.Sprintf("fragment %d product m/z must be positive", i))
		}
		if f.Intensity < 0 {
			errs = append(errs, fmt.Sprintf("fragment %d intensity must be non-negative", i))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "LibraryEntry",
			Message: strings.Join(errs, "; "),
		}
	}

	return nil
}

// SortEntries orders entries deterministically by modified peptide,
// then precursor charge.
func SortEntries(entries []LibraryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModifiedPeptide != entries[j].ModifiedPeptide {
			return entries[i].ModifiedPeptide < entries[j].ModifiedPeptide
		}
		return entries[i].PrecursorCharge < entries[j].PrecursorCharge
	})
}
