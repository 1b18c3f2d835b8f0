// Package core provides the intermediate representation (IR) models and validation logic
// for peptide-spectrum matches and library entries used by pqpgen.
package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// PSM represents a single peptide-spectrum match with all associated metadata.
type PSM struct {
	// Required fields
	RunID           string  // Run identifier (spectral file basename)
	Scan            int     // Scan / spectrum key within the run
	ModifiedPeptide string  // Peptide sequence with UniMod annotations
	PeptideSequence string  // Stripped peptide sequence
	PrecursorCharge int     // Precursor charge state
	PrecursorMZ     float64 // Precursor m/z
	RetentionTime   float64 // Native retention time (seconds)
	PEP             float64 // Posterior error probability

	// Optional metadata
	IonMobility *float64 // Native ion mobility (1/K0), nil if not acquired
	ProteinID   string   // Protein accession(s), ';'-separated when shared
	GeneName    string

	// FDR bookkeeping
	QValue float64 // Model-based q-value; trusted as-is in nofdr mode
	Decoy  bool

	// Fragment evidence owned by this PSM
	Peaks []Peak
}

// Peak represents a single annotated fragment peak.
type Peak struct {
	Annotation     string  // Full annotation (e.g., "y7", "b3^2", "y5-H2O")
	FragmentType   string  // Ion series type (b, y, ...)
	Ordinal        int     // Fragment series number
	FragmentCharge int     // Fragment charge state
	NeutralLoss    bool    // True when the annotation carries a neutral loss
	ProductMZ      float64 // Fragment m/z
	Intensity      float64
}

// Run groups the PSMs contributed by one acquisition run.
type Run struct {
	ID   string
	PSMs []PSM
}

// ValidationError represents an error found during PSM validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a PSM meets all requirements for processing.
func (p *PSM) Validate() error {
	var errs []string

	if p.RunID == "" {
		errs = append(errs, "run id is required")
	}
	if p.ModifiedPeptide == "" {
		errs = append(errs, "modified peptide is required")
	}
	if p.PeptideSequence == "" {
		errs = append(errs, "peptide sequence is required")
	}
	if p.PrecursorCharge <= 0 {
		errs = append(errs, "precursor charge must be positive")
	}
	if p.PrecursorMZ <= 0 {
		errs = append(errs, "precursor m/z must be positive")
	}
	if p.PEP < 0 || p.PEP > 1 || math.IsNaN(p.PEP) {
		errs = append(errs, "PEP must be in [0, 1]")
	}
	if math.IsNaN(p.RetentionTime) || math.IsInf(p.RetentionTime, 0) {
		errs = append(errs, "retention time must be finite")
	}
	if p.IonMobility != nil && (math.IsNaN(*p.IonMobility) || *p.IonMobility <= 0) {
		errs = append(errs, "ion mobility must be positive")
	}

	for i, peak := range p.Peaks {
		if math.IsNaN(peak.ProductMZ) || peak.ProductMZ <= 0 {
			errs = append(errs, fmt.Sprintf("peak %d product m/z must be positive", i))
		}
		if math.IsNaN(peak.Intensity) || peak.Intensity < 0 {
			errs = append(errs, fmt.Sprintf("peak %d intensity must be non-negative", i))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "PSM",
			Message: strings.Join(errs, "; "),
		}
	}

	return nil
}

// Key returns the precursor grouping key in format "ModifiedPeptide/Charge".
func (p *PSM) Key() string {
	return PrecursorKey(p.ModifiedPeptide, p.PrecursorCharge)
}

// PrecursorKey builds the canonical (peptide, charge) entity key.
func PrecursorKey(modifiedPeptide string, charge int) string {
	return fmt.Sprintf("%s/%d", modifiedPeptide, charge)
}

// SummedIntensity returns the total fragment intensity of the PSM.
func (p *PSM) SummedIntensity() float64 {
	total := 0.0
	for _, peak := range p.Peaks {
		total += peak.Intensity
	}
	return total
}

// SortPeaks sorts peaks by product m/z in ascending order.
func (p *PSM) SortPeaks() {
	sort.Slice(p.Peaks, func(i, j int) bool {
		return p.Peaks[i].ProductMZ < p.Peaks[j].ProductMZ
	})
}
