package calib

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"pqpgen/pkg/core"
)

// Axis identifies a calibration coordinate.
type Axis string

const (
	AxisRT Axis = "rt"
	AxisIM Axis = "im"
)

// ErrInsufficientData signals that a run has too few shared anchor
// peptides to fit a calibration mapping.
var ErrInsufficientData = errors.New("insufficient peptides for calibration")

// Reference holds per-precursor coordinates on the reference axis scale.
type Reference struct {
	RunID  string // empty for an externally supplied reference
	Axis   Axis
	Values map[string]float64 // precursor key -> reference axis value
}

// axisValue extracts the native coordinate of the requested axis from a
// PSM. The second return is false when the PSM lacks the coordinate.
func axisValue(axis Axis, psm *core.PSM) (float64, bool) {
	switch axis {
	case AxisIM:
		if psm.IonMobility == nil {
			return 0, false
		}
		return *psm.IonMobility, true
	default:
		return psm.RetentionTime, true
	}
}

// BuildReference constructs reference coordinates from one run's PSMs,
// keeping the best-scoring (lowest PEP) observation per precursor.
func BuildReference(runID string, axis Axis, psms []core.PSM) *Reference {
	values := make(map[string]float64)
	bestPEP := make(map[string]float64)
	for i := range psms {
		psm := &psms[i]
		v, ok := axisValue(axis, psm)
		if !ok {
			continue
		}
		key := psm.Key()
		if prev, seen := bestPEP[key]; !seen || psm.PEP < prev {
			bestPEP[key] = psm.PEP
			values[key] = v
		}
	}
	return &Reference{RunID: runID, Axis: axis, Values: values}
}

// ReadReference reads a reference coordinate file. Format: three
// tab-separated columns (modified peptide, precursor charge, value),
// one header line.
func ReadReference(path string, axis Axis) (*Reference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference file: %w", err)
	}
	defer f.Close()

	values := make(map[string]float64)
	scanner := bufio.NewScanner(f)

	// Skip header line
	if scanner.Scan() {
		// header
	}

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields (modified_peptide, precursor_charge, value), got %d", lineNum, len(fields))
		}

		charge, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid precursor charge '%s': %w", lineNum, fields[1], err)
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid axis value '%s': %w", lineNum, fields[2], err)
		}

		values[core.PrecursorKey(strings.TrimSpace(fields[0]), charge)] = value
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading reference file: %w", err)
	}

	return &Reference{Axis: axis, Values: values}, nil
}

// Write persists the reference coordinates in deterministic key order so
// downstream invocations can reuse the same anchor.
func (r *Reference) Write(path string) error {
	keys := make([]string, 0, len(r.Values))
	for k := range r.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create reference file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "modified_peptide\tprecursor_charge\t%s\n", r.Axis)
	for _, key := range keys {
		idx := strings.LastIndex(key, "/")
		fmt.Fprintf(w, "%s\t%s\t%.6f\n", key[:idx], key[idx+1:], r.Values[key])
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write reference file: %w", err)
	}

	return nil
}

// SelectorConfig controls reference run selection for one axis.
type SelectorConfig struct {
	ReferenceFile string // explicit reference, used unmodified when set
	FilterTag     string // substring restricting candidate run IDs
	MinPeptides   int    // quality gate on FDR-surviving peptide count
}

// SelectReference picks the calibration anchor for an axis. The input
// PSM slices must already be restricted to alignment-FDR survivors.
// Returns nil when no candidate run meets the quality gate, which
// disables calibration for the axis.
func SelectReference(axis Axis, runs []core.Run, cfg SelectorConfig) (*Reference, error) {
	if cfg.ReferenceFile != "" {
		return ReadReference(cfg.ReferenceFile, axis)
	}

	bestRun := ""
	bestCount := 0
	for _, run := range runs {
		if cfg.FilterTag != "" && !strings.Contains(run.ID, cfg.FilterTag) {
			continue
		}
		peptides := make(map[string]bool)
		for i := range run.PSMs {
			if _, ok := axisValue(axis, &run.PSMs[i]); !ok {
				continue
			}
			peptides[run.PSMs[i].ModifiedPeptide] = true
		}
		// Ties resolved by run ID so selection is deterministic.
		if len(peptides) > bestCount || (len(peptides) == bestCount && bestCount > 0 && run.ID < bestRun) {
			bestCount = len(peptides)
			bestRun = run.ID
		}
	}

	if bestRun == "" || bestCount < cfg.MinPeptides {
		return nil, nil
	}

	for _, run := range runs {
		if run.ID == bestRun {
			return BuildReference(run.ID, axis, run.PSMs), nil
		}
	}
	return nil, nil
}

// Calibrate fits the native-to-reference mapping for one run from the
// anchors it shares with the reference. psms must already be restricted
// to alignment-FDR survivors. Returns ErrInsufficientData when fewer
// than minPeptides anchors are shared.
func Calibrate(axis Axis, psms []core.PSM, ref *Reference, frac Fraction, minPeptides int) (*Mapping, error) {
	// Best observation per precursor, so replicate spectra within the
	// run do not dominate the fit.
	type anchor struct {
		native float64
		pep    float64
	}
	anchors := make(map[string]anchor)
	for i := range psms {
		psm := &psms[i]
		v, ok := axisValue(axis, psm)
		if !ok {
			continue
		}
		key := psm.Key()
		if _, inRef := ref.Values[key]; !inRef {
			continue
		}
		if prev, seen := anchors[key]; !seen || psm.PEP < prev.pep {
			anchors[key] = anchor{native: v, pep: psm.PEP}
		}
	}

	if len(anchors) < minPeptides {
		return nil, fmt.Errorf("%w: %d shared anchors, need %d", ErrInsufficientData, len(anchors), minPeptides)
	}

	keys := make([]string, 0, len(anchors))
	for k := range anchors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	x := make([]float64, 0, len(keys))
	y := make([]float64, 0, len(keys))
	for _, k := range keys {
		x = append(x, anchors[k].native)
		y = append(y, ref.Values[k])
	}

	return FitLowess(x, y, frac)
}
