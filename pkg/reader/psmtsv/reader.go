// Package psmtsv provides streaming readers for the per-run PSM and
// peak tables emitted by the conversion step.
package psmtsv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pqpgen/pkg/core"
)

// PSM table columns. precursor_mz, ion_mobility, gene_name and q_value
// are optional; a missing precursor_mz is recomputed from the modified
// peptide.
var requiredPSMColumns = []string{
	"run_id", "scan", "modified_peptide", "precursor_charge",
	"retention_time", "protein_id", "pep", "decoy",
}

var requiredPeakColumns = []string{
	"scan", "annotation", "product_mz", "intensity",
}

// Reader provides streaming access to PSM table files.
type Reader struct {
	scanner    *bufio.Scanner
	columns    map[string]int
	lineNum    int
	currentPSM *core.PSM
	err        error
}

// NewReader creates a new PSM table reader. The first line must be a
// tab-separated header naming at least the required columns.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty PSM table")
	}

	columns, err := parseHeader(scanner.Text(), requiredPSMColumns)
	if err != nil {
		return nil, err
	}

	return &Reader{
		scanner: scanner,
		columns: columns,
		lineNum: 1,
	}, nil
}

// Next advances to the next PSM. Returns false when no more records or error.
func (r *Reader) Next() bool {
	r.currentPSM = nil

	psm, err := r.readPSM()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.currentPSM = psm
	return true
}

// PSM returns the current PSM
func (r *Reader) PSM() *core.PSM {
	return r.currentPSM
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) readPSM() (*core.PSM, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		psm, err := r.parsePSM(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		return psm, nil
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *Reader) parsePSM(fields []string) (*core.PSM, error) {
	get := func(name string) string {
		idx, ok := r.columns[name]
		if !ok || idx >= len(fields) {
			return ""
		}
		return strings.TrimSpace(fields[idx])
	}

	psm := &core.PSM{
		RunID:           get("run_id"),
		ModifiedPeptide: get("modified_peptide"),
		ProteinID:       get("protein_id"),
		GeneName:        get("gene_name"),
	}

	scan, err := strconv.Atoi(get("scan"))
	if err != nil {
		return nil, fmt.Errorf("invalid scan '%s': %w", get("scan"), err)
	}
	psm.Scan = scan

	charge, err := strconv.Atoi(get("precursor_charge"))
	if err != nil {
		return nil, fmt.Errorf("invalid precursor charge '%s': %w", get("precursor_charge"), err)
	}
	psm.PrecursorCharge = charge

	rt, err := strconv.ParseFloat(get("retention_time"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid retention time '%s': %w", get("retention_time"), err)
	}
	psm.RetentionTime = rt

	pep, err := strconv.ParseFloat(get("pep"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PEP '%s': %w", get("pep"), err)
	}
	psm.PEP = pep

	switch get("decoy") {
	case "0", "false", "False":
		psm.Decoy = false
	case "1", "true", "True":
		psm.Decoy = true
	default:
		return nil, fmt.Errorf("invalid decoy flag '%s'", get("decoy"))
	}

	sequence, mods, err := core.ParseModifiedPeptide(psm.ModifiedPeptide)
	if err != nil {
		return nil, err
	}
	psm.PeptideSequence = sequence

	if s := get("precursor_mz"); s != "" {
		mz, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid precursor m/z '%s': %w", s, err)
		}
		psm.PrecursorMZ = mz
	} else {
		psm.PrecursorMZ = core.CalculatePeptideMZ(sequence, charge, mods)
	}

	if s := get("ion_mobility"); s != "" {
		im, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ion mobility '%s': %w", s, err)
		}
		psm.IonMobility = &im
	}

	if s := get("q_value"); s != "" {
		q, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid q-value '%s': %w", s, err)
		}
		psm.QValue = q
	}

	return psm, nil
}

// ReadPeaks reads a peak table and groups the peaks by scan key.
func ReadPeaks(r io.Reader) (map[int][]core.Peak, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty peak table")
	}
	columns, err := parseHeader(scanner.Text(), requiredPeakColumns)
	if err != nil {
		return nil, err
	}

	peaks := make(map[int][]core.Peak)
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		get := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[idx])
		}

		scan, err := strconv.Atoi(get("scan"))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid scan '%s': %w", lineNum, get("scan"), err)
		}

		peak, err := core.ParseAnnotation(get("annotation"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		mz, err := strconv.ParseFloat(get("product_mz"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid product m/z '%s': %w", lineNum, get("product_mz"), err)
		}
		peak.ProductMZ = mz

		intensity, err := strconv.ParseFloat(get("intensity"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid intensity '%s': %w", lineNum, get("intensity"), err)
		}
		peak.Intensity = intensity

		peaks[scan] = append(peaks[scan], peak)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading peak table: %w", err)
	}
	return peaks, nil
}

// ReadRun loads one run from its PSM and peak table files, attaching
// peaks to their owning PSMs by scan key.
func ReadRun(psmPath, peakPath string) (core.Run, error) {
	psmFile, err := os.Open(psmPath)
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to open PSM table: %w", err)
	}
	defer psmFile.Close()

	reader, err := NewReader(psmFile)
	if err != nil {
		return core.Run{}, fmt.Errorf("%s: %w", psmPath, err)
	}

	var run core.Run
	for reader.Next() {
		psm := reader.PSM()
		if run.ID == "" {
			run.ID = psm.RunID
		} else if psm.RunID != run.ID {
			return core.Run{}, fmt.Errorf("%s: mixed run ids %q and %q", psmPath, run.ID, psm.RunID)
		}
		run.PSMs = append(run.PSMs, *psm)
	}
	if err := reader.Err(); err != nil {
		return core.Run{}, fmt.Errorf("%s: %w", psmPath, err)
	}

	peakFile, err := os.Open(peakPath)
	if err != nil {
		return core.Run{}, fmt.Errorf("failed to open peak table: %w", err)
	}
	defer peakFile.Close()

	peaks, err := ReadPeaks(peakFile)
	if err != nil {
		return core.Run{}, fmt.Errorf("%s: %w", peakPath, err)
	}
	for i := range run.PSMs {
		run.PSMs[i].Peaks = peaks[run.PSMs[i].Scan]
		run.PSMs[i].SortPeaks()
	}

	return run, nil
}

const (
	psmSuffix  = ".psms.tsv"
	peakSuffix = ".peaks.tsv"
)

// MatchRunFiles pairs <run>.psms.tsv with <run>.peaks.tsv by basename.
// Every PSM table must have a matching peak table and vice versa.
func MatchRunFiles(infiles []string) ([][2]string, error) {
	psms := make(map[string]string)
	peaks := make(map[string]string)
	for _, f := range infiles {
		base := filepath.Base(f)
		switch {
		case strings.HasSuffix(base, psmSuffix):
			psms[strings.TrimSuffix(base, psmSuffix)] = f
		case strings.HasSuffix(base, peakSuffix):
			peaks[strings.TrimSuffix(base, peakSuffix)] = f
		default:
			return nil, fmt.Errorf("unrecognized input file %s, expected *%s or *%s", f, psmSuffix, peakSuffix)
		}
	}

	runIDs := make([]string, 0, len(psms))
	for id := range psms {
		if _, ok := peaks[id]; !ok {
			return nil, fmt.Errorf("run %s has a PSM table but no peak table", id)
		}
		runIDs = append(runIDs, id)
	}
	for id := range peaks {
		if _, ok := psms[id]; !ok {
			return nil, fmt.Errorf("run %s has a peak table but no PSM table", id)
		}
	}
	sort.Strings(runIDs)

	pairs := make([][2]string, 0, len(runIDs))
	for _, id := range runIDs {
		pairs = append(pairs, [2]string{psms[id], peaks[id]})
	}
	return pairs, nil
}

// parseHeader maps column names to field indexes and checks that every
// required column is present.
func parseHeader(line string, required []string) (map[string]int, error) {
	columns := make(map[string]int)
	for i, name := range strings.Split(strings.TrimSpace(line), "\t") {
		columns[strings.TrimSpace(name)] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing required column '%s'", name)
		}
	}
	return columns, nil
}
