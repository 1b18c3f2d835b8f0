// Package config holds the option surfaces of the library and reduce
// pipelines, their defaults, and optional YAML overlays.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks mutually inconsistent or out-of-range options.
// Validation runs before any I/O so bad invocations fail fast.
var ErrInvalid = errors.New("invalid configuration")

// Library configures the multi-run library generation pipeline.
type Library struct {
	Output      string `yaml:"output"`       // tabular library path
	StoreOutput string `yaml:"store_output"` // relational PQP store path; empty skips the store

	RTCalibration      bool    `yaml:"rt_calibration"`
	RTReferenceFile    string  `yaml:"rt_reference"`
	RTReferenceRunPath string  `yaml:"rt_reference_run_path"`
	RTFilter           string  `yaml:"rt_filter"`
	RTLowessFraction   float64 `yaml:"rt_lowess_fraction"` // 0 selects cross-validation
	RTPSMFDR           float64 `yaml:"rt_psm_fdr_threshold"`

	IMCalibration      bool    `yaml:"im_calibration"`
	IMReferenceFile    string  `yaml:"im_reference"`
	IMReferenceRunPath string  `yaml:"im_reference_run_path"`
	IMFilter           string  `yaml:"im_filter"`
	IMLowessFraction   float64 `yaml:"im_lowess_fraction"`
	IMPSMFDR           float64 `yaml:"im_psm_fdr_threshold"`

	PSMFDR     float64    `yaml:"psm_fdr_threshold"`
	PeptideFDR float64    `yaml:"peptide_fdr_threshold"`
	ProteinFDR float64    `yaml:"protein_fdr_threshold"`
	Pi0Lambda  [3]float64 `yaml:"pi0_lambda"`

	MinPeptides     int  `yaml:"min_peptides"`
	Proteotypic     bool `yaml:"proteotypic"`
	Consensus       bool `yaml:"consensus"`
	MinFragmentRuns int  `yaml:"min_fragment_runs"`
	NoFDR           bool `yaml:"nofdr"`
}

// DefaultLibrary returns the library pipeline defaults.
func DefaultLibrary() Library {
	return Library{
		RTCalibration:      true,
		RTReferenceRunPath: "pqpgen_rt_reference_run.tsv",
		RTLowessFraction:   0.05,
		RTPSMFDR:           0.001,
		IMCalibration:      true,
		IMReferenceRunPath: "pqpgen_im_reference_run.tsv",
		IMLowessFraction:   0.05,
		IMPSMFDR:           0.001,
		PSMFDR:             0.01,
		PeptideFDR:         0.01,
		ProteinFDR:         0.01,
		Pi0Lambda:          [3]float64{0.1, 0.5, 0.05},
		MinPeptides:        5,
		Proteotypic:        true,
		Consensus:          true,
		MinFragmentRuns:    1,
	}
}

// ApplyFile overlays options from a YAML file onto the receiver.
func (c *Library) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the option surface for internal consistency.
func (c *Library) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("%w: output path is required", ErrInvalid)
	}
	for name, v := range map[string]float64{
		"psm_fdr_threshold":     c.PSMFDR,
		"peptide_fdr_threshold": c.PeptideFDR,
		"protein_fdr_threshold": c.ProteinFDR,
		"rt_psm_fdr_threshold":  c.RTPSMFDR,
		"im_psm_fdr_threshold":  c.IMPSMFDR,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: %s %v outside (0, 1]", ErrInvalid, name, v)
		}
	}
	if c.RTLowessFraction < 0 || c.RTLowessFraction > 1 {
		return fmt.Errorf("%w: rt_lowess_fraction %v outside [0, 1]", ErrInvalid, c.RTLowessFraction)
	}
	if c.IMLowessFraction < 0 || c.IMLowessFraction > 1 {
		return fmt.Errorf("%w: im_lowess_fraction %v outside [0, 1]", ErrInvalid, c.IMLowessFraction)
	}
	if c.MinPeptides < 2 {
		return fmt.Errorf("%w: min_peptides %d below 2", ErrInvalid, c.MinPeptides)
	}
	if c.MinFragmentRuns < 1 {
		return fmt.Errorf("%w: min_fragment_runs %d below 1", ErrInvalid, c.MinFragmentRuns)
	}
	if c.RTCalibration && c.RTReferenceRunPath == "" {
		return fmt.Errorf("%w: rt_reference_run_path is required when RT calibration is enabled", ErrInvalid)
	}
	if c.IMCalibration && c.IMReferenceRunPath == "" {
		return fmt.Errorf("%w: im_reference_run_path is required when IM calibration is enabled", ErrInvalid)
	}
	return nil
}

// Reduce configures the library reduction pipeline.
type Reduce struct {
	Input          string `yaml:"input"`
	Output         string `yaml:"output"` // empty reduces in place
	Bins           int    `yaml:"bins"`
	PeptidesPerBin int    `yaml:"peptides"`
}

// DefaultReduce returns the reduction defaults.
func DefaultReduce() Reduce {
	return Reduce{
		Bins:           10,
		PeptidesPerBin: 5,
	}
}

// Validate checks the option surface before any store I/O happens.
func (c *Reduce) Validate() error {
	if c.Input == "" {
		return fmt.Errorf("%w: input path is required", ErrInvalid)
	}
	if c.Bins < 1 {
		return fmt.Errorf("%w: bins %d below 1", ErrInvalid, c.Bins)
	}
	if c.PeptidesPerBin < 0 {
		return fmt.Errorf("%w: peptides %d below 0", ErrInvalid, c.PeptidesPerBin)
	}
	return nil
}
