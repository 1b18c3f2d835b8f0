package library

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pqpgen/pkg/config"
	"pqpgen/pkg/core"
	"pqpgen/pkg/fdr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gradientRun builds a run with n confident peptides spread over the RT
// gradient, shifted by rtOffset from the reference scale.
func gradientRun(id string, n int, rtOffset float64) core.Run {
	run := core.Run{ID: id}
	for i := 0; i < n; i++ {
		rt := float64(i)*100/float64(n-1) + rtOffset
		run.PSMs = append(run.PSMs, core.PSM{
			RunID:           id,
			Scan:            i,
			ModifiedPeptide: fmt.Sprintf("PEPTIDEK%02d", i),
			PeptideSequence: fmt.Sprintf("PEPTIDEK%02d", i),
			PrecursorCharge: 2,
			PrecursorMZ:     500 + float64(i),
			RetentionTime:   rt,
			PEP:             0.00001,
			QValue:          0.0001,
			ProteinID:       fmt.Sprintf("sp|P%02d|TEST", i),
			Peaks: []core.Peak{
				{Annotation: "y4", FragmentType: "y", Ordinal: 4, FragmentCharge: 1, ProductMZ: 488.2, Intensity: 100},
			},
		})
	}
	return run
}

func passthroughConfig(dir string) config.Library {
	cfg := config.DefaultLibrary()
	cfg.Output = filepath.Join(dir, "library.tsv")
	cfg.RTReferenceRunPath = filepath.Join(dir, "rt_reference_run.tsv")
	cfg.IMCalibration = false
	cfg.RTLowessFraction = 0.3
	cfg.NoFDR = true
	return cfg
}

func TestGenerateThreeRunScenario(t *testing.T) {
	// Run A anchors the gradient; runs B and C sit at +5 and -3 RT.
	// After calibration a peptide seen in all three merges into one row
	// whose RT is the median of the calibrated values.
	runs := []core.Run{
		gradientRun("run_a", 12, 0),
		gradientRun("run_b", 11, 5),
		gradientRun("run_c", 11, -3),
	}

	gen := New(passthroughConfig(t.TempDir()), testLogger())
	entries, err := gen.Generate(runs)
	require.NoError(t, err)
	require.Len(t, entries, 12)

	for _, e := range entries {
		var want float64
		fmt.Sscanf(e.ModifiedPeptide, "PEPTIDEK%f", &want)
		want = want * 100 / 11
		assert.InDelta(t, want, e.RetentionTime, 1.0, "calibrated RT of %s", e.ModifiedPeptide)
	}
}

func TestGenerateWritesReferenceRun(t *testing.T) {
	dir := t.TempDir()
	cfg := passthroughConfig(dir)
	runs := []core.Run{gradientRun("run_a", 12, 0), gradientRun("run_b", 11, 5)}

	gen := New(cfg, testLogger())
	_, err := gen.Generate(runs)
	require.NoError(t, err)
	assert.FileExists(t, cfg.RTReferenceRunPath)
}

func TestGenerateDropsUncalibratableRun(t *testing.T) {
	// Run C shares too few peptides with the reference to be fitted, so
	// its PSMs are excluded rather than merged uncalibrated.
	small := gradientRun("run_c", 3, 40)
	runs := []core.Run{gradientRun("run_a", 12, 0), small}

	gen := New(passthroughConfig(t.TempDir()), testLogger())
	entries, err := gen.Generate(runs)
	require.NoError(t, err)
	assert.Len(t, entries, 12, "only the reference run contributes")
}

func TestGenerateCalibrationDisabledBelowThreshold(t *testing.T) {
	// No run reaches min_peptides: the axis is disabled and runs merge
	// uncalibrated instead of the pipeline failing.
	cfg := passthroughConfig(t.TempDir())
	cfg.MinPeptides = 50
	runs := []core.Run{gradientRun("run_a", 12, 0)}

	gen := New(cfg, testLogger())
	entries, err := gen.Generate(runs)
	require.NoError(t, err)
	assert.Len(t, entries, 12)
}

func TestGenerateBestReplicateMode(t *testing.T) {
	cfg := passthroughConfig(t.TempDir())
	cfg.Consensus = false
	cfg.RTCalibration = false
	runs := []core.Run{gradientRun("run_a", 12, 0), gradientRun("run_b", 12, 5)}

	gen := New(cfg, testLogger())
	entries, err := gen.Generate(runs)
	require.NoError(t, err)
	assert.Len(t, entries, 12)
}

func TestGenerateSharedPeptidesDropped(t *testing.T) {
	cfg := passthroughConfig(t.TempDir())
	cfg.RTCalibration = false
	run := gradientRun("run_a", 12, 0)
	run.PSMs[0].ProteinID = "sp|P00|TEST;sp|P99|OTHER"

	gen := New(cfg, testLogger())
	entries, err := gen.Generate([]core.Run{run})
	require.NoError(t, err)
	assert.Len(t, entries, 11, "shared peptide removed by proteotypic filter")
}

func TestGenerateFDRLevels(t *testing.T) {
	// A large mixed population exercises the target-decoy peptide and
	// protein filters with a fixed pi0.
	cfg := passthroughConfig(t.TempDir())
	cfg.RTCalibration = false
	cfg.NoFDR = false
	cfg.Pi0Lambda = [3]float64{1.0, 0, 0}

	rng := rand.New(rand.NewSource(3))
	run := core.Run{ID: "run_a"}
	for i := 0; i < 300; i++ {
		decoy := i%3 == 0
		pep := rng.Float64() * rng.Float64() * 0.01
		protein := fmt.Sprintf("sp|P%03d|TEST", i)
		if decoy {
			pep = 0.3 + rng.Float64()*0.7
			protein = "rev_" + protein
		}
		run.PSMs = append(run.PSMs, core.PSM{
			RunID:           "run_a",
			Scan:            i,
			ModifiedPeptide: fmt.Sprintf("PEPTIDEK%03d", i),
			PeptideSequence: fmt.Sprintf("PEPTIDEK%03d", i),
			PrecursorCharge: 2,
			PrecursorMZ:     500,
			RetentionTime:   float64(i),
			PEP:             pep,
			ProteinID:       protein,
			Decoy:           decoy,
			Peaks: []core.Peak{
				{Annotation: "y4", FragmentType: "y", Ordinal: 4, FragmentCharge: 1, ProductMZ: 488.2, Intensity: 100},
			},
		})
	}

	gen := New(cfg, testLogger())
	entries, err := gen.Generate([]core.Run{run})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.False(t, e.Decoy, "decoys never reach the library")
	}
}

func TestGenerateFailsClosedOnTinyPopulation(t *testing.T) {
	cfg := passthroughConfig(t.TempDir())
	cfg.RTCalibration = false
	cfg.NoFDR = false
	cfg.Pi0Lambda = [3]float64{1.0, 0, 0}

	gen := New(cfg, testLogger())
	_, err := gen.Generate([]core.Run{gradientRun("run_a", 5, 0)})
	assert.ErrorIs(t, err, fdr.ErrTooFewEntities)
}

func TestGeneratePi0CapabilityMissing(t *testing.T) {
	cfg := passthroughConfig(t.TempDir())
	cfg.RTCalibration = false
	cfg.NoFDR = false

	gen := New(cfg, testLogger())
	gen.SetPi0Estimator(nil)
	_, err := gen.Generate([]core.Run{gradientRun("run_a", 30, 0)})
	assert.ErrorIs(t, err, fdr.ErrPi0Unavailable)
}

func TestGenerateInvalidConfig(t *testing.T) {
	cfg := passthroughConfig(t.TempDir())
	cfg.PSMFDR = 0

	gen := New(cfg, testLogger())
	_, err := gen.Generate([]core.Run{gradientRun("run_a", 12, 0)})
	assert.ErrorIs(t, err, config.ErrInvalid)
}
