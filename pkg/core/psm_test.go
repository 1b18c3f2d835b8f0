package core

import (
	"math"
	"testing"
)

func TestPSMValidation(t *testing.T) {
	im := 0.9

	tests := []struct {
		name    string
		psm     *PSM
		wantErr bool
	}{
		{
			name: "valid PSM",
			psm: &PSM{
				RunID:           "run_a",
				Scan:            101,
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 2,
				PrecursorMZ:     478.75,
				RetentionTime:   1520.5,
				PEP:             0.001,
				IonMobility:     &im,
				ProteinID:       "sp|P12345|TEST",
				Peaks: []Peak{
					{Annotation: "y4", ProductMZ: 488.2, Intensity: 1000},
				},
			},
			wantErr: false,
		},
		{
			name: "missing run id",
			psm: &PSM{
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 2,
				PrecursorMZ:     478.75,
				PEP:             0.001,
			},
			wantErr: true,
		},
		{
			name: "zero charge",
			psm: &PSM{
				RunID:           "run_a",
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 0,
				PrecursorMZ:     478.75,
				PEP:             0.001,
			},
			wantErr: true,
		},
		{
			name: "PEP out of range",
			psm: &PSM{
				RunID:           "run_a",
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 2,
				PrecursorMZ:     478.75,
				PEP:             1.5,
			},
			wantErr: true,
		},
		{
			name: "NaN retention time",
			psm: &PSM{
				RunID:           "run_a",
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 2,
				PrecursorMZ:     478.75,
				RetentionTime:   math.NaN(),
				PEP:             0.001,
			},
			wantErr: true,
		},
		{
			name: "negative peak intensity",
			psm: &PSM{
				RunID:           "run_a",
				ModifiedPeptide: "PEPTIDER",
				PeptideSequence: "PEPTIDER",
				PrecursorCharge: 2,
				PrecursorMZ:     478.75,
				PEP:             0.001,
				Peaks: []Peak{
					{Annotation: "y4", ProductMZ: 488.2, Intensity: -5},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.psm.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrecursorKey(t *testing.T) {
	psm := &PSM{ModifiedPeptide: "PEPT(UniMod:21)IDER", PrecursorCharge: 3}
	if got := psm.Key(); got != "PEPT(UniMod:21)IDER/3" {
		t.Errorf("Key() = %q", got)
	}
}

func TestSummedIntensity(t *testing.T) {
	psm := &PSM{
		Peaks: []Peak{
			{ProductMZ: 100, Intensity: 10},
			{ProductMZ: 200, Intensity: 30},
		},
	}
	if got := psm.SummedIntensity(); got != 40 {
		t.Errorf("SummedIntensity() = %v, want 40", got)
	}
}

func TestSortPeaks(t *testing.T) {
	psm := &PSM{
		Peaks: []Peak{
			{ProductMZ: 300},
			{ProductMZ: 100},
			{ProductMZ: 200},
		},
	}
	psm.SortPeaks()
	for i := 1; i < len(psm.Peaks); i++ {
		if psm.Peaks[i].ProductMZ < psm.Peaks[i-1].ProductMZ {
			t.Fatalf("peaks not sorted: %v", psm.Peaks)
		}
	}
}
