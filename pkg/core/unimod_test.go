package core

import (
	"math"
	"testing"
)

func TestParseModifiedPeptide(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantSeq  string
		wantMods int
		wantErr  bool
	}{
		{
			name:     "unmodified",
			input:    "PEPTIDER",
			wantSeq:  "PEPTIDER",
			wantMods: 0,
		},
		{
			name:     "phospho",
			input:    "PEPT(UniMod:21)IDER",
			wantSeq:  "PEPTIDER",
			wantMods: 1,
		},
		{
			name:     "n-terminal acetyl",
			input:    ".(UniMod:1)PEPTIDER",
			wantSeq:  "PEPTIDER",
			wantMods: 1,
		},
		{
			name:     "two modifications",
			input:    "PEPC(UniMod:4)TIDEM(UniMod:35)R",
			wantSeq:  "PEPCTIDEMR",
			wantMods: 2,
		},
		{
			name:    "unknown accession",
			input:   "PEPT(UniMod:9999)IDER",
			wantErr: true,
		},
		{
			name:    "unterminated annotation",
			input:   "PEPT(UniMod:21IDER",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, mods, err := ParseModifiedPeptide(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModifiedPeptide() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if seq != tt.wantSeq {
				t.Errorf("sequence = %q, want %q", seq, tt.wantSeq)
			}
			if len(mods) != tt.wantMods {
				t.Errorf("got %d modifications, want %d", len(mods), tt.wantMods)
			}
		})
	}
}

func TestParseModifiedPeptidePositions(t *testing.T) {
	_, mods, err := ParseModifiedPeptide(".(UniMod:1)PEPT(UniMod:21)IDER")
	if err != nil {
		t.Fatal(err)
	}
	if len(mods) != 2 {
		t.Fatalf("got %d modifications, want 2", len(mods))
	}
	if mods[0].Position != -1 {
		t.Errorf("N-terminal position = %d, want -1", mods[0].Position)
	}
	if mods[1].Position != 3 {
		t.Errorf("phospho position = %d, want 3 (T)", mods[1].Position)
	}
}

func TestCalculatePeptideMZ(t *testing.T) {
	// PEPTIDE, 2+: monoisotopic [M+2H]2+ is approximately 400.687
	mz := CalculatePeptideMZ("PEPTIDE", 2, nil)
	if math.Abs(mz-400.687) > 0.01 {
		t.Errorf("CalculatePeptideMZ(PEPTIDE, 2) = %v, want ~400.687", mz)
	}

	// A phospho modification adds ~79.966 Da to the neutral mass.
	base := CalculateNeutralMass("PEPTIDE", nil)
	modded := CalculateNeutralMass("PEPTIDE", []Modification{{Accession: 21, Mass: UniModMasses[21], Position: 3}})
	if math.Abs(modded-base-79.966331) > 1e-9 {
		t.Errorf("phospho mass shift = %v, want 79.966331", modded-base)
	}
}

func TestParseAnnotation(t *testing.T) {
	tests := []struct {
		input      string
		wantType   string
		wantOrd    int
		wantCharge int
		wantLoss   bool
		wantErr    bool
	}{
		{input: "y7", wantType: "y", wantOrd: 7, wantCharge: 1},
		{input: "b3^2", wantType: "b", wantOrd: 3, wantCharge: 2},
		{input: "y5-H2O", wantType: "y", wantOrd: 5, wantCharge: 1, wantLoss: true},
		{input: "y8-H3PO4^2", wantType: "y", wantOrd: 8, wantCharge: 2, wantLoss: true},
		{input: "q7", wantErr: true},
		{input: "y", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			peak, err := ParseAnnotation(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAnnotation(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if peak.FragmentType != tt.wantType || peak.Ordinal != tt.wantOrd ||
				peak.FragmentCharge != tt.wantCharge || peak.NeutralLoss != tt.wantLoss {
				t.Errorf("ParseAnnotation(%q) = %+v", tt.input, peak)
			}
		})
	}
}
