// Package core provides UniMod annotation parsing
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Modification represents a peptide modification with position and mass shift.
type Modification struct {
	Accession int     // UniMod record id
	Mass      float64 // Monoisotopic mass shift
	Position  int     // 0-based position; -1 for N-term, len(seq) for C-term
}

// UniModMasses maps the UniMod record ids recognized by the pipeline to
// monoisotopic mass shifts.
var UniModMasses = map[int]float64{
	1:   42.010565,  // Acetyl
	2:   -0.984016,  // Amidated
	4:   57.021464,  // Carbamidomethyl
	5:   43.005814,  // Carbamyl
	7:   0.984016,   // Deamidated
	21:  79.966331,  // Phospho
	26:  39.994915,  // Pyro-carbamidomethyl
	27:  -18.010565, // Glu->pyro-Glu
	28:  -17.026549, // Gln->pyro-Glu
	34:  14.015650,  // Methyl
	35:  15.994915,  // Oxidation
	36:  28.031300,  // Dimethyl
	40:  79.956815,  // Sulfo
	121: 114.042927, // GG
	122: 27.994915,  // Formyl
	259: 8.014199,   // Label:13C(6)15N(2)
	267: 10.008269,  // Label:13C(6)15N(4)
	299: 43.989829,  // Carboxy
	354: 44.985078,  // Nitro
}

// ParseModifiedPeptide parses a modified peptide string with UniMod
// annotations, e.g. "PEPT(UniMod:21)IDE" or ".(UniMod:1)PEPTIDE", and
// returns the stripped sequence plus the modification list.
func ParseModifiedPeptide(modifiedPeptide string) (string, []Modification, error) {
	var seq strings.Builder
	var mods []Modification

	s := modifiedPeptide
	for len(s) > 0 {
		idx := strings.Index(s, "(UniMod:")
		if idx < 0 {
			seq.WriteString(strings.ReplaceAll(s, ".", ""))
			break
		}

		seq.WriteString(strings.ReplaceAll(s[:idx], ".", ""))

		end := strings.Index(s[idx:], ")")
		if end < 0 {
			return "", nil, fmt.Errorf("unterminated UniMod annotation in '%s'", modifiedPeptide)
		}
		accStr := s[idx+len("(UniMod:") : idx+end]
		acc, err := strconv.Atoi(accStr)
		if err != nil {
			return "", nil, fmt.Errorf("invalid UniMod accession '%s' in '%s'", accStr, modifiedPeptide)
		}

		mass, ok := UniModMasses[acc]
		if !ok {
			return "", nil, fmt.Errorf("unknown UniMod accession %d in '%s'", acc, modifiedPeptide)
		}

		// The annotation follows the residue it modifies. A leading
		// annotation (position -1) marks an N-terminal modification.
		pos := seq.Len() - 1
		mods = append(mods, Modification{
			Accession: acc,
			Mass:      mass,
			Position:  pos,
		})

		s = s[idx+end+1:]
	}

	stripped := seq.String()
	if stripped == "" {
		return "", nil, fmt.Errorf("empty sequence in '%s'", modifiedPeptide)
	}

	return stripped, mods, nil
}
