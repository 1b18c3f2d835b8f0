package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAnnotation parses a fragment ion annotation of the form
// "<type><ordinal>[-<loss>][^<charge>]", e.g. "y7", "b3^2", "y5-H2O",
// "y8-H3PO4^2". Charge defaults to 1 when no "^" suffix is present.
func ParseAnnotation(annotation string) (Peak, error) {
	peak := Peak{
		Annotation:     annotation,
		FragmentCharge: 1,
	}

	s := strings.TrimSpace(annotation)
	if s == "" {
		return peak, fmt.Errorf("empty fragment annotation")
	}

	// Charge suffix
	if idx := strings.Index(s, "^"); idx >= 0 {
		charge, err := strconv.Atoi(s[idx+1:])
		if err != nil || charge <= 0 {
			return peak, fmt.Errorf("invalid fragment charge in annotation '%s'", annotation)
		}
		peak.FragmentCharge = charge
		s = s[:idx]
	}

	// Neutral loss suffix
	if idx := strings.Index(s, "-"); idx >= 0 {
		if idx == len(s)-1 {
			return peak, fmt.Errorf("invalid neutral loss in annotation '%s'", annotation)
		}
		peak.NeutralLoss = true
		s = s[:idx]
	}

	if len(s) < 2 {
		return peak, fmt.Errorf("invalid fragment annotation '%s'", annotation)
	}

	ionType := s[:1]
	if !strings.Contains("abcxyz", ionType) {
		return peak, fmt.Errorf("unknown ion series '%s' in annotation '%s'", ionType, annotation)
	}
	peak.FragmentType = ionType

	ordinal, err := strconv.Atoi(s[1:])
	if err != nil || ordinal <= 0 {
		return peak, fmt.Errorf("invalid fragment ordinal in annotation '%s'", annotation)
	}
	peak.Ordinal = ordinal

	return peak, nil
}
