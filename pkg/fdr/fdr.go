// Package fdr provides false-discovery-rate control for PSM, peptide
// and protein level identifications.
//
// Scores are posterior error probabilities or comparable statistics
// where lower is better. Two estimation paths are supported: model-based
// q-values computed directly from PEPs (used for per-run PSM filtering
// and alignment anchor selection) and target-decoy q-values scaled by an
// estimated null proportion pi0 (used for the global peptide and protein
// levels).
package fdr

import (
	"errors"
	"fmt"
	"sort"
)

// Level identifies the entity level an FDR decision applies to.
type Level string

const (
	LevelPSM     Level = "psm"
	LevelPeptide Level = "peptide"
	LevelProtein Level = "protein"
)

// DefaultMinEntities is the smallest population for which estimation is
// attempted. Below this the estimator fails closed.
const DefaultMinEntities = 20

var (
	// ErrTooFewEntities signals a population too small for FDR estimation.
	ErrTooFewEntities = errors.New("too few entities for FDR estimation")

	// ErrPi0Unavailable signals that pi0 estimation was requested but no
	// estimator strategy is configured.
	ErrPi0Unavailable = errors.New("pi0 estimator unavailable")
)

// Lambda parameterizes the pi0 tuning grid as (start, end, step). The
// degenerate range end == 0 && step == 0 fixes pi0 to start directly
// without estimation.
type Lambda struct {
	Start float64
	End   float64
	Step  float64
}

// Fixed reports whether the range is the degenerate fixed-pi0 form.
func (l Lambda) Fixed() bool {
	return l.End == 0 && l.Step == 0
}

// Grid expands the range into candidate lambda values.
func (l Lambda) Grid() []float64 {
	var grid []float64
	for v := l.Start; v < l.End-1e-12; v += l.Step {
		grid = append(grid, v)
	}
	return grid
}

// Validate checks the range for internal consistency.
func (l Lambda) Validate() error {
	if l.Fixed() {
		if l.Start <= 0 || l.Start > 1 {
			return fmt.Errorf("fixed pi0 %v outside (0, 1]", l.Start)
		}
		return nil
	}
	if l.Start < 0 || l.End > 1 || l.Start >= l.End || l.Step <= 0 {
		return fmt.Errorf("invalid pi0 lambda range (%v, %v, %v)", l.Start, l.End, l.Step)
	}
	if len(l.Grid()) == 0 {
		return fmt.Errorf("empty pi0 lambda grid (%v, %v, %v)", l.Start, l.End, l.Step)
	}
	return nil
}

// Pi0Estimator estimates the proportion of true nulls from a p-value
// population. Implementations are injected into the Estimator so the
// capability stays optional.
type Pi0Estimator interface {
	Estimate(pvalues []float64, lambda Lambda) (float64, error)
}

// Estimator turns (score, decoy) populations into accept/reject
// decisions at a configured level.
type Estimator struct {
	Pi0         Pi0Estimator // nil disables estimation; only fixed lambda works
	Lambda      Lambda
	MinEntities int // 0 means DefaultMinEntities
}

// Decision holds the per-entity outcome of an FDR estimation.
type Decision struct {
	QValues  []float64
	Accepted []bool
	Pi0      float64
}

// Apply computes q-values for the population and accepts every target
// entity at or below the threshold. Fails closed when the population is
// smaller than MinEntities.
func (e *Estimator) Apply(scores []float64, decoys []bool, threshold float64) (*Decision, error) {
	if len(scores) != len(decoys) {
		return nil, fmt.Errorf("scores and decoy flags differ in length: %d vs %d", len(scores), len(decoys))
	}
	min := e.MinEntities
	if min == 0 {
		min = DefaultMinEntities
	}
	if len(scores) < min {
		return nil, fmt.Errorf("%w: %d entities, need %d", ErrTooFewEntities, len(scores), min)
	}
	if err := e.Lambda.Validate(); err != nil {
		return nil, err
	}

	var pi0 float64
	if e.Lambda.Fixed() {
		pi0 = e.Lambda.Start
	} else {
		if e.Pi0 == nil {
			return nil, fmt.Errorf("%w: lambda range (%v, %v, %v) requires estimation",
				ErrPi0Unavailable, e.Lambda.Start, e.Lambda.End, e.Lambda.Step)
		}
		pvalues := EmpiricalPValues(scores, decoys)
		if len(pvalues) == 0 {
			return nil, fmt.Errorf("%w: no target entities", ErrTooFewEntities)
		}
		var err error
		pi0, err = e.Pi0.Estimate(pvalues, e.Lambda)
		if err != nil {
			return nil, fmt.Errorf("pi0 estimation failed: %w", err)
		}
	}

	qvalues := QValues(scores, decoys, pi0)
	accepted := make([]bool, len(scores))
	for i := range scores {
		accepted[i] = !decoys[i] && qvalues[i] <= threshold
	}

	return &Decision{QValues: qvalues, Accepted: accepted, Pi0: pi0}, nil
}

// EmpiricalPValues computes a p-value for each target score from the
// decoy score distribution. Decoy entries contribute to the null model
// only; the returned slice covers targets in input order.
func EmpiricalPValues(scores []float64, decoys []bool) []float64 {
	var decoyScores []float64
	for i, d := range decoys {
		if d {
			decoyScores = append(decoyScores, scores[i])
		}
	}
	sort.Float64s(decoyScores)

	var pvalues []float64
	for i, d := range decoys {
		if d {
			continue
		}
		// Number of decoys at least as good (smaller score is better).
		better := sort.SearchFloat64s(decoyScores, scores[i])
		for better < len(decoyScores) && decoyScores[better] <= scores[i] {
			better++
		}
		p := (float64(better) + 1) / (float64(len(decoyScores)) + 1)
		pvalues = append(pvalues, p)
	}
	return pvalues
}

// QValues computes target-decoy q-values scaled by pi0. The q-value of
// an entity is the minimum FDR over all thresholds that accept it, so
// accepted sets are nested across thresholds.
func QValues(scores []float64, decoys []bool, pi0 float64) []float64 {
	n := len(scores)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	qvalues := make([]float64, n)
	targets, decoyCount := 0, 0
	fdrs := make([]float64, n)
	for rank, idx := range order {
		if decoys[idx] {
			decoyCount++
		} else {
			targets++
		}
		fdr := 1.0
		if targets > 0 {
			fdr = pi0 * float64(decoyCount) / float64(targets)
			if fdr > 1 {
				fdr = 1
			}
		}
		fdrs[rank] = fdr
	}

	// Monotonize: cumulative minimum from the worst score backwards.
	for rank := n - 2; rank >= 0; rank-- {
		if fdrs[rank+1] < fdrs[rank] {
			fdrs[rank] = fdrs[rank+1]
		}
	}
	for rank, idx := range order {
		qvalues[idx] = fdrs[rank]
	}
	return qvalues
}

// ModelQValues computes model-based q-values from posterior error
// probabilities: the q-value of an entity is the mean PEP of all
// entities scoring at least as well.
func ModelQValues(peps []float64) []float64 {
	n := len(peps)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return peps[order[a]] < peps[order[b]]
	})

	qvalues := make([]float64, n)
	sum := 0.0
	for rank, idx := range order {
		sum += peps[idx]
		qvalues[idx] = sum / float64(rank+1)
	}

	// Entities with identical PEPs share the same q-value.
	for rank := n - 2; rank >= 0; rank-- {
		cur, next := order[rank], order[rank+1]
		if peps[cur] == peps[next] && qvalues[next] > qvalues[cur] {
			qvalues[cur] = qvalues[next]
		}
	}
	return qvalues
}
