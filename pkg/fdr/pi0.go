package fdr

import (
	"fmt"
	"math/rand"
)

// StoreyPi0 estimates the proportion of true nulls with Storey's
// bootstrap method: the raw estimate pi0(lambda) is computed on a grid
// of tuning values and the lambda minimizing the bootstrapped
// mean-squared error against the most optimistic raw estimate is chosen.
type StoreyPi0 struct {
	Bootstrap int   // number of bootstrap resamples; 0 means 100
	Seed      int64 // resampling seed; fixed so estimation is reproducible
}

// Estimate implements Pi0Estimator.
func (s *StoreyPi0) Estimate(pvalues []float64, lambda Lambda) (float64, error) {
	if lambda.Fixed() {
		return lambda.Start, nil
	}
	grid := lambda.Grid()
	if len(grid) == 0 {
		return 0, fmt.Errorf("empty lambda grid (%v, %v, %v)", lambda.Start, lambda.End, lambda.Step)
	}
	m := len(pvalues)
	if m == 0 {
		return 0, fmt.Errorf("no p-values for pi0 estimation")
	}

	raw := make([]float64, len(grid))
	for i, l := range grid {
		raw[i] = rawPi0(pvalues, l)
	}

	if len(grid) == 1 {
		return clampPi0(raw[0]), nil
	}

	minRaw := raw[0]
	for _, v := range raw {
		if v < minRaw {
			minRaw = v
		}
	}

	b := s.Bootstrap
	if b == 0 {
		b = 100
	}
	rng := rand.New(rand.NewSource(s.Seed))

	mse := make([]float64, len(grid))
	sample := make([]float64, m)
	for i := 0; i < b; i++ {
		for j := range sample {
			sample[j] = pvalues[rng.Intn(m)]
		}
		for k, l := range grid {
			d := rawPi0(sample, l) - minRaw
			mse[k] += d * d
		}
	}

	best := 0
	for k := range mse {
		if mse[k] < mse[best] {
			best = k
		}
	}
	return clampPi0(raw[best]), nil
}

// rawPi0 is the plain Storey estimate #{p > lambda} / (m * (1 - lambda)).
func rawPi0(pvalues []float64, lambda float64) float64 {
	count := 0
	for _, p := range pvalues {
		if p > lambda {
			count++
		}
	}
	return float64(count) / (float64(len(pvalues)) * (1 - lambda))
}

func clampPi0(pi0 float64) float64 {
	if pi0 > 1 {
		return 1
	}
	if pi0 <= 0 {
		// All p-values below every lambda; assume the smallest usable null
		// proportion rather than zeroing out every q-value.
		return 1.0 / float64(1<<20)
	}
	return pi0
}
