// Package calib fits the per-run calibration mappings that bring native
// retention-time and ion-mobility coordinates onto a common reference
// scale, and selects the reference run those mappings anchor to.
package calib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Fraction selects the lowess bandwidth: either a fixed fraction of the
// data points or a cross-validated choice over a candidate grid.
type Fraction struct {
	value          float64
	crossValidated bool
}

// FixedFraction uses f (0 < f <= 1) of the points in every local fit.
func FixedFraction(f float64) Fraction {
	return Fraction{value: f}
}

// CrossValidated picks the bandwidth by k-fold cross-validation.
func CrossValidated() Fraction {
	return Fraction{crossValidated: true}
}

// IsCrossValidated reports whether the bandwidth is chosen by CV.
func (f Fraction) IsCrossValidated() bool { return f.crossValidated }

// Value returns the fixed fraction; meaningless for CV bandwidths.
func (f Fraction) Value() float64 { return f.value }

func (f Fraction) String() string {
	if f.crossValidated {
		return "cv"
	}
	return fmt.Sprintf("%g", f.value)
}

// Candidate bandwidths and fold count for cross-validation.
var cvGrid = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.7, 1.0}

const (
	cvFolds     = 5
	robustIters = 3
)

// Mapping is a fitted native-to-reference axis mapping. Inside the
// training domain values are interpolated between fitted points; outside
// it the boundary fitted value is used (flat extrapolation).
type Mapping struct {
	x      []float64 // ascending, unique
	fitted []float64
}

// Domain returns the convex hull of the training native-axis values.
func (m *Mapping) Domain() (low, high float64) {
	return m.x[0], m.x[len(m.x)-1]
}

// Apply maps a native axis value onto the reference scale.
func (m *Mapping) Apply(v float64) float64 {
	n := len(m.x)
	if v <= m.x[0] {
		return m.fitted[0]
	}
	if v >= m.x[n-1] {
		return m.fitted[n-1]
	}
	i := sort.SearchFloat64s(m.x, v)
	if m.x[i] == v {
		return m.fitted[i]
	}
	x0, x1 := m.x[i-1], m.x[i]
	y0, y1 := m.fitted[i-1], m.fitted[i]
	return y0 + (y1-y0)*(v-x0)/(x1-x0)
}

// FitLowess fits a robust locally weighted regression of y on x and
// returns the resulting mapping.
func FitLowess(x, y []float64, frac Fraction) (*Mapping, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("x and y differ in length: %d vs %d", len(x), len(y))
	}
	if len(x) < 2 {
		return nil, fmt.Errorf("need at least 2 points to fit, got %d", len(x))
	}

	f := frac.Value()
	if frac.IsCrossValidated() {
		f = crossValidateFraction(x, y)
	}
	if f <= 0 || f > 1 {
		return nil, fmt.Errorf("lowess fraction %v outside (0, 1]", f)
	}

	xs, ys := sortByX(x, y)
	fitted := lowessFit(xs, ys, f)

	// Collapse duplicate x positions by averaging their fitted values.
	ux := make([]float64, 0, len(xs))
	uf := make([]float64, 0, len(xs))
	for i := 0; i < len(xs); {
		j := i
		sum := 0.0
		for j < len(xs) && xs[j] == xs[i] {
			sum += fitted[j]
			j++
		}
		ux = append(ux, xs[i])
		uf = append(uf, sum/float64(j-i))
		i = j
	}

	return &Mapping{x: ux, fitted: uf}, nil
}

// lowessFit runs tricube-weighted local linear regression with
// robustness iterations. xs must be ascending.
func lowessFit(xs, ys []float64, frac float64) []float64 {
	n := len(xs)
	window := int(math.Ceil(frac * float64(n)))
	if window < 2 {
		window = 2
	}
	if window > n {
		window = n
	}

	robust := make([]float64, n)
	for i := range robust {
		robust[i] = 1
	}

	fitted := make([]float64, n)
	for iter := 0; iter <= robustIters; iter++ {
		for i := 0; i < n; i++ {
			fitted[i] = smoothAt(xs, ys, robust, i, window)
		}
		if iter == robustIters {
			break
		}

		// Bisquare robustness weights from the residuals.
		res := make([]float64, n)
		abs := make([]float64, n)
		for i := range res {
			res[i] = ys[i] - fitted[i]
			abs[i] = math.Abs(res[i])
		}
		sort.Float64s(abs)
		s := stat.Quantile(0.5, stat.Empirical, abs, nil)
		if s == 0 {
			break
		}
		for i := range robust {
			u := res[i] / (6 * s)
			if u < -1 || u > 1 {
				robust[i] = 0
			} else {
				w := 1 - u*u
				robust[i] = w * w
			}
		}
	}
	return fitted
}

// smoothAt computes the local fit at index i using the window nearest
// neighbours of xs[i].
func smoothAt(xs, ys, robust []float64, i, window int) float64 {
	n := len(xs)

	// Slide the window so it holds the nearest neighbours of xs[i].
	lo := i - window/2
	if lo < 0 {
		lo = 0
	}
	if lo+window > n {
		lo = n - window
	}
	for lo > 0 && xs[i]-xs[lo-1] < xs[lo+window-1]-xs[i] {
		lo--
	}
	for lo+window < n && xs[lo+window]-xs[i] < xs[i]-xs[lo] {
		lo++
	}
	hi := lo + window

	h := math.Max(xs[hi-1]-xs[i], xs[i]-xs[lo])
	wx := make([]float64, 0, window)
	wy := make([]float64, 0, window)
	ww := make([]float64, 0, window)
	wsum := 0.0
	for j := lo; j < hi; j++ {
		var w float64
		if h == 0 {
			w = 1
		} else {
			d := math.Abs(xs[j]-xs[i]) / h
			if d >= 1 {
				continue
			}
			c := 1 - d*d*d
			w = c * c * c
		}
		w *= robust[j]
		if w <= 0 {
			continue
		}
		wx = append(wx, xs[j])
		wy = append(wy, ys[j])
		ww = append(ww, w)
		wsum += w
	}

	if wsum == 0 || len(wx) < 2 {
		return ys[i]
	}

	// Degenerate neighbourhood (all x equal): weighted mean.
	if wx[0] == wx[len(wx)-1] {
		return stat.Mean(wy, ww)
	}

	alpha, beta := stat.LinearRegression(wx, wy, ww, false)
	return alpha + beta*xs[i]
}

// crossValidateFraction picks the candidate bandwidth minimizing
// out-of-fold squared prediction error with deterministic interleaved
// folds.
func crossValidateFraction(x, y []float64) float64 {
	n := len(x)
	folds := cvFolds
	if n < folds {
		folds = n
	}

	best := cvGrid[0]
	bestErr := math.Inf(1)
	for _, f := range cvGrid {
		total := 0.0
		valid := true
		for k := 0; k < folds; k++ {
			var tx, ty, hx, hy []float64
			for i := 0; i < n; i++ {
				if i%folds == k {
					hx = append(hx, x[i])
					hy = append(hy, y[i])
				} else {
					tx = append(tx, x[i])
					ty = append(ty, y[i])
				}
			}
			if len(tx) < 2 {
				valid = false
				break
			}
			m, err := FitLowess(tx, ty, FixedFraction(f))
			if err != nil {
				valid = false
				break
			}
			for i := range hx {
				d := m.Apply(hx[i]) - hy[i]
				total += d * d
			}
		}
		if valid && total < bestErr {
			bestErr = total
			best = f
		}
	}
	return best
}

func sortByX(x, y []float64) ([]float64, []float64) {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	xs := make([]float64, len(x))
	ys := make([]float64, len(y))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}
