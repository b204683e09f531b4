package compare

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Test selects the paired significance test.
type Test string

const (
	// Student is the two-sided paired t-test.
	Student Test = "student"
	// Fisher is the two-sided paired randomization test.
	Fisher Test = "fisher"
)

// differences returns a[i]-b[i].
func differences(a, b []float64) []float64 {
	d := make([]float64, len(a))
	for i := range a {
		d[i] = a[i] - b[i]
	}
	return d
}

// degenerate handles inputs the tests cannot score: fewer than two queries,
// or differences without variance. ok is false when the caller should run
// the real test.
func degenerate(d []float64) (p float64, ok bool) {
	if len(d) < 2 {
		return 1, true
	}
	for _, x := range d[1:] {
		if x != d[0] {
			return 0, false
		}
	}
	if d[0] == 0 {
		return 1, true
	}
	return 0, true
}

// studentT returns the two-sided p-value of the paired t-test.
func studentT(a, b []float64) float64 {
	d := differences(a, b)
	if p, ok := degenerate(d); ok {
		return p
	}

	n := float64(len(d))
	mean, sd := stat.MeanStdDev(d, nil)
	if sd == 0 {
		if mean == 0 {
			return 1
		}
		return 0
	}
	t := mean / (sd / math.Sqrt(n))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 1}
	return clamp(2 * dist.Survival(math.Abs(t)))
}

// fisherRandomization returns the two-sided p-value of the paired
// randomization test: the share of random sign assignments whose mean
// difference is at least as extreme as the observed one.
func fisherRandomization(a, b []float64, permutations int, seed uint64) float64 {
	d := differences(a, b)
	if p, ok := degenerate(d); ok {
		return p
	}

	observed := math.Abs(stat.Mean(d, nil))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tol := 1e-12 * math.Max(1, observed)

	extreme := 0
	for i := 0; i < permutations; i++ {
		sum := 0.0
		for _, x := range d {
			if rng.IntN(2) == 0 {
				sum += x
			} else {
				sum -= x
			}
		}
		if math.Abs(sum/float64(len(d))) >= observed-tol {
			extreme++
		}
	}
	return clamp(float64(extreme+1) / float64(permutations+1))
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
