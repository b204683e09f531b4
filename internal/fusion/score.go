package fusion

import (
	"math"
	"sort"
)

// Score-based combiners. A run that did not retrieve a document contributes
// nothing to its sum (absence counts as zero); the Comb{MAX,MIN,MED,ANZ}
// family looks only at the runs that did retrieve it.

func combineSum(q *query, _ Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, d := range q.candidates {
		s := 0.0
		for i := range q.lists {
			s += q.scores[i][d]
		}
		out[d] = s
	}
	return out
}

func combineMNZ(q *query, _ Params) map[string]float64 {
	return mnz(q, nil, 1)
}

func combineGMNZ(q *query, p Params) map[string]float64 {
	return mnz(q, nil, p.Gamma)
}

func combineWSum(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, d := range q.candidates {
		s := 0.0
		for i := range q.lists {
			s += p.Weights[i] * q.scores[i][d]
		}
		out[d] = s
	}
	return out
}

func combineWMNZ(q *query, p Params) map[string]float64 {
	return mnz(q, p.Weights, 1)
}

// mnz is Σ wᵢsᵢ × hits^gamma; nil weights mean 1 for every run.
func mnz(q *query, weights []float64, gamma float64) map[string]float64 {
	hits := q.hits()
	out := make(map[string]float64, len(q.candidates))
	for _, d := range q.candidates {
		s := 0.0
		for i := range q.lists {
			w := 1.0
			if weights != nil {
				w = weights[i]
			}
			s += w * q.scores[i][d]
		}
		out[d] = s * math.Pow(float64(hits[d]), gamma)
	}
	return out
}

// present returns the scores of d in the runs that retrieved it, in run order.
func (q *query) present(d string) []float64 {
	vals := make([]float64, 0, len(q.lists))
	for i := range q.lists {
		if s, ok := q.scores[i][d]; ok {
			vals = append(vals, s)
		}
	}
	return vals
}

func combinePresent(q *query, agg func([]float64) float64) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, d := range q.candidates {
		out[d] = agg(q.present(d))
	}
	return out
}

func combineMax(q *query, _ Params) map[string]float64 {
	return combinePresent(q, func(v []float64) float64 {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Max(m, x)
		}
		return m
	})
}

func combineMin(q *query, _ Params) map[string]float64 {
	return combinePresent(q, func(v []float64) float64 {
		m := v[0]
		for _, x := range v[1:] {
			m = math.Min(m, x)
		}
		return m
	})
}

func combineMed(q *query, _ Params) map[string]float64 {
	return combinePresent(q, func(v []float64) float64 {
		sort.Float64s(v)
		n := len(v)
		if n%2 == 1 {
			return v[n/2]
		}
		return (v[n/2-1] + v[n/2]) / 2
	})
}

func combineANZ(q *query, _ Params) map[string]float64 {
	return combinePresent(q, func(v []float64) float64 {
		s := 0.0
		for _, x := range v {
			s += x
		}
		return s / float64(len(v))
	})
}
