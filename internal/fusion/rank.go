package fusion

import (
	"math"
)

// Rank-based combiners. Only positions matter; a run that did not retrieve
// a document adds nothing, except in Condorcet where it ranks the document
// below everything it did retrieve.

func combineRRF(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, list := range q.lists {
		for r, d := range list {
			out[d.ID] += 1 / (p.K + float64(r+1))
		}
	}
	return out
}

func combineRBC(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, list := range q.lists {
		w := 1 - p.Phi
		for _, d := range list {
			out[d.ID] += w
			w *= p.Phi
		}
	}
	return out
}

func inverseSquareRanks(q *query) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for _, list := range q.lists {
		for r, d := range list {
			rank := float64(r + 1)
			out[d.ID] += 1 / (rank * rank)
		}
	}
	return out
}

func combineISR(q *query, _ Params) map[string]float64 {
	out := inverseSquareRanks(q)
	for d, n := range q.hits() {
		out[d] *= float64(n)
	}
	return out
}

// combineLogISR multiplies by ln(hits+σ). With σ = 0 a document retrieved by
// a single run scores 0 instead of going through log(0).
func combineLogISR(q *query, p Params) map[string]float64 {
	out := inverseSquareRanks(q)
	for d, n := range q.hits() {
		out[d] *= math.Log(float64(n) + p.Sigma)
	}
	return out
}

// combineBorda gives a document at rank r in a run (N-r+1)/N points, N being
// the candidate pool of the query, scaled by the run's weight.
func combineBorda(q *query, p Params) map[string]float64 {
	n := float64(len(q.candidates))
	out := make(map[string]float64, len(q.candidates))
	for _, d := range q.candidates {
		out[d] = 0
	}
	for i, list := range q.lists {
		for r, d := range list {
			out[d.ID] += p.Weights[i] * (n - float64(r)) / n
		}
	}
	return out
}

// combineCondorcet scores each document by its weighted pairwise record:
// a beats b when the runs ranking a above b outweigh those ranking b above a.
// Score = (wins + ties/2) / (N-1).
func combineCondorcet(q *query, p Params) map[string]float64 {
	n := len(q.candidates)
	out := make(map[string]float64, n)
	if n == 1 {
		out[q.candidates[0]] = 1
		return out
	}

	points := make([]float64, n)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			pref := q.preference(q.candidates[a], q.candidates[b], p.Weights)
			switch {
			case pref > 0:
				points[a]++
			case pref < 0:
				points[b]++
			default:
				points[a] += 0.5
				points[b] += 0.5
			}
		}
	}
	for i, d := range q.candidates {
		out[d] = points[i] / float64(n-1)
	}
	return out
}

// preference is the weighted margin of runs preferring a over b.
func (q *query) preference(a, b string, weights []float64) float64 {
	margin := 0.0
	for i, ranks := range q.ranks {
		if ranks == nil {
			continue
		}
		ra, okA := ranks[a]
		rb, okB := ranks[b]
		switch {
		case okA && okB && ra < rb, okA && !okB:
			margin += weights[i]
		case okA && okB && rb < ra, okB && !okA:
			margin -= weights[i]
		}
	}
	return margin
}
