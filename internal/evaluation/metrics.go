package evaluation

import (
	"math"
)

// The functions below take the grades of a ranked list in rank order
// (grade 0 = not relevant) and a cutoff k; k <= 0 or k > len uses the
// whole list.

func cutoff(n, k int) int {
	if k <= 0 || k > n {
		return n
	}
	return k
}

// ReciprocalRank is 1/rank of the first relevant document in the top k.
func ReciprocalRank(grades []int, k int) float64 {
	k = cutoff(len(grades), k)
	for i := 0; i < k; i++ {
		if grades[i] > 0 {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision sums precision at every relevant position in the top k
// and divides by min(k, numRelevant).
func AveragePrecision(grades []int, k, numRelevant int) float64 {
	if numRelevant == 0 {
		return 0
	}
	denom := numRelevant
	if k > 0 && k < denom {
		denom = k
	}

	k = cutoff(len(grades), k)
	hits := 0
	sumPrecision := 0.0
	for i := 0; i < k; i++ {
		if grades[i] > 0 {
			hits++
			sumPrecision += float64(hits) / float64(i+1)
		}
	}
	return sumPrecision / float64(denom)
}

// DCG is the discounted gain grade/log2(i+1) over the top k, 1-based i.
func DCG(grades []int, k int) float64 {
	k = cutoff(len(grades), k)
	dcg := 0.0
	for i := 0; i < k; i++ {
		if grades[i] > 0 {
			dcg += float64(grades[i]) / math.Log2(float64(i+2))
		}
	}
	return dcg
}

// NDCG divides the DCG of the ranking by the DCG of the ideal ordering of
// the judged grades (highest first).
func NDCG(grades []int, k int, idealGrades []int) float64 {
	idcg := DCG(idealGrades, k)
	if idcg == 0 {
		return 0
	}
	return DCG(grades, k) / idcg
}

// PrecisionAt is the fraction of the top k that is relevant. The
// denominator is k even when fewer documents were retrieved.
func PrecisionAt(grades []int, k int) float64 {
	denom := k
	if k <= 0 {
		denom = len(grades)
	}
	if denom == 0 {
		return 0
	}
	return float64(countRelevant(grades, k)) / float64(denom)
}

// RecallAt is the fraction of relevant documents found in the top k.
func RecallAt(grades []int, k, numRelevant int) float64 {
	if numRelevant == 0 {
		return 0
	}
	return float64(countRelevant(grades, k)) / float64(numRelevant)
}

// HitRateAt is 1 when any relevant document is in the top k.
func HitRateAt(grades []int, k int) float64 {
	if countRelevant(grades, k) > 0 {
		return 1
	}
	return 0
}

func countRelevant(grades []int, k int) int {
	k = cutoff(len(grades), k)
	n := 0
	for i := 0; i < k; i++ {
		if grades[i] > 0 {
			n++
		}
	}
	return n
}
