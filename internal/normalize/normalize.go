// Package normalize rescales run scores onto a comparable domain before fusion.
package normalize

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// Mode selects a normalization.
type Mode string

const (
	// MinMax rescales each query's scores to [0,1].
	MinMax Mode = "min-max"

	// MinMaxInverted is 1 - MinMax, for distance-style scores where lower
	// raw values are better.
	MinMaxInverted Mode = "min-max-inverted"

	// Rank discards magnitudes: score = 1/(1+r) for 0-based rank r.
	Rank Mode = "rank"

	// Max divides by the query's largest score magnitude, so the order is
	// kept even when every score is negative.
	Max Mode = "max"

	// Sum divides by the sum of the query's absolute scores, so the order
	// is kept even when the scores sum to a negative number.
	Sum Mode = "sum"

	// ZMUV standardizes to zero mean and unit variance.
	ZMUV Mode = "zmuv"

	// Borda maps rank r of n to (n-r)/n.
	Borda Mode = "borda"

	// None copies the run unchanged.
	None Mode = "none"
)

// DegenerateScore is assigned when a query's scores cannot be spread
// (one document or all scores equal).
const DegenerateScore = 1.0

var modes = map[string]Mode{
	"min-max":          MinMax,
	"minmax":           MinMax,
	"min_max":          MinMax,
	"min-max-inverted": MinMaxInverted,
	"min_max_inverted": MinMaxInverted,
	"rank":             Rank,
	"max":              Max,
	"sum":              Sum,
	"zmuv":             ZMUV,
	"borda":            Borda,
	"none":             None,
	"":                 None,
}

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	m, ok := modes[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", apperrors.ValidationError(fmt.Sprintf("unknown normalization %q", s))
	}
	return m, nil
}

// Normalize returns a new run with every query rescaled according to mode.
// A query with no documents is rejected with INVALID_RANKING rather than
// passed through, so downstream fusion never sees a silently empty query.
func Normalize(run *ranking.Run, mode Mode) (*ranking.Run, error) {
	if len(run.Scores) == 0 {
		return nil, apperrors.InvalidRanking("run %s has no queries", run.Name)
	}
	fn, ok := normalizers[mode]
	if !ok {
		return nil, apperrors.ValidationError(fmt.Sprintf("unknown normalization %q", mode))
	}

	qids := run.QueryIDs()
	out := make([]map[string]float64, len(qids))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, qid := range qids {
		g.Go(func() error {
			ranked := run.Ranked(qid)
			if len(ranked) == 0 {
				return apperrors.InvalidRanking("run %s: query %s has no documents", run.Name, qid)
			}
			out[i] = fn(ranked)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make(map[string]map[string]float64, len(qids))
	for i, qid := range qids {
		scores[qid] = out[i]
	}
	return ranking.NewRun(run.Name, scores), nil
}

type normalizer func(ranked []ranking.ScoredDoc) map[string]float64

var normalizers = map[Mode]normalizer{
	MinMax:         minMax,
	MinMaxInverted: minMaxInverted,
	Rank:           rankBased,
	Max:            maxNorm,
	Sum:            sumNorm,
	ZMUV:           zmuv,
	Borda:          borda,
	None:           identity,
}

// ranked is score-descending, so the extremes are at the ends.
func bounds(ranked []ranking.ScoredDoc) (lo, hi float64) {
	return ranked[len(ranked)-1].Score, ranked[0].Score
}

func minMax(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	lo, hi := bounds(ranked)
	if hi == lo {
		for _, d := range ranked {
			out[d.ID] = DegenerateScore
		}
		return out
	}

	// Finite extremes of opposite sign can overflow hi-lo; halving both
	// sides keeps the ratio exact.
	scale := 1.0
	if math.IsInf(hi-lo, 0) {
		scale = 0.5
	}
	span := hi*scale - lo*scale
	for _, d := range ranked {
		out[d.ID] = (d.Score*scale - lo*scale) / span
	}
	return out
}

// maxAbs is the largest score magnitude in ranked.
func maxAbs(ranked []ranking.ScoredDoc) float64 {
	lo, hi := bounds(ranked)
	return math.Max(math.Abs(lo), math.Abs(hi))
}

func minMaxInverted(ranked []ranking.ScoredDoc) map[string]float64 {
	out := minMax(ranked)
	lo, hi := bounds(ranked)
	if hi == lo {
		return out
	}
	for id, s := range out {
		out[id] = 1 - s
	}
	return out
}

func rankBased(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	for i, d := range ranked {
		out[d.ID] = 1 / float64(1+i)
	}
	return out
}

func maxNorm(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	m := maxAbs(ranked)
	for _, d := range ranked {
		if m == 0 {
			out[d.ID] = DegenerateScore
			continue
		}
		out[d.ID] = d.Score / m
	}
	return out
}

func sumNorm(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	m := maxAbs(ranked)
	if m == 0 {
		for _, d := range ranked {
			out[d.ID] = DegenerateScore
		}
		return out
	}

	// Scores are scaled into [-1,1] first so the total cannot overflow.
	total := 0.0
	for _, d := range ranked {
		total += math.Abs(d.Score / m)
	}
	for _, d := range ranked {
		out[d.ID] = d.Score / m / total
	}
	return out
}

func zmuv(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	m := maxAbs(ranked)
	if m == 0 {
		for _, d := range ranked {
			out[d.ID] = 0
		}
		return out
	}

	// Standardizing is scale invariant, so work on scores scaled into
	// [-1,1] where the squares cannot overflow.
	n := float64(len(ranked))
	mean := 0.0
	for _, d := range ranked {
		mean += d.Score / m
	}
	mean /= n
	variance := 0.0
	for _, d := range ranked {
		diff := d.Score/m - mean
		variance += diff * diff
	}
	std := math.Sqrt(variance / n)
	for _, d := range ranked {
		if std == 0 {
			out[d.ID] = 0
			continue
		}
		out[d.ID] = (d.Score/m - mean) / std
	}
	return out
}

func borda(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	n := float64(len(ranked))
	for i, d := range ranked {
		out[d.ID] = (n - float64(i)) / n
	}
	return out
}

func identity(ranked []ranking.ScoredDoc) map[string]float64 {
	out := make(map[string]float64, len(ranked))
	for _, d := range ranked {
		out[d.ID] = d.Score
	}
	return out
}
