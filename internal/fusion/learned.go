package fusion

import (
	"math"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// Learned strategies estimate, per input run, how likely a document in a
// given bucket (position, segment or score range) is to be relevant. At fuse
// time a run that did not retrieve a document adds nothing: for the
// probability sums that is "no evidence", and for BayesFuse a log-odds of
// zero is the same neutral value.

// Train fits the learned parameters of method on qrels and returns params
// with Model filled in. Methods without learned parameters return params
// unchanged; Mixed trains each learned component.
func Train(qrels ranking.Qrels, runs []*ranking.Run, method Method, params Params) (Params, error) {
	if err := checkInputs(runs); err != nil {
		return Params{}, err
	}
	if len(qrels) == 0 {
		return Params{}, apperrors.EmptyJudgmentSet()
	}
	if err := params.Validate(method, len(runs)); err != nil {
		return Params{}, err
	}

	out := params.Clone()
	if method == Mixed {
		for i, c := range out.Components {
			trained, err := Train(qrels, runs, c.Method, c.Params)
			if err != nil {
				return Params{}, err
			}
			out.Components[i].Params = trained
		}
		return out, nil
	}
	if !method.Learned() {
		return out, nil
	}

	model := &Model{Probs: make([][]float64, len(runs))}
	for i, run := range runs {
		probs, err := trainRun(qrels, run, method, out)
		if err != nil {
			return Params{}, err
		}
		model.Probs[i] = probs
	}
	out.Model = model
	return out, nil
}

// tally accumulates, per bucket, both per-query relevance fractions and
// pooled counts so each method can pick its estimator.
type tally struct {
	fracSum []float64
	queries []int
	rel     []int
	total   []int
}

func newTally(n int) *tally {
	return &tally{
		fracSum: make([]float64, n),
		queries: make([]int, n),
		rel:     make([]int, n),
		total:   make([]int, n),
	}
}

// averaged is the mean per-query relevance fraction of each bucket.
func (t *tally) averaged() []float64 {
	out := make([]float64, len(t.fracSum))
	for b := range out {
		if t.queries[b] > 0 {
			out[b] = t.fracSum[b] / float64(t.queries[b])
		}
	}
	return out
}

// pooled is rel/total per bucket.
func (t *tally) pooled() []float64 {
	out := make([]float64, len(t.rel))
	for b := range out {
		if t.total[b] > 0 {
			out[b] = float64(t.rel[b]) / float64(t.total[b])
		}
	}
	return out
}

func trainRun(qrels ranking.Qrels, run *ranking.Run, method Method, p Params) ([]float64, error) {
	var qids []string
	depth := 0
	for _, qid := range qrels.QueryIDs() {
		if docs, ok := run.Scores[qid]; ok {
			qids = append(qids, qid)
			depth = max(depth, len(docs))
		}
	}
	if len(qids) == 0 {
		return nil, apperrors.MisalignedQuerySet("%s: run %s shares no query with the judgments", method, run.Name)
	}

	nBuckets := bucketCount(method, p, depth)
	t := newTally(nBuckets)
	for _, qid := range qids {
		judged := qrels[qid]
		ranked := run.Ranked(qid)
		unit := unitRange(ranked)
		rel := make([]int, nBuckets)
		total := make([]int, nBuckets)
		for pos, d := range ranked {
			b := bucketOf(method, p, pos, len(ranked), unit[pos])
			if b < 0 || b >= nBuckets {
				continue
			}
			total[b]++
			if judged[d.ID] > 0 {
				rel[b]++
			}
		}
		for b := range total {
			if total[b] == 0 {
				continue
			}
			t.fracSum[b] += float64(rel[b]) / float64(total[b])
			t.queries[b]++
			t.rel[b] += rel[b]
			t.total[b] += total[b]
		}
	}

	switch method {
	case BayesFuse:
		logOdds := make([]float64, nBuckets)
		for b := range logOdds {
			pr := (float64(t.rel[b]) + p.Alpha) / (float64(t.total[b]) + p.Alpha + p.Beta)
			logOdds[b] = math.Log(pr / (1 - pr))
		}
		return logOdds, nil
	case SlideFuse:
		return slide(t.averaged(), p.Window), nil
	case MAPFuse:
		return t.pooled(), nil
	default:
		return t.averaged(), nil
	}
}

// slide replaces each position's probability with the mean over the
// window [i-w, i+w] clipped to the observed depth.
func slide(probs []float64, w int) []float64 {
	out := make([]float64, len(probs))
	for i := range probs {
		lo, hi := max(0, i-w), min(len(probs)-1, i+w)
		s := 0.0
		for j := lo; j <= hi; j++ {
			s += probs[j]
		}
		out[i] = s / float64(hi-lo+1)
	}
	return out
}

func bucketCount(m Method, p Params, depth int) int {
	switch m {
	case ProbFuse, SegFuse:
		return p.Segments
	case MAPFuse:
		return p.Buckets
	case PosFuse:
		if p.Positions > 0 {
			return p.Positions
		}
		return depth
	default:
		return depth
	}
}

// bucketOf maps a 0-based position in a list of length n (and the doc's
// score rescaled by unitRange) to the method's bucket.
func bucketOf(m Method, p Params, pos, n int, score float64) int {
	switch m {
	case ProbFuse:
		size := (n + p.Segments - 1) / p.Segments
		return pos / size
	case SegFuse:
		return segFuseSegment(pos, p.Segments)
	case MAPFuse:
		return min(int(score*float64(p.Buckets)), p.Buckets-1)
	default:
		return pos
	}
}

// segFuseSegment places position pos in segments of size 10·2^(k-1) - 5
// (5, 15, 35, 75, ...); the last segment absorbs the tail.
func segFuseSegment(pos, segments int) int {
	end := 0
	for k := 1; k < segments; k++ {
		end += 10*(1<<(k-1)) - 5
		if pos < end {
			return k - 1
		}
	}
	return segments - 1
}

func combineProbFuse(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for i, list := range q.lists {
		probs := p.Model.Probs[i]
		for pos, d := range list {
			b := bucketOf(ProbFuse, p, pos, len(list), 0)
			out[d.ID] += lookup(probs, b) / float64(b+1)
		}
	}
	return fill(q, out)
}

// combinePositional serves PosFuse and SlideFuse; positions deeper than
// the trained table contribute nothing.
func combinePositional(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for i, list := range q.lists {
		probs := p.Model.Probs[i]
		for pos, d := range list {
			out[d.ID] += lookup(probs, pos)
		}
	}
	return fill(q, out)
}

// combineBayes sums log-odds; positions deeper than the trained table fall
// back to the prior log-odds log(alpha/beta).
func combineBayes(q *query, p Params) map[string]float64 {
	prior := math.Log(p.Alpha / p.Beta)
	out := make(map[string]float64, len(q.candidates))
	for i, list := range q.lists {
		probs := p.Model.Probs[i]
		for pos, d := range list {
			if pos < len(probs) {
				out[d.ID] += probs[pos]
			} else {
				out[d.ID] += prior
			}
		}
	}
	return fill(q, out)
}

func combineSegFuse(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for i, list := range q.lists {
		probs := p.Model.Probs[i]
		unit := unitRange(list)
		for pos, d := range list {
			out[d.ID] += lookup(probs, segFuseSegment(pos, p.Segments)) * (1 + unit[pos])
		}
	}
	return fill(q, out)
}

func combineMAPFuse(q *query, p Params) map[string]float64 {
	out := make(map[string]float64, len(q.candidates))
	for i, list := range q.lists {
		probs := p.Model.Probs[i]
		unit := unitRange(list)
		for pos, d := range list {
			out[d.ID] += lookup(probs, bucketOf(MAPFuse, p, pos, len(list), unit[pos]))
		}
	}
	return fill(q, out)
}

// unitRange min-max rescales a list's scores to [0,1] so MAPFuse buckets
// and the SegFuse score term mean the same thing whatever normalization
// produced the input. A list of equal scores maps to 1.
func unitRange(list []ranking.ScoredDoc) []float64 {
	out := make([]float64, len(list))
	if len(list) == 0 {
		return out
	}
	lo, hi := list[0].Score, list[0].Score
	for _, d := range list {
		lo, hi = math.Min(lo, d.Score), math.Max(hi, d.Score)
	}
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	scale := 1.0
	if math.IsInf(hi-lo, 0) {
		scale = 0.5
	}
	for i, d := range list {
		out[i] = (d.Score*scale - lo*scale) / (hi*scale - lo*scale)
	}
	return out
}

func lookup(probs []float64, b int) float64 {
	if b < 0 || b >= len(probs) {
		return 0
	}
	return probs[b]
}

// fill makes sure every candidate appears in the output, even with score 0.
func fill(q *query, out map[string]float64) map[string]float64 {
	for _, d := range q.candidates {
		if _, ok := out[d]; !ok {
			out[d] = 0
		}
	}
	return out
}
