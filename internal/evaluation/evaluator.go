// Package evaluation computes ranking-quality metrics per query and their
// means across a judgment set.
package evaluation

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// Evaluator scores runs against a judgment set.
type Evaluator struct {
	qrels   ranking.Qrels
	qids    []string
	workers int
}

// NewEvaluator creates an evaluator. workers <= 0 uses GOMAXPROCS.
func NewEvaluator(qrels ranking.Qrels, workers int) (*Evaluator, error) {
	if len(qrels) == 0 {
		return nil, apperrors.EmptyJudgmentSet()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Evaluator{
		qrels:   qrels,
		qids:    qrels.QueryIDs(),
		workers: workers,
	}, nil
}

// Evaluate is a one-shot convenience around NewEvaluator.
func Evaluate(qrels ranking.Qrels, run *ranking.Run, spec MetricSpec) (*Result, error) {
	e, err := NewEvaluator(qrels, 0)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(run, spec)
}

// Evaluate scores every judged query. Queries missing from the run score
// as an empty ranked list.
func (e *Evaluator) Evaluate(run *ranking.Run, spec MetricSpec) (*Result, error) {
	score, err := scorer(spec)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(e.qids))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, qid := range e.qids {
		g.Go(func() error {
			scores[i] = score(e.grades(run, qid, spec.K), e.qrels, qid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Summed in query order so the mean does not depend on scheduling.
	sum := 0.0
	for _, s := range scores {
		sum += s
	}

	return &Result{
		Run:      run.Name,
		Spec:     spec,
		QueryIDs: e.qids,
		Scores:   scores,
		Mean:     sum / float64(len(scores)),
	}, nil
}

// EvaluateAll scores one run for several metrics, in spec order.
func (e *Evaluator) EvaluateAll(run *ranking.Run, specs []MetricSpec) ([]*Result, error) {
	results := make([]*Result, len(specs))
	for i, spec := range specs {
		res, err := e.Evaluate(run, spec)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// QueryIDs returns the judged queries in evaluation order.
func (e *Evaluator) QueryIDs() []string {
	return e.qids
}

// grades maps the top of the run's list for a query to judgment grades.
func (e *Evaluator) grades(run *ranking.Run, qid string, k int) []int {
	ranked := run.Ranked(qid)
	n := cutoff(len(ranked), k)
	judged := e.qrels[qid]
	grades := make([]int, n)
	for i := 0; i < n; i++ {
		grades[i] = judged[ranked[i].ID]
	}
	return grades
}

type scoreFunc func(grades []int, qrels ranking.Qrels, qid string) float64

func scorer(spec MetricSpec) (scoreFunc, error) {
	k := spec.K
	switch spec.Name {
	case MRR:
		return func(g []int, _ ranking.Qrels, _ string) float64 {
			return ReciprocalRank(g, k)
		}, nil
	case MAP:
		return func(g []int, q ranking.Qrels, qid string) float64 {
			return AveragePrecision(g, k, q.NumRelevant(qid))
		}, nil
	case NDCGM:
		return func(g []int, q ranking.Qrels, qid string) float64 {
			return NDCG(g, k, q.Grades(qid))
		}, nil
	case Precision:
		return func(g []int, _ ranking.Qrels, _ string) float64 {
			return PrecisionAt(g, k)
		}, nil
	case Recall:
		return func(g []int, q ranking.Qrels, qid string) float64 {
			return RecallAt(g, k, q.NumRelevant(qid))
		}, nil
	case HitRate:
		return func(g []int, _ ranking.Qrels, _ string) float64 {
			return HitRateAt(g, k)
		}, nil
	default:
		return nil, apperrors.ValidationError("unknown metric " + string(spec.Name))
	}
}
