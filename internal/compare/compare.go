// Package compare evaluates candidate runs on several metrics and tests
// every pair of runs for a significant difference.
package compare

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/hash"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// Options configures a comparison.
type Options struct {
	// Alpha is the significance threshold: a difference counts when p < Alpha.
	Alpha float64

	Test Test

	// Permutations is the sample count of the Fisher test.
	Permutations int

	// Seed makes the Fisher test reproducible.
	Seed int64

	// Workers bounds concurrent evaluations and tests; <= 0 uses GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the default comparison options.
func DefaultOptions() Options {
	return Options{
		Alpha:        0.01,
		Test:         Student,
		Permutations: 1000,
		Seed:         42,
	}
}

// ParseTest resolves a test name.
func ParseTest(s string) (Test, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student", "t-test", "ttest":
		return Student, nil
	case "fisher", "randomization", "permutation":
		return Fisher, nil
	}
	return "", apperrors.ValidationError(fmt.Sprintf("unknown significance test %q", s))
}

// Validate checks the options.
func (o Options) Validate() error {
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return apperrors.InvalidParameter("alpha must be in (0,1), got %g", o.Alpha)
	}
	switch o.Test {
	case Student:
	case Fisher:
		if o.Permutations < 1 {
			return apperrors.InvalidParameter("fisher test needs at least one permutation, got %d", o.Permutations)
		}
	default:
		return apperrors.ValidationError(fmt.Sprintf("unknown significance test %q", o.Test))
	}
	return nil
}

// Report is the outcome of a comparison.
type Report struct {
	// Runs are the compared run names in input order.
	Runs []string `json:"runs"`

	// Metrics are the metric specs in input order, e.g. "mrr@10".
	Metrics []string `json:"metrics"`

	Alpha float64 `json:"alpha"`
	Test  Test    `json:"test"`

	// Scores[run][metric] is the mean over the judged queries.
	Scores map[string]map[string]float64 `json:"scores"`

	// PValues[metric][a][b] is the p-value of the a/b test; symmetric.
	PValues map[string]map[string]map[string]float64 `json:"p_values"`

	// Beats[metric][a] lists, in Runs order, every run a significantly
	// outperforms on metric. The relation is not closed under transitivity.
	Beats map[string]map[string][]string `json:"beats"`
}

// Significant reports whether a significantly beats b on metric.
func (r *Report) Significant(metric, a, b string) bool {
	for _, x := range r.Beats[metric][a] {
		if x == b {
			return true
		}
	}
	return false
}

// Compare evaluates runs on every metric and tests every pair of runs.
func Compare(ctx context.Context, qrels ranking.Qrels, runs []*ranking.Run, metrics []evaluation.MetricSpec, opts Options) (*Report, error) {
	if len(qrels) == 0 {
		return nil, apperrors.EmptyJudgmentSet()
	}
	if err := checkRuns(qrels, runs); err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, apperrors.ValidationError("compare needs at least one metric")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	eval, err := evaluation.NewEvaluator(qrels, 1)
	if err != nil {
		return nil, err
	}

	// results[m][r] holds run r's per-query scores on metric m.
	results := make([][]*evaluation.Result, len(metrics))
	for m := range results {
		results[m] = make([]*evaluation.Result, len(runs))
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for m, spec := range metrics {
		for r, run := range runs {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := eval.Evaluate(run, spec)
				if err != nil {
					return err
				}
				results[m][r] = res
				return nil
			})
		}
	}
	if err := wait(ctx, g); err != nil {
		return nil, err
	}

	// pvals[m][i][j] for i < j.
	n := len(runs)
	pvals := make([][][]float64, len(metrics))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for m, spec := range metrics {
		pvals[m] = make([][]float64, n)
		for i := range pvals[m] {
			pvals[m][i] = make([]float64, n)
		}
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				g.Go(func() error {
					if err := gctx.Err(); err != nil {
						return err
					}
					a, b := results[m][i].Scores, results[m][j].Scores
					switch opts.Test {
					case Fisher:
						seed := hash.Uint64(opts.Seed, spec.String()+"\x00"+runs[i].Name+"\x00"+runs[j].Name)
						pvals[m][i][j] = fisherRandomization(a, b, opts.Permutations, seed)
					default:
						pvals[m][i][j] = studentT(a, b)
					}
					return nil
				})
			}
		}
	}
	if err := wait(ctx, g); err != nil {
		return nil, err
	}

	return assemble(runs, metrics, results, pvals, opts), nil
}

func wait(ctx context.Context, g *errgroup.Group) error {
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return apperrors.Wrap(apperrors.CodeTimeout, "comparison cancelled", ctx.Err())
		}
		return err
	}
	return nil
}

func assemble(runs []*ranking.Run, metrics []evaluation.MetricSpec, results [][]*evaluation.Result, pvals [][][]float64, opts Options) *Report {
	rep := &Report{
		Runs:    make([]string, len(runs)),
		Metrics: make([]string, len(metrics)),
		Alpha:   opts.Alpha,
		Test:    opts.Test,
		Scores:  make(map[string]map[string]float64, len(runs)),
		PValues: make(map[string]map[string]map[string]float64, len(metrics)),
		Beats:   make(map[string]map[string][]string, len(metrics)),
	}
	for i, r := range runs {
		rep.Runs[i] = r.Name
		rep.Scores[r.Name] = make(map[string]float64, len(metrics))
	}

	for m, spec := range metrics {
		key := spec.String()
		rep.Metrics[m] = key
		rep.PValues[key] = make(map[string]map[string]float64, len(runs))
		rep.Beats[key] = make(map[string][]string, len(runs))

		for i, a := range rep.Runs {
			rep.Scores[a][key] = results[m][i].Mean
			rep.PValues[key][a] = make(map[string]float64, len(runs)-1)
			beaten := []string{}
			for j, b := range rep.Runs {
				if i == j {
					continue
				}
				p := pvals[m][min(i, j)][max(i, j)]
				rep.PValues[key][a][b] = p
				if results[m][i].Mean > results[m][j].Mean && p < opts.Alpha {
					beaten = append(beaten, b)
				}
			}
			rep.Beats[key][a] = beaten
		}
	}
	return rep
}

// checkRuns rejects empty input, duplicate names and runs that share no
// query with the judgments.
func checkRuns(qrels ranking.Qrels, runs []*ranking.Run) error {
	if len(runs) == 0 {
		return apperrors.InvalidRanking("compare needs at least one run")
	}
	seen := make(map[string]struct{}, len(runs))
	for i, r := range runs {
		if r == nil {
			return apperrors.InvalidRanking("run %d is nil", i)
		}
		if _, dup := seen[r.Name]; dup {
			return apperrors.InvalidRanking("duplicate run name %q", r.Name)
		}
		seen[r.Name] = struct{}{}

		overlaps := false
		for qid := range qrels {
			if r.Has(qid) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			return apperrors.MisalignedQuerySet("run %s shares no query with the judgments", r.Name)
		}
	}
	return nil
}
