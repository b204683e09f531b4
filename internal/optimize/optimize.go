// Package optimize searches a fusion method's parameter space for the
// setting that maximizes a target metric.
package optimize

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// Options configures an Optimizer.
type Options struct {
	// WeightStep is the weight grid resolution, in (0,1].
	WeightStep float64

	// HoldoutFraction, when > 0, trains learned methods on part of the
	// judgments and scores candidates on the held-out rest. 0 trains and
	// scores on the same judgments.
	HoldoutFraction float64

	// Seed drives the held-out split.
	Seed int64

	// Workers bounds concurrent candidate evaluations; <= 0 uses GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the default optimizer options.
func DefaultOptions() Options {
	return Options{
		WeightStep: DefaultWeightStep,
		Seed:       42,
	}
}

// Result is the outcome of one optimization.
type Result struct {
	Method fusion.Method          `json:"method"`
	Target evaluation.MetricSpec `json:"target"`

	// Params are the best parameters, trained when the method is learned.
	Params fusion.Params `json:"params"`

	// Score is the target metric of Params; Baseline that of the defaults.
	Score    float64 `json:"score"`
	Baseline float64 `json:"baseline"`

	// Evaluated is the number of candidates tried.
	Evaluated int `json:"evaluated"`
}

// Optimizer runs parameter searches.
type Optimizer struct {
	opts Options
	log  *logger.Logger
}

// New creates an optimizer. A nil logger discards output.
func New(opts Options, log *logger.Logger) (*Optimizer, error) {
	if !(opts.WeightStep > 0 && opts.WeightStep <= 1) {
		return nil, apperrors.InvalidParameter("weight step must be in (0,1], got %g", opts.WeightStep)
	}
	if opts.HoldoutFraction < 0 || opts.HoldoutFraction >= 1 {
		return nil, apperrors.InvalidParameter("holdout fraction must be in [0,1), got %g", opts.HoldoutFraction)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Optimizer{opts: opts, log: log}, nil
}

type candidate struct {
	params fusion.Params
	score  float64
}

// Optimize evaluates every candidate of method's search space and returns
// the best. Ties go to the candidate enumerated first, so the defaults win
// unless something strictly beats them.
func (o *Optimizer) Optimize(ctx context.Context, qrels ranking.Qrels, runs []*ranking.Run, method fusion.Method, target evaluation.MetricSpec) (*Result, error) {
	if len(qrels) == 0 {
		return nil, apperrors.EmptyJudgmentSet()
	}
	space, err := SearchSpace(method, len(runs), o.opts.WeightStep)
	if err != nil {
		return nil, err
	}

	train, held := qrels, qrels
	if o.opts.HoldoutFraction > 0 {
		train, held, err = qrels.Split(o.opts.HoldoutFraction, o.opts.Seed)
		if err != nil {
			return nil, err
		}
	}
	eval, err := evaluation.NewEvaluator(held, 1)
	if err != nil {
		return nil, err
	}

	log := o.log.WithMethod(string(method))
	start := time.Now()

	results := make([]candidate, len(space))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, params := range space {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trained, err := fusion.Train(train, runs, method, params)
			if err != nil {
				return err
			}
			fused, err := fusion.Fuse(runs, method, trained)
			if err != nil {
				return err
			}
			res, err := eval.Evaluate(fused, target)
			if err != nil {
				return err
			}
			results[i] = candidate{params: trained, score: res.Mean}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.CodeTimeout, "optimization cancelled", ctx.Err())
		}
		return nil, err
	}

	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].score > results[best].score {
			best = i
		}
	}

	log.Debug("Optimized parameters",
		"target", target.String(),
		"candidates", len(space),
		"score", results[best].score,
		"baseline", results[0].score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Method:    method,
		Target:    target,
		Params:    results[best].params,
		Score:     results[best].score,
		Baseline:  results[0].score,
		Evaluated: len(space),
	}, nil
}
