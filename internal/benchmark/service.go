// Package benchmark runs the full evaluation pipeline: normalize the input
// runs, optimize and fuse every method, then compare the originals and the
// fused runs for significant differences.
package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/MochiXu/hybrid-search-ranx/internal/bus"
	"github.com/MochiXu/hybrid-search-ranx/internal/compare"
	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/normalize"
	"github.com/MochiXu/hybrid-search-ranx/internal/optimize"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
	"github.com/MochiXu/hybrid-search-ranx/internal/store"
)

// EventSource is the source field of events published by the service.
const EventSource = "benchmark"

// Service orchestrates benchmarks. It is safe for concurrent use.
type Service struct {
	store     store.Store
	bus       bus.Bus
	log       *logger.Logger
	optimizer *optimize.Optimizer
	optOpts   optimize.Options
	cmpOpts   compare.Options
	defaults  Defaults
}

// Defaults fill the fields a Request leaves empty.
type Defaults struct {
	Methods []fusion.Method
	Metrics []evaluation.MetricSpec
	Target  evaluation.MetricSpec
	Mode    normalize.Mode
}

// NewService creates a benchmark service from cfg. A nil store disables
// caching and a nil bus disables events.
func NewService(cfg *config.Config, st store.Store, b bus.Bus, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Discard()
	}

	methods, err := fusion.ParseMethods(cfg.Fusion.Methods)
	if err != nil {
		return nil, err
	}
	metrics, err := evaluation.ParseMetrics(cfg.Eval.Metrics)
	if err != nil {
		return nil, err
	}
	target, err := evaluation.ParseMetric(cfg.Optimize.Metric)
	if err != nil {
		return nil, err
	}
	mode, err := normalize.ParseMode(cfg.Fusion.Normalization)
	if err != nil {
		return nil, err
	}
	test, err := compare.ParseTest(cfg.Eval.StatTest)
	if err != nil {
		return nil, err
	}

	optOpts := optimize.Options{
		WeightStep:      cfg.Optimize.WeightStep,
		HoldoutFraction: cfg.Optimize.HoldoutFraction,
		Seed:            cfg.Optimize.Seed,
		Workers:         cfg.Optimize.Workers,
	}
	optimizer, err := optimize.New(optOpts, log)
	if err != nil {
		return nil, err
	}

	cmpOpts := compare.Options{
		Alpha:        cfg.Eval.Alpha,
		Test:         test,
		Permutations: cfg.Eval.Permutations,
		Seed:         cfg.Eval.Seed,
		Workers:      cfg.Eval.Workers,
	}
	if err := cmpOpts.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		store:     st,
		bus:       b,
		log:       log,
		optimizer: optimizer,
		optOpts:   optOpts,
		cmpOpts:   cmpOpts,
		defaults: Defaults{
			Methods: methods,
			Metrics: metrics,
			Target:  target,
			Mode:    mode,
		},
	}, nil
}

// Defaults returns the configured request defaults.
func (s *Service) Defaults() Defaults {
	return s.defaults
}

// Input is one named ranking and the normalization applied to it before
// fusion. An empty Mode uses the configured default.
type Input struct {
	Run  *ranking.Run
	Mode normalize.Mode
}

// Request describes one benchmark.
type Request struct {
	Qrels  ranking.Qrels
	Inputs []Input

	// Methods to fuse; empty uses the configured methods.
	Methods []fusion.Method

	// Metrics to compare on; empty uses the configured metrics.
	Metrics []evaluation.MetricSpec

	// Target is the metric the parameter search maximizes; zero uses the
	// configured metric.
	Target evaluation.MetricSpec
}

// Optimized is the parameter search outcome of one method.
type Optimized struct {
	*optimize.Result

	// Cached is set when the parameters came from the store.
	Cached bool `json:"cached"`
}

// Response is the outcome of a benchmark.
type Response struct {
	Report    *compare.Report `json:"report"`
	Optimized []*Optimized    `json:"optimized"`

	// Fused are the fused runs in method order.
	Fused []*ranking.Run `json:"-"`

	// ReportCached is set when the comparison came from the store.
	ReportCached bool  `json:"report_cached"`
	DurationMs   int64 `json:"duration_ms"`
}

// Normalize applies every input's normalization.
func (s *Service) Normalize(inputs []Input) ([]*ranking.Run, error) {
	if len(inputs) == 0 {
		return nil, apperrors.InvalidRanking("no input runs")
	}
	runs := make([]*ranking.Run, len(inputs))
	for i, in := range inputs {
		if in.Run == nil {
			return nil, apperrors.InvalidRanking("input %d is nil", i)
		}
		mode := in.Mode
		if mode == "" {
			mode = s.defaults.Mode
		}
		log := s.log.WithRun(in.Run.Name)
		norm, err := normalize.Normalize(in.Run, mode)
		if err != nil {
			log.WithError(err).Debug("Normalization failed", "mode", string(mode))
			return nil, fmt.Errorf("normalizing %s: %w", in.Run.Name, err)
		}
		log.Debug("Normalized run", "mode", string(mode), "queries", len(norm.Scores))
		runs[i] = norm
	}
	return runs, nil
}

// Optimize returns the best parameters of method over runs, from the store
// when a previous search over the same inputs is cached.
func (s *Service) Optimize(ctx context.Context, qrels ranking.Qrels, runs []*ranking.Run, method fusion.Method, target evaluation.MetricSpec) (*Optimized, error) {
	log := s.log.WithMethod(string(method))
	key := store.ParamsKey(qrels.Digest(), digests(runs), string(method), target.String(),
		s.optOpts.WeightStep, s.optOpts.HoldoutFraction, s.optOpts.Seed)

	out := &Optimized{}
	if cached := s.loadParams(ctx, key, log); cached != nil {
		out.Result, out.Cached = cached, true
	} else {
		res, err := s.optimizer.Optimize(ctx, qrels, runs, method, target)
		if err != nil {
			return nil, fmt.Errorf("optimizing %s: %w", method, err)
		}
		out.Result = res
		if s.store != nil {
			if err := store.SaveJSON(ctx, s.store, key, res); err != nil {
				log.Warn("Failed to cache parameters", "key", key, "error", err.Error())
			}
		}
	}

	log.Info("Optimized fusion method",
		"metric", target.String(),
		"score", out.Score,
		"baseline", out.Baseline,
		"cached", out.Cached,
	)
	s.publish(ctx, bus.TopicOptimized, bus.OptimizedPayload{
		Method:    string(method),
		Metric:    target.String(),
		Score:     out.Score,
		Baseline:  out.Baseline,
		Evaluated: out.Evaluated,
		Cached:    out.Cached,
		Key:       key,
	})
	return out, nil
}

func (s *Service) loadParams(ctx context.Context, key string, log *logger.Logger) *optimize.Result {
	if s.store == nil {
		return nil
	}
	var res optimize.Result
	if err := store.LoadJSON(ctx, s.store, key, &res); err != nil {
		if !apperrors.IsNotFound(err) {
			log.Warn("Ignoring unreadable cached parameters", "key", key, "error", err.Error())
		}
		return nil
	}
	return &res
}

// Compare compares runs, from the store when the same comparison is cached.
func (s *Service) Compare(ctx context.Context, qrels ranking.Qrels, runs []*ranking.Run, metrics []evaluation.MetricSpec) (*compare.Report, bool, error) {
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.String()
	}
	key := store.ReportKey(qrels.Digest(), digests(runs), names,
		string(s.cmpOpts.Test), s.cmpOpts.Alpha, s.cmpOpts.Seed)

	if s.store != nil {
		var rep compare.Report
		err := store.LoadJSON(ctx, s.store, key, &rep)
		if err == nil {
			return &rep, true, nil
		}
		if !apperrors.IsNotFound(err) {
			s.log.Warn("Ignoring unreadable cached report", "key", key, "error", err.Error())
		}
	}

	rep, err := compare.Compare(ctx, qrels, runs, metrics, s.cmpOpts)
	if err != nil {
		return nil, false, err
	}
	if s.store != nil {
		if err := store.SaveJSON(ctx, s.store, key, rep); err != nil {
			s.log.Warn("Failed to cache report", "key", key, "error", err.Error())
		}
	}
	return rep, false, nil
}

// Run executes a full benchmark.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if len(req.Qrels) == 0 {
		return nil, apperrors.EmptyJudgmentSet()
	}
	methods := req.Methods
	if len(methods) == 0 {
		methods = s.defaults.Methods
	}
	metrics := req.Metrics
	if len(metrics) == 0 {
		metrics = s.defaults.Metrics
	}
	target := req.Target
	if target.Name == "" {
		target = s.defaults.Target
	}

	runs, err := s.Normalize(req.Inputs)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Optimized: make([]*Optimized, 0, len(methods)),
		Fused:     make([]*ranking.Run, 0, len(methods)),
	}
	for _, method := range methods {
		opt, err := s.Optimize(ctx, req.Qrels, runs, method, target)
		if err != nil {
			return nil, err
		}
		fused, err := fusion.Fuse(runs, method, opt.Params)
		if err != nil {
			return nil, fmt.Errorf("fusing %s: %w", method, err)
		}
		resp.Optimized = append(resp.Optimized, opt)
		resp.Fused = append(resp.Fused, fused)
	}

	candidates := append(append([]*ranking.Run(nil), runs...), resp.Fused...)
	resp.Report, resp.ReportCached, err = s.Compare(ctx, req.Qrels, candidates, metrics)
	if err != nil {
		return nil, err
	}
	resp.DurationMs = time.Since(start).Milliseconds()

	s.log.Info("Benchmark complete",
		"runs", len(runs),
		"methods", len(methods),
		"metrics", len(metrics),
		"duration_ms", resp.DurationMs,
	)
	s.publish(ctx, bus.TopicCompared, bus.ComparedPayload{
		Runs:       resp.Report.Runs,
		Metrics:    resp.Report.Metrics,
		Test:       string(resp.Report.Test),
		Alpha:      resp.Report.Alpha,
		Best:       Best(resp.Report),
		DurationMs: resp.DurationMs,
	})
	return resp, nil
}

// Best returns, per metric, the run with the highest mean score. Ties go
// to the run listed first.
func Best(rep *compare.Report) map[string]string {
	best := make(map[string]string, len(rep.Metrics))
	for _, metric := range rep.Metrics {
		top := ""
		for _, run := range rep.Runs {
			if top == "" || rep.Scores[run][metric] > rep.Scores[top][metric] {
				top = run
			}
		}
		best[metric] = top
	}
	return best
}

func (s *Service) publish(ctx context.Context, topic string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, bus.NewEvent(topic, EventSource, payload)); err != nil {
		s.log.Warn("Failed to publish event", "topic", topic, "error", err.Error())
	}
}

func digests(runs []*ranking.Run) []string {
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.Name + "=" + r.Digest()
	}
	return out
}
