package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MochiXu/hybrid-search-ranx/internal/bus"
	"github.com/MochiXu/hybrid-search-ranx/internal/compare"
	"github.com/MochiXu/hybrid-search-ranx/internal/config"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/normalize"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/logger"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
	"github.com/MochiXu/hybrid-search-ranx/internal/store"
)

// corpus builds n queries where run "good" puts the relevant doc first and
// run "bad" puts it last.
func corpus(n int) (ranking.Qrels, []Input) {
	qrels := ranking.Qrels{}
	good := map[string]map[string]float64{}
	bad := map[string]map[string]float64{}
	for i := 0; i < n; i++ {
		q := fmt.Sprintf("q%d", i)
		qrels[q] = map[string]int{"rel": 1}
		good[q] = map[string]float64{"rel": 12, "x": 7, "y": 2}
		bad[q] = map[string]float64{"rel": 0.1, "x": 0.8, "y": 0.7}
	}
	return qrels, []Input{
		{Run: ranking.NewRun("good", good)},
		{Run: ranking.NewRun("bad", bad)},
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Fusion.Methods = []string{"rrf", "wsum"}
	cfg.Optimize.WeightStep = 0.25
	return cfg
}

func newService(t *testing.T, st store.Store, b bus.Bus) *Service {
	t.Helper()
	svc, err := NewService(testConfig(), st, b, nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestService_Run(t *testing.T) {
	qrels, inputs := corpus(8)
	st := store.NewMemoryStore(0)
	svc := newService(t, st, nil)

	resp, err := svc.Run(context.Background(), Request{Qrels: qrels, Inputs: inputs})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantRuns := []string{"good", "bad", fusion.RRF.DisplayName(), fusion.WSUM.DisplayName()}
	if !reflect.DeepEqual(resp.Report.Runs, wantRuns) {
		t.Errorf("Report.Runs = %v, want %v", resp.Report.Runs, wantRuns)
	}
	if want := []string{"mrr@10", "map@10", "ndcg@10"}; !reflect.DeepEqual(resp.Report.Metrics, want) {
		t.Errorf("Report.Metrics = %v, want %v", resp.Report.Metrics, want)
	}
	if len(resp.Optimized) != 2 || len(resp.Fused) != 2 {
		t.Fatalf("Run() optimized %d and fused %d methods, want 2 each", len(resp.Optimized), len(resp.Fused))
	}

	wsum := resp.Optimized[1]
	if wsum.Method != fusion.WSUM || wsum.Score != 1 || wsum.Cached {
		t.Errorf("wsum = %+v, want uncached score 1", wsum.Result)
	}
	if got := resp.Report.Scores["weighted_sum"]["mrr@10"]; got != 1 {
		t.Errorf("weighted_sum mrr@10 = %v, want 1", got)
	}

	if !resp.Report.Significant("mrr@10", "good", "bad") {
		t.Error("good should significantly beat bad on mrr@10")
	}
	if resp.Report.Significant("mrr@10", "good", "weighted_sum") {
		t.Error("good and weighted_sum rank identically and should not differ")
	}

	// Two parameter searches and one report.
	if n := st.Len(); n != 3 {
		t.Errorf("store holds %d entries, want 3", n)
	}
}

func TestService_RunUsesCache(t *testing.T) {
	qrels, inputs := corpus(6)
	svc := newService(t, store.NewMemoryStore(time.Hour), nil)

	first, err := svc.Run(context.Background(), Request{Qrels: qrels, Inputs: inputs})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	second, err := svc.Run(context.Background(), Request{Qrels: qrels, Inputs: inputs})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if !second.ReportCached {
		t.Error("second Run() ReportCached = false, want true")
	}
	for i, opt := range second.Optimized {
		if !opt.Cached {
			t.Errorf("second Run() Optimized[%d].Cached = false, want true", i)
		}
		if !reflect.DeepEqual(opt.Params, first.Optimized[i].Params) {
			t.Errorf("cached params = %+v, want %+v", opt.Params, first.Optimized[i].Params)
		}
	}
	if !reflect.DeepEqual(second.Report.Beats, first.Report.Beats) {
		t.Errorf("cached Beats = %v, want %v", second.Report.Beats, first.Report.Beats)
	}
}

func TestService_RunWithoutStore(t *testing.T) {
	qrels, inputs := corpus(4)
	svc := newService(t, nil, nil)

	resp, err := svc.Run(context.Background(), Request{
		Qrels:   qrels,
		Inputs:  inputs,
		Methods: []fusion.Method{fusion.CombSUM},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.ReportCached || resp.Optimized[0].Cached {
		t.Error("Run() without a store reported a cache hit")
	}
	if len(resp.Report.Runs) != 3 {
		t.Errorf("Report.Runs = %v, want 3 runs", resp.Report.Runs)
	}
}

func TestService_PublishesEvents(t *testing.T) {
	qrels, inputs := corpus(4)
	b := bus.NewMemoryBus(nil)
	defer b.Close()

	var mu sync.Mutex
	var optimized []bus.OptimizedPayload
	var compared []bus.ComparedPayload
	b.Subscribe(context.Background(), bus.TopicOptimized, func(ctx context.Context, e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		optimized = append(optimized, e.Payload.(bus.OptimizedPayload))
		return nil
	})
	b.Subscribe(context.Background(), bus.TopicCompared, func(ctx context.Context, e bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if e.Source != EventSource {
			return fmt.Errorf("source = %s", e.Source)
		}
		compared = append(compared, e.Payload.(bus.ComparedPayload))
		return nil
	})

	svc := newService(t, store.NewMemoryStore(0), b)
	if _, err := svc.Run(context.Background(), Request{Qrels: qrels, Inputs: inputs}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !b.Drain(time.Second) {
		t.Fatal("handlers did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(optimized) != 2 {
		t.Fatalf("received %d optimized events, want 2", len(optimized))
	}
	for _, p := range optimized {
		if p.Metric != "mrr@10" || p.Key == "" {
			t.Errorf("optimized payload = %+v, want metric mrr@10 and a key", p)
		}
	}
	if len(compared) != 1 {
		t.Fatalf("received %d compared events, want 1", len(compared))
	}
	if got := compared[0].Best["mrr@10"]; got != "good" {
		t.Errorf("Best[mrr@10] = %s, want good", got)
	}
}

func TestService_Normalize(t *testing.T) {
	svc := newService(t, nil, nil)
	run := ranking.NewRun("r", map[string]map[string]float64{"q1": {"a": 30, "b": 20, "c": 10}})

	runs, err := svc.Normalize([]Input{
		{Run: run},
		{Run: run.WithName("ranked"), Mode: normalize.Rank},
	})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	// Default min-max.
	if got := runs[0].Scores["q1"]; got["a"] != 1 || got["b"] != 0.5 || got["c"] != 0 {
		t.Errorf("min-max scores = %v, want a=1 b=0.5 c=0", got)
	}
	if got := runs[1].Scores["q1"]["c"]; math.Abs(got-1.0/3) > 1e-12 {
		t.Errorf("rank score of c = %v, want 1/3", got)
	}
	if run.Scores["q1"]["a"] != 30 {
		t.Error("Normalize() mutated its input")
	}
}

func TestService_NormalizeLogsRun(t *testing.T) {
	var buf bytes.Buffer
	svc, err := NewService(testConfig(), nil, nil, logger.NewWithWriter(&buf, "debug", "json"))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	run := ranking.NewRun("bm25", map[string]map[string]float64{"q1": {"a": 3, "b": 1}})

	if _, err := svc.Normalize([]Input{{Run: run}}); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"msg":"Normalized run"`) || !strings.Contains(out, `"run":"bm25"`) {
		t.Errorf("Normalize() log = %q, want a Normalized run entry tagged run=bm25", out)
	}

	buf.Reset()
	bad := ranking.NewRun("dense", map[string]map[string]float64{"q1": {"a": 1}})
	if _, err := svc.Normalize([]Input{{Run: bad, Mode: normalize.Mode("bogus")}}); err == nil {
		t.Fatal("Normalize() with unknown mode: want error")
	}
	if out := buf.String(); !strings.Contains(out, `"run":"dense"`) || !strings.Contains(out, `"error"`) {
		t.Errorf("Normalize() failure log = %q, want an entry tagged run=dense with the error", out)
	}
}

func TestService_RunErrors(t *testing.T) {
	qrels, inputs := corpus(3)
	svc := newService(t, nil, nil)

	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"empty qrels", Request{Inputs: inputs}, apperrors.CodeEmptyJudgmentSet},
		{"no inputs", Request{Qrels: qrels}, apperrors.CodeInvalidRanking},
		{"nil input", Request{Qrels: qrels, Inputs: []Input{{}}}, apperrors.CodeInvalidRanking},
		{
			name: "duplicate names",
			req:  Request{Qrels: qrels, Inputs: []Input{inputs[0], inputs[0]}, Methods: []fusion.Method{fusion.RRF}},
			code: apperrors.CodeInvalidRanking,
		},
		{
			name: "no overlap with judgments",
			req:  Request{Qrels: ranking.Qrels{"other": {"d": 1}}, Inputs: inputs, Methods: []fusion.Method{fusion.RRF}},
			code: apperrors.CodeMisalignedQuerySet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(context.Background(), tt.req)
			if got := apperrors.Code(err); got != tt.code {
				t.Errorf("Run() error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestService_RunCancelled(t *testing.T) {
	qrels, inputs := corpus(3)
	svc := newService(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Run(ctx, Request{Qrels: qrels, Inputs: inputs})
	if !apperrors.Is(err, apperrors.CodeTimeout) {
		t.Errorf("Run() error = %v, want %s", err, apperrors.CodeTimeout)
	}
}

func TestNewService_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"unknown method", func(c *config.Config) { c.Fusion.Methods = []string{"zipf"} }},
		{"unknown metric", func(c *config.Config) { c.Eval.Metrics = []string{"bleu"} }},
		{"unknown target", func(c *config.Config) { c.Optimize.Metric = "bleu" }},
		{"unknown normalization", func(c *config.Config) { c.Fusion.Normalization = "softmax" }},
		{"unknown test", func(c *config.Config) { c.Eval.StatTest = "wilcoxon" }},
		{"bad weight step", func(c *config.Config) { c.Optimize.WeightStep = 2 }},
		{"bad alpha", func(c *config.Config) { c.Eval.Alpha = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(cfg)
			if _, err := NewService(cfg, nil, nil, nil); err == nil {
				t.Error("NewService() error = nil, want error")
			}
		})
	}
}

func TestBest(t *testing.T) {
	rep := &compare.Report{
		Runs:    []string{"a", "b", "c"},
		Metrics: []string{"mrr@10", "map@10"},
		Scores: map[string]map[string]float64{
			"a": {"mrr@10": 0.5, "map@10": 0.7},
			"b": {"mrr@10": 0.9, "map@10": 0.7},
			"c": {"mrr@10": 0.1, "map@10": 0.2},
		},
	}

	want := map[string]string{"mrr@10": "b", "map@10": "a"}
	if got := Best(rep); !reflect.DeepEqual(got, want) {
		t.Errorf("Best() = %v, want %v", got, want)
	}
}
