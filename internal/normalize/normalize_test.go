package normalize

import (
	"math"
	"testing"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

const eps = 1e-9

func sampleRun() *ranking.Run {
	return ranking.NewRun("bm25", map[string]map[string]float64{
		"q1": {"d1": 12.0, "d2": 7.0, "d3": 2.0},
		"q2": {"d4": 3.0, "d5": 3.0},
		"q3": {"d6": -1.5},
	})
}

func TestNormalize_MinMax(t *testing.T) {
	got, err := Normalize(sampleRun(), MinMax)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	want := map[string]map[string]float64{
		"q1": {"d1": 1.0, "d2": 0.5, "d3": 0.0},
		"q2": {"d4": DegenerateScore, "d5": DegenerateScore},
		"q3": {"d6": DegenerateScore},
	}
	for qid, docs := range want {
		for did, w := range docs {
			if g := got.Scores[qid][did]; math.Abs(g-w) > eps {
				t.Errorf("%s/%s = %f, want %f", qid, did, g, w)
			}
		}
	}
	if got.Name != "bm25" {
		t.Errorf("Name = %s, want bm25", got.Name)
	}
}

func TestNormalize_MinMaxRange(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
	}{
		{"mixed magnitudes", map[string]float64{"a": -40, "b": 1e6, "c": 3.3, "d": 0}},
		{"span overflows", map[string]float64{"a": 1e308, "b": 0, "c": -1e308}},
		{"largest finite", map[string]float64{"a": math.MaxFloat64, "b": -math.MaxFloat64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := ranking.NewRun("r", map[string]map[string]float64{"q1": tt.scores})
			for _, mode := range []Mode{MinMax, MinMaxInverted} {
				got, err := Normalize(run, mode)
				if err != nil {
					t.Fatal(err)
				}
				for did, s := range got.Scores["q1"] {
					if math.IsNaN(s) || s < 0 || s > 1 {
						t.Errorf("%s: %s = %f outside [0,1]", mode, did, s)
					}
				}
			}
		})
	}
}

func TestNormalize_ExtremeScores(t *testing.T) {
	run := ranking.NewRun("r", map[string]map[string]float64{
		"q1": {"a": 1e308, "b": 0, "c": -1e308},
	})

	tests := []struct {
		mode Mode
		want map[string]float64
	}{
		{MinMax, map[string]float64{"a": 1, "b": 0.5, "c": 0}},
		{MinMaxInverted, map[string]float64{"a": 0, "b": 0.5, "c": 1}},
		{ZMUV, map[string]float64{"a": math.Sqrt(1.5), "b": 0, "c": -math.Sqrt(1.5)}},
		{Max, map[string]float64{"a": 1, "b": 0, "c": -1}},
		{Sum, map[string]float64{"a": 0.5, "b": 0, "c": -0.5}},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got, err := Normalize(run, tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			for did, w := range tt.want {
				if g := got.Scores["q1"][did]; math.IsNaN(g) || math.Abs(g-w) > eps {
					t.Errorf("%s = %v, want %v", did, g, w)
				}
			}
		})
	}
}

func TestNormalize_NegativeScoresKeepOrder(t *testing.T) {
	// Log-probability style scores: all negative, sum negative.
	run := ranking.NewRun("lm", map[string]map[string]float64{
		"q1": {"best": -1, "mid": -2, "worst": -5},
	})

	for _, mode := range []Mode{Max, Sum, ZMUV, MinMax} {
		t.Run(string(mode), func(t *testing.T) {
			got, err := Normalize(run, mode)
			if err != nil {
				t.Fatal(err)
			}
			ranked := got.Ranked("q1")
			order := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
			if order[0] != "best" || order[1] != "mid" || order[2] != "worst" {
				t.Errorf("order = %v, want [best mid worst]", order)
			}
		})
	}

	got, err := Normalize(run, Sum)
	if err != nil {
		t.Fatal(err)
	}
	if g := got.Scores["q1"]["best"]; math.Abs(g-(-0.125)) > eps {
		t.Errorf("sum best = %v, want -0.125", g)
	}
}

func TestNormalize_MinMaxInverted(t *testing.T) {
	distances := ranking.NewRun("vector", map[string]map[string]float64{
		"q1": {"near": 0.1, "mid": 0.3, "far": 0.5},
	})

	inv, err := Normalize(distances, MinMaxInverted)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := Normalize(distances, MinMax)
	if err != nil {
		t.Fatal(err)
	}

	if inv.Scores["q1"]["near"] != 1 || inv.Scores["q1"]["far"] != 0 {
		t.Errorf("inverted = %v, want near=1 far=0", inv.Scores["q1"])
	}
	for did, s := range inv.Scores["q1"] {
		// Inverting twice returns the plain min-max value.
		if back := 1 - s; math.Abs(back-plain.Scores["q1"][did]) > eps {
			t.Errorf("%s: 1-inverted = %f, want %f", did, back, plain.Scores["q1"][did])
		}
	}

	ranked := inv.Ranked("q1")
	if ranked[0].ID != "near" {
		t.Errorf("top document = %s, want near", ranked[0].ID)
	}
}

func TestNormalize_MinMaxInvertedDegenerate(t *testing.T) {
	run := ranking.NewRun("v", map[string]map[string]float64{"q1": {"a": 0.4, "b": 0.4}})
	got, err := Normalize(run, MinMaxInverted)
	if err != nil {
		t.Fatal(err)
	}
	for did, s := range got.Scores["q1"] {
		if s != DegenerateScore {
			t.Errorf("%s = %f, want %f", did, s, DegenerateScore)
		}
	}
}

func TestNormalize_Rank(t *testing.T) {
	got, err := Normalize(sampleRun(), Rank)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"d1": 1, "d2": 0.5, "d3": 1.0 / 3}
	for did, w := range want {
		if g := got.Scores["q1"][did]; math.Abs(g-w) > eps {
			t.Errorf("%s = %f, want %f", did, g, w)
		}
	}
	// Equal raw scores still get distinct ranks via the doc id tie-break.
	if got.Scores["q2"]["d4"] != 1 || got.Scores["q2"]["d5"] != 0.5 {
		t.Errorf("q2 = %v, want d4=1 d5=0.5", got.Scores["q2"])
	}
}

func TestNormalize_Supplementary(t *testing.T) {
	run := ranking.NewRun("r", map[string]map[string]float64{
		"q1": {"a": 4, "b": 2, "c": 2},
	})

	tests := []struct {
		mode Mode
		doc  string
		want float64
	}{
		{Max, "a", 1},
		{Max, "b", 0.5},
		{Sum, "a", 0.5},
		{Sum, "c", 0.25},
		{Borda, "a", 1},
		{Borda, "c", 1.0 / 3},
		{None, "b", 2},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.doc, func(t *testing.T) {
			got, err := Normalize(run, tt.mode)
			if err != nil {
				t.Fatal(err)
			}
			if g := got.Scores["q1"][tt.doc]; math.Abs(g-tt.want) > eps {
				t.Errorf("score = %f, want %f", g, tt.want)
			}
		})
	}

	z, err := Normalize(run, ZMUV)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, s := range z.Scores["q1"] {
		sum += s
	}
	if math.Abs(sum) > eps {
		t.Errorf("zmuv mean = %f, want 0", sum/3)
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	run := sampleRun()
	if _, err := Normalize(run, MinMax); err != nil {
		t.Fatal(err)
	}
	if run.Scores["q1"]["d1"] != 12.0 {
		t.Error("Normalize() mutated its input")
	}
}

func TestNormalize_Errors(t *testing.T) {
	empty := ranking.NewRun("e", map[string]map[string]float64{"q1": {}})
	if _, err := Normalize(empty, MinMax); !apperrors.IsInvalidRanking(err) {
		t.Errorf("empty query error = %v, want INVALID_RANKING", err)
	}

	noQueries := ranking.NewRun("n", nil)
	if _, err := Normalize(noQueries, Rank); !apperrors.IsInvalidRanking(err) {
		t.Errorf("no queries error = %v, want INVALID_RANKING", err)
	}

	if _, err := Normalize(sampleRun(), Mode("cubic")); !apperrors.IsValidation(err) {
		t.Errorf("unknown mode error = %v, want VALIDATION_ERROR", err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"min-max", MinMax, false},
		{"MIN_MAX", MinMax, false},
		{"min-max-inverted", MinMaxInverted, false},
		{"rank", Rank, false},
		{"", None, false},
		{"softmax", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
