package fusion

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

const eps = 1e-9

func lexical() *ranking.Run {
	return ranking.NewRun("bm25", map[string]map[string]float64{
		"q1": {"d1": 1.0, "d2": 0.6, "d3": 0.2},
		"q2": {"d4": 1.0, "d5": 0.0},
	})
}

func vector() *ranking.Run {
	return ranking.NewRun("vector", map[string]map[string]float64{
		"q1": {"d2": 1.0, "d1": 0.5, "d6": 0.1},
		"q3": {"d7": 0.9},
	})
}

func judgments() ranking.Qrels {
	return ranking.Qrels{
		"q1": {"d1": 1, "d2": 1, "d6": 0},
		"q2": {"d4": 1},
		"q3": {"d7": 2},
	}
}

// prepared returns params ready for Fuse, trained where the method needs it.
func prepared(t *testing.T, m Method, runs []*ranking.Run) Params {
	t.Helper()
	p := DefaultParams(m, len(runs))
	if m.Learned() || m == Mixed {
		var err error
		p, err = Train(judgments(), runs, m, p)
		if err != nil {
			t.Fatalf("Train(%s) error = %v", m, err)
		}
	}
	return p
}

func TestFuse_WeightedSumScenario(t *testing.T) {
	a := ranking.NewRun("A", map[string]map[string]float64{"q1": {"d1": 0.9, "d2": 0.1}})
	b := ranking.NewRun("B", map[string]map[string]float64{"q1": {"d1": 0.2, "d2": 0.8}})

	fused, err := Fuse([]*ranking.Run{a, b}, WSUM, Params{Weights: []float64{1, 1}})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if got := fused.Scores["q1"]["d1"]; math.Abs(got-1.1) > eps {
		t.Errorf("d1 = %f, want 1.1", got)
	}
	if got := fused.Scores["q1"]["d2"]; math.Abs(got-0.9) > eps {
		t.Errorf("d2 = %f, want 0.9", got)
	}
	if top := fused.Ranked("q1")[0].ID; top != "d1" {
		t.Errorf("top = %s, want d1", top)
	}
	if fused.Name != "weighted_sum" {
		t.Errorf("Name = %s, want weighted_sum", fused.Name)
	}
}

func TestFuse_QuerySetIsUnion(t *testing.T) {
	runs := []*ranking.Run{lexical(), vector()}
	want := []string{"q1", "q2", "q3"}

	for _, m := range All {
		t.Run(string(m), func(t *testing.T) {
			fused, err := Fuse(runs, m, prepared(t, m, runs))
			if err != nil {
				t.Fatalf("Fuse() error = %v", err)
			}
			if got := fused.QueryIDs(); !reflect.DeepEqual(got, want) {
				t.Errorf("QueryIDs() = %v, want %v", got, want)
			}
			// Documents from a single run are still scored.
			if _, ok := fused.Scores["q1"]["d6"]; !ok {
				t.Error("d6 (vector only) missing from fused q1")
			}
			if _, ok := fused.Scores["q1"]["d3"]; !ok {
				t.Error("d3 (bm25 only) missing from fused q1")
			}
			for qid, docs := range fused.Scores {
				for did, s := range docs {
					if math.IsNaN(s) || math.IsInf(s, 0) {
						t.Errorf("%s/%s = %v", qid, did, s)
					}
				}
			}
		})
	}
}

func TestFuse_Deterministic(t *testing.T) {
	runs := []*ranking.Run{lexical(), vector()}
	for _, m := range All {
		t.Run(string(m), func(t *testing.T) {
			p := prepared(t, m, runs)
			a, err := Fuse(runs, m, p)
			if err != nil {
				t.Fatal(err)
			}
			b, err := Fuse(runs, m, p)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(a.Scores, b.Scores) {
				t.Error("Fuse() differs between calls")
			}
		})
	}
}

func TestFuse_RRFCommutative(t *testing.T) {
	ab, err := Fuse([]*ranking.Run{lexical(), vector()}, RRF, Params{K: 60})
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Fuse([]*ranking.Run{vector(), lexical()}, RRF, Params{K: 60})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ab.Scores, ba.Scores) {
		t.Errorf("RRF not commutative:\n%v\n%v", ab.Scores, ba.Scores)
	}
}

func TestFuse_RRFValues(t *testing.T) {
	fused, err := Fuse([]*ranking.Run{lexical(), vector()}, RRF, Params{K: 60})
	if err != nil {
		t.Fatal(err)
	}
	// d1: rank 1 in bm25, rank 2 in vector.
	want := 1.0/61 + 1.0/62
	if got := fused.Scores["q1"]["d1"]; math.Abs(got-want) > eps {
		t.Errorf("d1 = %f, want %f", got, want)
	}
	// d3: bm25 only, rank 3.
	if got := fused.Scores["q1"]["d3"]; math.Abs(got-1.0/63) > eps {
		t.Errorf("d3 = %f, want %f", got, 1.0/63)
	}
}

func TestFuse_IdenticalRunsKeepOrder(t *testing.T) {
	a := ranking.NewRun("A", map[string]map[string]float64{
		"q1": {"d1": 0.9, "d2": 0.5, "d3": 0.1},
		"q2": {"d4": 0.7, "d5": 0.3},
	})
	b := a.WithName("B")
	runs := []*ranking.Run{a, b}

	// Learned methods rank by trained relevance, not input order; see
	// TestFuse_LearnedIdenticalRunsFollowTraining.
	orderPreserving := []Method{
		RRF, CombSUM, CombMNZ, GMNZ, CombMAX, CombMIN, CombMED, CombANZ,
		WSUM, WMNZ, RBC, ISR, LogISR, WBorda, WCondorcet, Mixed,
	}
	for _, m := range orderPreserving {
		t.Run(string(m), func(t *testing.T) {
			fused, err := Fuse(runs, m, DefaultParams(m, 2))
			if err != nil {
				t.Fatal(err)
			}
			for _, qid := range a.QueryIDs() {
				got := ids(fused.Ranked(qid))
				want := ids(a.Ranked(qid))
				if !reflect.DeepEqual(got, want) {
					t.Errorf("%s order = %v, want %v", qid, got, want)
				}
			}
		})
	}
}

func TestFuse_LearnedIdenticalRunsFollowTraining(t *testing.T) {
	// Every query ranks d1..d5 the same way and only d3 is relevant.
	scores := make(map[string]map[string]float64)
	qrels := make(ranking.Qrels)
	for i := 0; i < 30; i++ {
		qid := fmt.Sprintf("q%02d", i)
		scores[qid] = map[string]float64{"d1": 0.9, "d2": 0.7, "d3": 0.5, "d4": 0.3, "d5": 0.1}
		qrels[qid] = map[string]int{"d3": 1}
	}
	a := ranking.NewRun("A", scores)
	b := a.WithName("B")

	tests := []struct {
		method Method
		params Params
		want   []string
	}{
		{PosFuse, Params{}, []string{"d3", "d1", "d2", "d4", "d5"}},
		{ProbFuse, Params{Segments: 5}, []string{"d3", "d1", "d2", "d4", "d5"}},
		{BayesFuse, Params{Alpha: 1, Beta: 1}, []string{"d3", "d1", "d2", "d4", "d5"}},
		{MAPFuse, Params{Buckets: 10}, []string{"d3", "d1", "d2", "d4", "d5"}},
		// The window spreads position 3's evidence to its neighbours.
		{SlideFuse, Params{Window: 1}, []string{"d2", "d3", "d4", "d1", "d5"}},
		// Positions 1-5 share the first segment, so the score term decides.
		{SegFuse, Params{Segments: 10}, []string{"d1", "d2", "d3", "d4", "d5"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			pair := []*ranking.Run{a, b}
			trained, err := Train(qrels, pair, tt.method, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			fused, err := Fuse(pair, tt.method, trained)
			if err != nil {
				t.Fatal(err)
			}

			single := []*ranking.Run{a}
			trainedOne, err := Train(qrels, single, tt.method, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			alone, err := Fuse(single, tt.method, trainedOne)
			if err != nil {
				t.Fatal(err)
			}

			for _, qid := range []string{"q00", "q29"} {
				if got := ids(fused.Ranked(qid)); !reflect.DeepEqual(got, tt.want) {
					t.Errorf("%s order = %v, want %v", qid, got, tt.want)
				}
				// Duplicating a run adds no information.
				if got, want := ids(fused.Ranked(qid)), ids(alone.Ranked(qid)); !reflect.DeepEqual(got, want) {
					t.Errorf("%s order of two copies = %v, one copy = %v", qid, got, want)
				}
			}
		})
	}
}

func ids(docs []ranking.ScoredDoc) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestFuse_ScoreCombiners(t *testing.T) {
	runs := []*ranking.Run{lexical(), vector()}
	tests := []struct {
		method Method
		params Params
		doc    string
		want   float64
	}{
		{CombSUM, Params{}, "d1", 1.5},
		{CombMNZ, Params{}, "d1", 3.0},
		{CombMNZ, Params{}, "d3", 0.2},
		{GMNZ, Params{Gamma: 2}, "d2", 1.6 * 4},
		{CombMAX, Params{}, "d1", 1.0},
		{CombMIN, Params{}, "d1", 0.5},
		{CombMED, Params{}, "d2", 0.8},
		{CombANZ, Params{}, "d6", 0.1},
		{WSUM, Params{Weights: []float64{0.3, 0.7}}, "d1", 0.3 + 0.35},
		{WMNZ, Params{Weights: []float64{0.3, 0.7}}, "d6", 0.07},
		{ISR, Params{}, "d2", (1.0/4 + 1) * 2},
		{LogISR, Params{Sigma: 0}, "d3", 0},
		{RBC, Params{Phi: 0.5}, "d1", 0.5 + 0.25},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			fused, err := Fuse(runs, tt.method, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if got := fused.Scores["q1"][tt.doc]; math.Abs(got-tt.want) > eps {
				t.Errorf("%s = %f, want %f", tt.doc, got, tt.want)
			}
		})
	}
}

func TestFuse_Borda(t *testing.T) {
	fused, err := Fuse([]*ranking.Run{lexical(), vector()}, WBorda, Params{Weights: []float64{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	// Pool is {d1,d2,d3,d6}: N = 4.
	want := map[string]float64{
		"d1": 4.0/4 + 3.0/4,
		"d2": 3.0/4 + 4.0/4,
		"d3": 2.0 / 4,
		"d6": 2.0 / 4,
	}
	for d, w := range want {
		if got := fused.Scores["q1"][d]; math.Abs(got-w) > eps {
			t.Errorf("%s = %f, want %f", d, got, w)
		}
	}
}

func TestFuse_Condorcet(t *testing.T) {
	runs := []*ranking.Run{lexical(), vector()}

	// Lexical outweighs vector: d1 beats everyone.
	fused, err := Fuse(runs, WCondorcet, Params{Weights: []float64{0.7, 0.3}})
	if err != nil {
		t.Fatal(err)
	}
	if top := fused.Ranked("q1")[0].ID; top != "d1" {
		t.Errorf("top = %s, want d1", top)
	}
	if got := fused.Scores["q1"]["d1"]; got != 1 {
		t.Errorf("d1 = %f, want 1 (wins every pair)", got)
	}

	// Equal weights: d1 and d2 tie head to head.
	fused, err = Fuse(runs, WCondorcet, Params{Weights: []float64{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	if fused.Scores["q1"]["d1"] != fused.Scores["q1"]["d2"] {
		t.Errorf("d1 = %f, d2 = %f, want equal", fused.Scores["q1"]["d1"], fused.Scores["q1"]["d2"])
	}
	// Single-document query.
	if got := fused.Scores["q3"]["d7"]; got != 1 {
		t.Errorf("q3/d7 = %f, want 1", got)
	}
}

func TestFuse_Mixed(t *testing.T) {
	runs := []*ranking.Run{lexical(), vector()}
	p := Params{
		Components: []Component{
			{Method: CombSUM},
			{Method: RRF, Params: Params{K: 60}},
		},
		Weights: []float64{1, 0},
	}
	fused, err := Fuse(runs, Mixed, p)
	if err != nil {
		t.Fatal(err)
	}
	// Weight only on CombSUM: scores are CombSUM min-max scaled.
	// q1 CombSUM: d1=1.5 d2=1.6 d3=0.2 d6=0.1
	if got := fused.Scores["q1"]["d2"]; math.Abs(got-1) > eps {
		t.Errorf("d2 = %f, want 1", got)
	}
	if got := fused.Scores["q1"]["d6"]; math.Abs(got) > eps {
		t.Errorf("d6 = %f, want 0", got)
	}
}

func TestFuse_Errors(t *testing.T) {
	disjoint := ranking.NewRun("other", map[string]map[string]float64{"zz": {"d": 1}})

	tests := []struct {
		name   string
		runs   []*ranking.Run
		method Method
		params Params
		check  func(error) bool
	}{
		{"no runs", nil, RRF, Params{K: 60}, apperrors.IsInvalidRanking},
		{"empty run", []*ranking.Run{ranking.NewRun("e", nil)}, RRF, Params{K: 60}, apperrors.IsInvalidRanking},
		{"no overlap", []*ranking.Run{lexical(), disjoint}, RRF, Params{K: 60}, apperrors.IsMisaligned},
		{"negative k", []*ranking.Run{lexical(), vector()}, RRF, Params{K: -1}, apperrors.IsInvalidParameter},
		{"weight count", []*ranking.Run{lexical(), vector()}, WSUM, Params{Weights: []float64{1}}, apperrors.IsInvalidParameter},
		{"negative weight", []*ranking.Run{lexical(), vector()}, WSUM, Params{Weights: []float64{1, -1}}, apperrors.IsInvalidParameter},
		{"zero weights", []*ranking.Run{lexical(), vector()}, WMNZ, Params{Weights: []float64{0, 0}}, apperrors.IsInvalidParameter},
		{"phi out of range", []*ranking.Run{lexical(), vector()}, RBC, Params{Phi: 1}, apperrors.IsInvalidParameter},
		{"untrained", []*ranking.Run{lexical(), vector()}, ProbFuse, Params{Segments: 4}, apperrors.IsInvalidParameter},
		{"one component", []*ranking.Run{lexical(), vector()}, Mixed, Params{Components: []Component{{Method: CombSUM}}, Weights: []float64{1}}, apperrors.IsInvalidParameter},
		{"unknown method", []*ranking.Run{lexical(), vector()}, Method("zipf"), Params{}, apperrors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fuse(tt.runs, tt.method, tt.params)
			if !tt.check(err) {
				t.Errorf("Fuse() error = %v", err)
			}
		})
	}
}

func TestFuse_SingleRun(t *testing.T) {
	fused, err := Fuse([]*ranking.Run{lexical()}, RRF, Params{K: 60})
	if err != nil {
		t.Fatalf("Fuse(single) error = %v", err)
	}
	if got := ids(fused.Ranked("q1")); !reflect.DeepEqual(got, []string{"d1", "d2", "d3"}) {
		t.Errorf("order = %v", got)
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
	}{
		{"rrf", RRF},
		{"gmnz", GMNZ},
		{"comb_gmnz", GMNZ},
		{"wsum", WSUM},
		{"weighted_sum", WSUM},
		{"logn_isr", LogISR},
		{"w_bordafuse", WBorda},
		{"W_CONDORCET", WCondorcet},
		{"mixed", Mixed},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMethod(tt.in)
			if err != nil {
				t.Fatalf("ParseMethod(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMethod(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
	if _, err := ParseMethod("zipf"); !apperrors.IsValidation(err) {
		t.Errorf("ParseMethod(zipf) error = %v, want VALIDATION_ERROR", err)
	}
}

func TestParams_Clone(t *testing.T) {
	p := DefaultParams(Mixed, 2)
	p.Model = &Model{Probs: [][]float64{{0.5}}}
	c := p.Clone()
	c.Weights[0] = 9
	c.Components[0].Params.K = 1
	c.Model.Probs[0][0] = 0

	if p.Weights[0] != 0.5 || p.Components[0].Params.K != DefaultK || p.Model.Probs[0][0] != 0.5 {
		t.Error("Clone() shares state with the original")
	}
}

func TestMethod_WeightedDefaults(t *testing.T) {
	tests := []struct {
		method   Method
		weighted bool
	}{
		{WSUM, true},
		{WMNZ, true},
		{WBorda, true},
		{WCondorcet, true},
		{RRF, false},
		{Mixed, false},
		{ProbFuse, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			if got := tt.method.Weighted(); got != tt.weighted {
				t.Errorf("Weighted() = %v, want %v", got, tt.weighted)
			}
			p := DefaultParams(tt.method, 3)
			if tt.weighted && !reflect.DeepEqual(p.Weights, []float64{1, 1, 1}) {
				t.Errorf("DefaultParams().Weights = %v, want one per run", p.Weights)
			}
			if tt.weighted {
				short := Params{Weights: []float64{1, 1}}
				if err := short.Validate(tt.method, 3); !apperrors.IsInvalidParameter(err) {
					t.Errorf("Validate() with 2 weights for 3 runs error = %v, want INVALID_PARAMETER", err)
				}
			}
		})
	}
}
