package optimize

import (
	"fmt"
	"math"

	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
)

// DefaultWeightStep is the weight grid resolution.
const DefaultWeightStep = 0.1

// Grids searched for the single-parameter methods.
var (
	rrfK        = []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 65, 70, 75, 80, 85, 90, 95, 100}
	rbcPhi      = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	logISRSigma = []float64{0.001, 0.01, 0.1, 0.5, 1}
	gmnzGamma   = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.5, 2}
	segments    = []int{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 25, 30, 40, 50}
	windows     = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	priors      = []float64{0.5, 1, 2, 5}
	positions   = []int{0, 10, 20, 50, 100}
	buckets     = []int{5, 10, 20, 50}
)

// SearchSpace enumerates the candidate parameters of method for nRuns
// inputs. The method's defaults always come first and duplicates are
// dropped, so index order is the canonical tie-break order.
func SearchSpace(method fusion.Method, nRuns int, weightStep float64) ([]fusion.Params, error) {
	if !(weightStep > 0 && weightStep <= 1) {
		return nil, apperrors.InvalidParameter("weight step must be in (0,1], got %g", weightStep)
	}
	if nRuns < 1 {
		return nil, apperrors.InvalidParameter("search space needs at least one run")
	}

	s := newSpace(fusion.DefaultParams(method, nRuns))
	if method.Weighted() {
		for _, w := range weightGrid(nRuns, weightStep) {
			s.add(fusion.Params{Weights: w})
		}
		return s.params, nil
	}

	switch method {
	case fusion.RRF:
		for _, k := range rrfK {
			s.add(fusion.Params{K: k})
		}
	case fusion.RBC:
		for _, phi := range rbcPhi {
			s.add(fusion.Params{Phi: phi})
		}
	case fusion.LogISR:
		for _, sigma := range logISRSigma {
			s.add(fusion.Params{Sigma: sigma})
		}
	case fusion.GMNZ:
		for _, g := range gmnzGamma {
			s.add(fusion.Params{Gamma: g})
		}
	case fusion.ProbFuse, fusion.SegFuse:
		for _, n := range segments {
			s.add(fusion.Params{Segments: n})
		}
	case fusion.SlideFuse:
		for _, w := range windows {
			s.add(fusion.Params{Window: w})
		}
	case fusion.BayesFuse:
		for _, a := range priors {
			s.add(fusion.Params{Alpha: a, Beta: a})
		}
	case fusion.PosFuse:
		for _, n := range positions {
			s.add(fusion.Params{Positions: n})
		}
	case fusion.MAPFuse:
		for _, n := range buckets {
			s.add(fusion.Params{Buckets: n})
		}
	case fusion.Mixed:
		base := fusion.DefaultParams(fusion.Mixed, nRuns)
		for _, beta := range gridValues(weightStep) {
			p := base.Clone()
			p.Weights = []float64{beta, round(1 - beta)}
			s.add(p)
		}
	}
	return s.params, nil
}

type space struct {
	params []fusion.Params
	seen   map[string]struct{}
}

func newSpace(def fusion.Params) *space {
	s := &space{seen: make(map[string]struct{})}
	s.add(def)
	return s
}

func (s *space) add(p fusion.Params) {
	key := fmt.Sprintf("%+v", p)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.params = append(s.params, p)
}

// gridValues returns 0, step, 2·step, ... up to 1.
func gridValues(step float64) []float64 {
	n := int(math.Floor(1/step + 1e-9))
	vals := make([]float64, 0, n+1)
	for i := 0; i <= n; i++ {
		vals = append(vals, round(float64(i)*step))
	}
	return vals
}

// weightGrid returns every n-vector over gridValues(step) except all zeros,
// in lexicographic order.
func weightGrid(n int, step float64) [][]float64 {
	vals := gridValues(step)
	var out [][]float64
	idx := make([]int, n)
	for {
		w := make([]float64, n)
		zero := true
		for i, j := range idx {
			w[i] = vals[j]
			if vals[j] != 0 {
				zero = false
			}
		}
		if !zero {
			out = append(out, w)
		}

		// Odometer increment, last position fastest.
		i := n - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(vals) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

func round(x float64) float64 {
	return math.Round(x*1e9) / 1e9
}
