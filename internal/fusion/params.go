package fusion

import (
	"math"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
)

// Default parameter values.
const (
	DefaultK         = 60
	DefaultGamma     = 1.0
	DefaultPhi       = 0.8
	DefaultSigma     = 0.01
	DefaultSegments  = 10
	DefaultWindow    = 1
	DefaultBuckets   = 10
	DefaultPrior     = 1.0
	DefaultPositions = 0
)

// Params carries the tunable parameters of every method. Each method reads
// only the fields it documents.
type Params struct {
	// K is the RRF smoothing constant.
	K float64 `json:"k,omitempty"`

	// Weights has one entry per input run (WSUM, WMNZ, WBorda, WCondorcet)
	// or one per component (Mixed).
	Weights []float64 `json:"weights,omitempty"`

	// Gamma is the GMNZ hit-count exponent.
	Gamma float64 `json:"gamma,omitempty"`

	// Phi is the RBC persistence, in (0,1): rank r weighs (1-Phi)*Phi^(r-1).
	// A stopping probability p, as in p*(1-p)^(r-1), is Phi = 1-p.
	Phi float64 `json:"phi,omitempty"`

	// Sigma is added to the hit count inside LogISR's logarithm.
	Sigma float64 `json:"sigma,omitempty"`

	// Segments is the segment count for ProbFuse and SegFuse.
	Segments int `json:"segments,omitempty"`

	// Window is the SlideFuse half-width.
	Window int `json:"window,omitempty"`

	// Positions caps the PosFuse depth; 0 learns every observed position.
	Positions int `json:"positions,omitempty"`

	// Buckets is the MAPFuse score bucket count.
	Buckets int `json:"buckets,omitempty"`

	// Alpha and Beta are the BayesFuse Beta prior.
	Alpha float64 `json:"alpha,omitempty"`
	Beta  float64 `json:"beta,omitempty"`

	// Components are the Mixed sub-strategies.
	Components []Component `json:"components,omitempty"`

	// Model holds probabilities learned by Train.
	Model *Model `json:"model,omitempty"`
}

// Component is one Mixed sub-strategy.
type Component struct {
	Method Method `json:"method"`
	Params Params `json:"params"`
}

// Model is a learned probability table per input run, indexed by the
// method's bucket (position, segment or score bucket).
type Model struct {
	Probs [][]float64 `json:"probs"`
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	c := p
	if p.Weights != nil {
		c.Weights = append([]float64(nil), p.Weights...)
	}
	if p.Components != nil {
		c.Components = make([]Component, len(p.Components))
		for i, comp := range p.Components {
			c.Components[i] = Component{Method: comp.Method, Params: comp.Params.Clone()}
		}
	}
	if p.Model != nil {
		probs := make([][]float64, len(p.Model.Probs))
		for i, row := range p.Model.Probs {
			probs[i] = append([]float64(nil), row...)
		}
		c.Model = &Model{Probs: probs}
	}
	return c
}

// DefaultParams returns the baseline parameters of a method for nRuns inputs.
func DefaultParams(m Method, nRuns int) Params {
	if m.Weighted() {
		return Params{Weights: equalWeights(nRuns)}
	}

	switch m {
	case RRF:
		return Params{K: DefaultK}
	case GMNZ:
		return Params{Gamma: DefaultGamma}
	case RBC:
		return Params{Phi: DefaultPhi}
	case LogISR:
		return Params{Sigma: DefaultSigma}
	case ProbFuse, SegFuse:
		return Params{Segments: DefaultSegments}
	case SlideFuse:
		return Params{Window: DefaultWindow}
	case BayesFuse:
		return Params{Alpha: DefaultPrior, Beta: DefaultPrior}
	case PosFuse:
		return Params{Positions: DefaultPositions}
	case MAPFuse:
		return Params{Buckets: DefaultBuckets}
	case Mixed:
		return Params{
			Components: []Component{
				{Method: RRF, Params: DefaultParams(RRF, nRuns)},
				{Method: WSUM, Params: DefaultParams(WSUM, nRuns)},
			},
			Weights: []float64{0.5, 0.5},
		}
	default:
		return Params{}
	}
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// Validate checks that p lies in the method's domain for nRuns inputs.
func (p Params) Validate(m Method, nRuns int) error {
	if m.Weighted() {
		return validateWeights(m, p.Weights, nRuns)
	}

	switch m {
	case RRF:
		if p.K < 0 || math.IsNaN(p.K) {
			return apperrors.InvalidParameter("rrf: k must be non-negative, got %g", p.K)
		}
	case GMNZ:
		if p.Gamma < 0 || math.IsNaN(p.Gamma) {
			return apperrors.InvalidParameter("gmnz: gamma must be non-negative, got %g", p.Gamma)
		}
	case RBC:
		if !(p.Phi > 0 && p.Phi < 1) {
			return apperrors.InvalidParameter("rbc: phi must be in (0,1), got %g", p.Phi)
		}
	case LogISR:
		if p.Sigma < 0 || math.IsNaN(p.Sigma) {
			return apperrors.InvalidParameter("log_isr: sigma must be non-negative, got %g", p.Sigma)
		}
	case ProbFuse, SegFuse:
		if p.Segments < 1 {
			return apperrors.InvalidParameter("%s: segments must be positive, got %d", m, p.Segments)
		}
	case SlideFuse:
		if p.Window < 0 {
			return apperrors.InvalidParameter("slidefuse: window must be non-negative, got %d", p.Window)
		}
	case BayesFuse:
		if !(p.Alpha > 0) || !(p.Beta > 0) {
			return apperrors.InvalidParameter("bayesfuse: prior must be positive, got alpha=%g beta=%g", p.Alpha, p.Beta)
		}
	case PosFuse:
		if p.Positions < 0 {
			return apperrors.InvalidParameter("posfuse: positions must be non-negative, got %d", p.Positions)
		}
	case MAPFuse:
		if p.Buckets < 1 {
			return apperrors.InvalidParameter("mapfuse: buckets must be positive, got %d", p.Buckets)
		}
	case Mixed:
		if len(p.Components) < 2 {
			return apperrors.InvalidParameter("mixed: need at least two components, got %d", len(p.Components))
		}
		if err := validateWeights(m, p.Weights, len(p.Components)); err != nil {
			return err
		}
		for _, c := range p.Components {
			if c.Method == Mixed {
				return apperrors.InvalidParameter("mixed: components cannot be mixed")
			}
			if err := c.Params.Validate(c.Method, nRuns); err != nil {
				return err
			}
		}
	}

	if m.Learned() && p.Model != nil && len(p.Model.Probs) != nRuns {
		return apperrors.InvalidParameter("%s: model trained for %d runs, got %d", m, len(p.Model.Probs), nRuns)
	}
	return nil
}

func validateWeights(m Method, w []float64, n int) error {
	if len(w) != n {
		return apperrors.InvalidParameter("%s: need %d weights, got %d", m, n, len(w))
	}
	total := 0.0
	for _, x := range w {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return apperrors.InvalidParameter("%s: weights must be finite and non-negative, got %v", m, w)
		}
		total += x
	}
	if total == 0 {
		return apperrors.InvalidParameter("%s: weights are all zero", m)
	}
	return nil
}
