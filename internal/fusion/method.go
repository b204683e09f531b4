// Package fusion combines several runs over the same queries into a single
// fused run.
//
// Every strategy is a variant of Method and is reached through Fuse; adding a
// strategy means adding a constant, its default parameters and a case in the
// dispatch.
package fusion

import (
	"fmt"
	"strings"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
)

// Method identifies a fusion strategy.
type Method string

const (
	// RRF is reciprocal rank fusion: Σ 1/(k+rank).
	RRF Method = "rrf"

	// CombSUM sums scores.
	CombSUM Method = "combsum"
	// CombMNZ sums scores and multiplies by the number of runs retrieving the doc.
	CombMNZ Method = "combmnz"
	// GMNZ generalizes CombMNZ with an exponent on the hit count.
	GMNZ Method = "gmnz"
	// CombMAX takes the largest score.
	CombMAX Method = "combmax"
	// CombMIN takes the smallest score.
	CombMIN Method = "combmin"
	// CombMED takes the median score.
	CombMED Method = "combmed"
	// CombANZ averages the non-missing scores.
	CombANZ Method = "combanz"

	// WSUM is a weighted linear combination of scores.
	WSUM Method = "wsum"
	// WMNZ is WSUM multiplied by the hit count.
	WMNZ Method = "wmnz"

	// ProbFuse learns a relevance probability per equal-size segment.
	ProbFuse Method = "probfuse"
	// SlideFuse smooths per-position relevance probabilities over a window.
	SlideFuse Method = "slidefuse"
	// BayesFuse sums per-position log-odds of relevance under a Beta prior.
	BayesFuse Method = "bayesfuse"
	// PosFuse learns a relevance probability per position.
	PosFuse Method = "posfuse"
	// SegFuse learns a relevance probability per exponentially growing segment.
	SegFuse Method = "segfuse"
	// MAPFuse learns a relevance probability per score bucket.
	MAPFuse Method = "mapfuse"

	// RBC is rank-biased centroids: Σ (1-φ)φ^(rank-1).
	RBC Method = "rbc"
	// ISR is inverse square rank: Σ 1/rank² × hits.
	ISR Method = "isr"
	// LogISR is Σ 1/rank² × ln(hits+σ).
	LogISR Method = "log_isr"

	// WBorda is weighted Borda count.
	WBorda Method = "w_bordafuse"
	// WCondorcet is weighted Condorcet (Copeland) voting.
	WCondorcet Method = "w_condorcet"

	// Mixed blends the outputs of several sub-strategies.
	Mixed Method = "mixed"
)

// All lists every method in a stable order.
var All = []Method{
	RRF, CombSUM, CombMNZ, GMNZ, CombMAX, CombMIN, CombMED, CombANZ,
	WSUM, WMNZ, ProbFuse, SlideFuse, BayesFuse, PosFuse, SegFuse, MAPFuse,
	RBC, ISR, LogISR, WBorda, WCondorcet, Mixed,
}

var aliases = map[string]Method{
	"comb_sum":           CombSUM,
	"comb_mnz":           CombMNZ,
	"comb_gmnz":          GMNZ,
	"comb_max":           CombMAX,
	"comb_min":           CombMIN,
	"comb_med":           CombMED,
	"comb_anz":           CombANZ,
	"weighted_sum":       WSUM,
	"logn_isr":           LogISR,
	"weighted_bordafuse": WBorda,
	"weighted_condorcet": WCondorcet,
}

var displayNames = map[Method]string{
	CombSUM:    "comb_sum",
	CombMNZ:    "comb_mnz",
	GMNZ:       "comb_gmnz",
	CombMAX:    "comb_max",
	CombMIN:    "comb_min",
	CombMED:    "comb_med",
	CombANZ:    "comb_anz",
	WSUM:       "weighted_sum",
	WBorda:     "weighted_bordafuse",
	WCondorcet: "weighted_condorcet",
}

// ParseMethod resolves a method name or one of its common aliases.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range All {
		if string(m) == s {
			return m, nil
		}
	}
	if m, ok := aliases[s]; ok {
		return m, nil
	}
	return "", apperrors.ValidationError(fmt.Sprintf("unknown fusion method %q", s))
}

// ParseMethods parses a list of method names.
func ParseMethods(names []string) ([]Method, error) {
	out := make([]Method, 0, len(names))
	for _, n := range names {
		m, err := ParseMethod(n)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DisplayName is the name given to a fused run.
func (m Method) DisplayName() string {
	if n, ok := displayNames[m]; ok {
		return n
	}
	return string(m)
}

// Learned reports whether the method needs Train before Fuse.
func (m Method) Learned() bool {
	switch m {
	case ProbFuse, SlideFuse, BayesFuse, PosFuse, SegFuse, MAPFuse:
		return true
	}
	return false
}

// Weighted reports whether the method takes one weight per input run.
func (m Method) Weighted() bool {
	switch m {
	case WSUM, WMNZ, WBorda, WCondorcet:
		return true
	}
	return false
}
