package fusion

import (
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// fuseMixed runs every component, min-max normalizes each component's
// scores per query and blends them with the component weights. Absence
// follows each component's own convention.
func fuseMixed(runs []*ranking.Run, p Params) (*ranking.Run, error) {
	parts := make([]*ranking.Run, len(p.Components))
	for i, c := range p.Components {
		fused, err := Fuse(runs, c.Method, c.Params)
		if err != nil {
			return nil, err
		}
		parts[i] = fused
	}

	qids := unionQueries(runs)
	scores := make(map[string]map[string]float64, len(qids))
	for _, qid := range qids {
		blended := make(map[string]float64)
		for i, part := range parts {
			for d, s := range unitScale(part.Scores[qid]) {
				blended[d] += p.Weights[i] * s
			}
		}
		scores[qid] = blended
	}
	return ranking.NewRun(Mixed.DisplayName(), scores), nil
}

// unitScale maps scores to [0,1]; a constant query maps to 1.
func unitScale(docs map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(docs))
	if len(docs) == 0 {
		return out
	}
	first := true
	var lo, hi float64
	for _, s := range docs {
		if first {
			lo, hi, first = s, s, false
			continue
		}
		lo, hi = min(lo, s), max(hi, s)
	}
	for d, s := range docs {
		if hi == lo {
			out[d] = 1
			continue
		}
		out[d] = (s - lo) / (hi - lo)
	}
	return out
}
