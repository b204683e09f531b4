// Package ranking holds the judgment and run data model shared by every
// stage of the benchmark.
package ranking

import (
	"math"
	"sort"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/hash"
)

// Qrels maps query id -> doc id -> relevance grade.
// Grade 0 means not relevant (or unjudged).
type Qrels map[string]map[string]int

// QueryIDs returns the query ids in lexical order.
func (q Qrels) QueryIDs() []string {
	ids := make([]string, 0, len(q))
	for id := range q {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NumRelevant counts documents with a positive grade for a query.
func (q Qrels) NumRelevant(queryID string) int {
	n := 0
	for _, g := range q[queryID] {
		if g > 0 {
			n++
		}
	}
	return n
}

// Grades returns the positive grades of a query, highest first.
func (q Qrels) Grades(queryID string) []int {
	grades := make([]int, 0, len(q[queryID]))
	for _, g := range q[queryID] {
		if g > 0 {
			grades = append(grades, g)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(grades)))
	return grades
}

// Validate rejects negative grades.
func (q Qrels) Validate() error {
	for qid, docs := range q {
		for did, g := range docs {
			if g < 0 {
				return apperrors.InvalidRanking("qrels: negative grade %d for %s/%s", g, qid, did)
			}
		}
	}
	return nil
}

// Split partitions the judgment set into a training and a held-out part.
// A query lands in the held-out part when its seeded hash falls below
// fraction, so the split is stable across runs and machines.
func (q Qrels) Split(fraction float64, seed int64) (train, heldOut Qrels, err error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, nil, apperrors.InvalidParameter("holdout fraction must be in (0,1), got %g", fraction)
	}
	train, heldOut = Qrels{}, Qrels{}
	for _, id := range q.QueryIDs() {
		if hash.Unit(seed, id) < fraction {
			heldOut[id] = q[id]
		} else {
			train[id] = q[id]
		}
	}
	if len(train) == 0 || len(heldOut) == 0 {
		return nil, nil, apperrors.InvalidParameter(
			"holdout fraction %g leaves an empty side for %d queries", fraction, len(q))
	}
	return train, heldOut, nil
}

// ScoredDoc is one entry of a ranked list.
type ScoredDoc struct {
	ID    string
	Score float64
}

// Run is a named ranking: query id -> doc id -> score.
// A Run is treated as immutable once built; transforms return new Runs.
type Run struct {
	Name   string
	Scores map[string]map[string]float64
}

// NewRun creates a run. The scores map is owned by the run afterwards.
func NewRun(name string, scores map[string]map[string]float64) *Run {
	if scores == nil {
		scores = make(map[string]map[string]float64)
	}
	return &Run{Name: name, Scores: scores}
}

// QueryIDs returns the query ids in lexical order.
func (r *Run) QueryIDs() []string {
	ids := make([]string, 0, len(r.Scores))
	for id := range r.Scores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the run contains the query.
func (r *Run) Has(queryID string) bool {
	_, ok := r.Scores[queryID]
	return ok
}

// Ranked returns the documents of a query sorted by score descending,
// ties broken by doc id ascending.
func (r *Run) Ranked(queryID string) []ScoredDoc {
	return SortDocs(r.Scores[queryID])
}

// SortDocs orders a doc -> score map the same way Ranked does.
func SortDocs(docs map[string]float64) []ScoredDoc {
	out := make([]ScoredDoc, 0, len(docs))
	for id, s := range docs {
		out = append(out, ScoredDoc{ID: id, Score: s})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Ranks returns doc id -> 1-based rank for a query.
func (r *Run) Ranks(queryID string) map[string]int {
	ranked := r.Ranked(queryID)
	ranks := make(map[string]int, len(ranked))
	for i, d := range ranked {
		ranks[d.ID] = i + 1
	}
	return ranks
}

// Clone returns a deep copy with the same name.
func (r *Run) Clone() *Run {
	scores := make(map[string]map[string]float64, len(r.Scores))
	for q, docs := range r.Scores {
		cp := make(map[string]float64, len(docs))
		for d, s := range docs {
			cp[d] = s
		}
		scores[q] = cp
	}
	return &Run{Name: r.Name, Scores: scores}
}

// WithName returns a copy of the run under another name.
func (r *Run) WithName(name string) *Run {
	c := r.Clone()
	c.Name = name
	return c
}

// Validate rejects NaN and infinite scores.
func (r *Run) Validate() error {
	for qid, docs := range r.Scores {
		for did, s := range docs {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				return apperrors.InvalidRanking("run %s: non-finite score for %s/%s", r.Name, qid, did)
			}
		}
	}
	return nil
}
