package fusion

import (
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// query is the per-query view of the inputs handed to a combiner.
type query struct {
	id string

	// lists[i] is run i's ranked list, nil when run i lacks the query.
	lists [][]ranking.ScoredDoc

	// ranks[i] maps doc -> 1-based rank in lists[i].
	ranks []map[string]int

	// scores[i] is run i's doc -> score map for the query (read only).
	scores []map[string]float64

	// candidates is the union of retrieved docs in lexical order.
	candidates []string
}

func newQuery(id string, runs []*ranking.Run) *query {
	q := &query{
		id:    id,
		lists: make([][]ranking.ScoredDoc, len(runs)),
		ranks:  make([]map[string]int, len(runs)),
		scores: make([]map[string]float64, len(runs)),
	}
	seen := make(map[string]struct{})
	for i, run := range runs {
		if !run.Has(id) {
			continue
		}
		q.lists[i] = run.Ranked(id)
		q.scores[i] = run.Scores[id]
		q.ranks[i] = make(map[string]int, len(q.lists[i]))
		for r, d := range q.lists[i] {
			q.ranks[i][d.ID] = r + 1
			seen[d.ID] = struct{}{}
		}
	}
	q.candidates = make([]string, 0, len(seen))
	for id := range seen {
		q.candidates = append(q.candidates, id)
	}
	sort.Strings(q.candidates)
	return q
}

// hits counts how many runs retrieved each candidate.
func (q *query) hits() map[string]int {
	h := make(map[string]int, len(q.candidates))
	for _, list := range q.lists {
		for _, d := range list {
			h[d.ID]++
		}
	}
	return h
}

// combiner scores the candidates of one query.
type combiner func(q *query, p Params) map[string]float64

// Fuse combines runs with the given method and parameters. The fused run
// covers the union of the input query sets and is named after the method.
func Fuse(runs []*ranking.Run, method Method, params Params) (*ranking.Run, error) {
	if err := checkInputs(runs); err != nil {
		return nil, err
	}
	if err := params.Validate(method, len(runs)); err != nil {
		return nil, err
	}

	if method == Mixed {
		return fuseMixed(runs, params)
	}

	combine, err := combinerFor(method, params)
	if err != nil {
		return nil, err
	}

	qids := unionQueries(runs)
	out := make([]map[string]float64, len(qids))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, qid := range qids {
		g.Go(func() error {
			out[i] = combine(newQuery(qid, runs), params)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make(map[string]map[string]float64, len(qids))
	for i, qid := range qids {
		scores[qid] = out[i]
	}
	return ranking.NewRun(method.DisplayName(), scores), nil
}

func combinerFor(m Method, p Params) (combiner, error) {
	if m.Learned() && p.Model == nil {
		return nil, apperrors.InvalidParameter("%s: no trained model, call Train first", m)
	}

	switch m {
	case RRF:
		return combineRRF, nil
	case CombSUM:
		return combineSum, nil
	case CombMNZ:
		return combineMNZ, nil
	case GMNZ:
		return combineGMNZ, nil
	case CombMAX:
		return combineMax, nil
	case CombMIN:
		return combineMin, nil
	case CombMED:
		return combineMed, nil
	case CombANZ:
		return combineANZ, nil
	case WSUM:
		return combineWSum, nil
	case WMNZ:
		return combineWMNZ, nil
	case RBC:
		return combineRBC, nil
	case ISR:
		return combineISR, nil
	case LogISR:
		return combineLogISR, nil
	case WBorda:
		return combineBorda, nil
	case WCondorcet:
		return combineCondorcet, nil
	case ProbFuse:
		return combineProbFuse, nil
	case SlideFuse, PosFuse:
		return combinePositional, nil
	case BayesFuse:
		return combineBayes, nil
	case SegFuse:
		return combineSegFuse, nil
	case MAPFuse:
		return combineMAPFuse, nil
	default:
		return nil, apperrors.ValidationError("unknown fusion method " + string(m))
	}
}

// checkInputs rejects an empty input list and runs that share no query with
// any other run.
func checkInputs(runs []*ranking.Run) error {
	if len(runs) == 0 {
		return apperrors.InvalidRanking("fusion needs at least one run")
	}
	for i, r := range runs {
		if r == nil {
			return apperrors.InvalidRanking("run %d is nil", i)
		}
		if len(r.Scores) == 0 {
			return apperrors.InvalidRanking("run %s has no queries", r.Name)
		}
	}
	if len(runs) == 1 {
		return nil
	}

	for i, r := range runs {
		overlaps := false
		for qid := range r.Scores {
			for j, other := range runs {
				if j != i && other.Has(qid) {
					overlaps = true
					break
				}
			}
			if overlaps {
				break
			}
		}
		if !overlaps {
			return apperrors.MisalignedQuerySet("run %s shares no query with the other runs", r.Name)
		}
	}
	return nil
}

func unionQueries(runs []*ranking.Run) []string {
	seen := make(map[string]struct{})
	for _, r := range runs {
		for qid := range r.Scores {
			seen[qid] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
