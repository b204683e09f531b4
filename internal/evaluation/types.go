package evaluation

import (
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/MochiXu/hybrid-search-ranx/internal/pkg/errors"
)

// Metric names a ranking-quality measure.
type Metric string

const (
	MRR       Metric = "mrr"
	MAP       Metric = "map"
	NDCGM     Metric = "ndcg"
	Precision Metric = "precision"
	Recall    Metric = "recall"
	HitRate   Metric = "hit_rate"
)

// MetricSpec is a metric truncated to the top K documents.
// K <= 0 means the whole ranked list.
type MetricSpec struct {
	Name Metric `json:"name"`
	K    int    `json:"k"`
}

// String renders the metric the way it is parsed, e.g. "ndcg@10".
func (s MetricSpec) String() string {
	if s.K <= 0 {
		return string(s.Name)
	}
	return fmt.Sprintf("%s@%d", s.Name, s.K)
}

// Label is the upper-case column header used in reports, e.g. "NDCG@10".
func (s MetricSpec) Label() string {
	return strings.ToUpper(s.String())
}

var metricAliases = map[string]Metric{
	"mrr":       MRR,
	"rr":        MRR,
	"map":       MAP,
	"ap":        MAP,
	"ndcg":      NDCGM,
	"precision": Precision,
	"p":         Precision,
	"recall":    Recall,
	"r":         Recall,
	"hit_rate":  HitRate,
	"hits":      HitRate,
}

// ParseMetric parses "name@k" or "name".
func ParseMetric(s string) (MetricSpec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	name, cutoff, hasCutoff := strings.Cut(s, "@")

	m, ok := metricAliases[name]
	if !ok {
		return MetricSpec{}, apperrors.ValidationError(fmt.Sprintf("unknown metric %q", s))
	}
	spec := MetricSpec{Name: m}
	if hasCutoff {
		k, err := strconv.Atoi(cutoff)
		if err != nil || k <= 0 {
			return MetricSpec{}, apperrors.ValidationError(fmt.Sprintf("invalid cutoff in metric %q", s))
		}
		spec.K = k
	}
	return spec, nil
}

// ParseMetrics parses a list of metric specs.
func ParseMetrics(names []string) ([]MetricSpec, error) {
	specs := make([]MetricSpec, 0, len(names))
	for _, n := range names {
		spec, err := ParseMetric(n)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Result holds one run's scores for one metric.
type Result struct {
	Run  string     `json:"run"`
	Spec MetricSpec `json:"metric"`

	// QueryIDs are the judged queries in lexical order; Scores is aligned
	// with them so two results over the same qrels pair up index by index.
	QueryIDs []string  `json:"query_ids"`
	Scores   []float64 `json:"scores"`

	Mean float64 `json:"mean"`
}

// PerQuery returns the scores keyed by query id.
func (r *Result) PerQuery() map[string]float64 {
	out := make(map[string]float64, len(r.QueryIDs))
	for i, q := range r.QueryIDs {
		out[q] = r.Scores[i]
	}
	return out
}
