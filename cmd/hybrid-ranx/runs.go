package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MochiXu/hybrid-search-ranx/internal/benchmark"
	"github.com/MochiXu/hybrid-search-ranx/internal/fusion"
	"github.com/MochiXu/hybrid-search-ranx/internal/normalize"
	"github.com/MochiXu/hybrid-search-ranx/internal/pkg/security"
	"github.com/MochiXu/hybrid-search-ranx/internal/ranking"
)

// runSpec is a parsed --run flag.
type runSpec struct {
	Name string
	Path string
	Mode normalize.Mode
}

// parseRunSpec parses name=path[:normalization]. The suffix after the last
// colon is taken as a normalization only when it names one, so paths that
// contain colons still work.
func parseRunSpec(s string) (runSpec, error) {
	name, rest, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" || rest == "" {
		return runSpec{}, fmt.Errorf("invalid --run %q: want name=path[:normalization]", s)
	}

	if err := security.ValidateRunName(name); err != nil {
		return runSpec{}, fmt.Errorf("invalid --run %q: %w", s, err)
	}

	spec := runSpec{Name: name, Path: rest}
	if i := strings.LastIndex(rest, ":"); i > 0 && i < len(rest)-1 {
		if mode, err := normalize.ParseMode(rest[i+1:]); err == nil {
			spec.Path, spec.Mode = rest[:i], mode
		}
	}
	return spec, nil
}

func loadInputs(flags []string) ([]benchmark.Input, error) {
	inputs := make([]benchmark.Input, 0, len(flags))
	for _, f := range flags {
		spec, err := parseRunSpec(f)
		if err != nil {
			return nil, err
		}
		run, err := ranking.LoadRunFile(spec.Path, spec.Name)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, benchmark.Input{Run: run, Mode: spec.Mode})
	}
	return inputs, nil
}

// parseParams starts from the method's defaults and applies key=value
// overrides.
func parseParams(method fusion.Method, nRuns int, kvs []string) (fusion.Params, error) {
	p := fusion.DefaultParams(method, nRuns)
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return p, fmt.Errorf("invalid --param %q: want key=value", kv)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "k":
			p.K, err = strconv.ParseFloat(value, 64)
		case "gamma":
			p.Gamma, err = strconv.ParseFloat(value, 64)
		case "phi":
			p.Phi, err = strconv.ParseFloat(value, 64)
		case "sigma":
			p.Sigma, err = strconv.ParseFloat(value, 64)
		case "alpha":
			p.Alpha, err = strconv.ParseFloat(value, 64)
		case "beta":
			p.Beta, err = strconv.ParseFloat(value, 64)
		case "segments":
			p.Segments, err = strconv.Atoi(value)
		case "window":
			p.Window, err = strconv.Atoi(value)
		case "positions":
			p.Positions, err = strconv.Atoi(value)
		case "buckets":
			p.Buckets, err = strconv.Atoi(value)
		case "weights":
			p.Weights, err = parseWeights(value)
		default:
			return p, fmt.Errorf("unknown parameter %q", key)
		}
		if err != nil {
			return p, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return p, p.Validate(method, nRuns)
}

func parseWeights(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		w, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// writeOptimized prints one row per method with its score, baseline and
// the chosen parameters as JSON.
func writeOptimized(w io.Writer, results []*benchmark.Optimized) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		params := r.Params.Clone()
		// Learned tables are long; the row only shows the tunables.
		params.Model = nil
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		cached := ""
		if r.Cached {
			cached = "yes"
		}
		rows = append(rows, []string{
			r.Method.DisplayName(),
			r.Target.String(),
			fmt.Sprintf("%.4f", r.Score),
			fmt.Sprintf("%.4f", r.Baseline),
			strconv.Itoa(r.Evaluated),
			cached,
			string(data),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Method", "Metric", "Score", "Baseline", "Candidates", "Cached", "Params").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(w, t.String())
	return err
}
