// Package report renders comparison reports as tables and JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/MochiXu/hybrid-search-ranx/internal/compare"
	"github.com/MochiXu/hybrid-search-ranx/internal/evaluation"
)

// DefaultDigits is the number of decimals printed for scores.
const DefaultDigits = 3

var superscripts = map[rune]string{
	'a': "ᵃ", 'b': "ᵇ", 'c': "ᶜ", 'd': "ᵈ", 'e': "ᵉ", 'f': "ᶠ", 'g': "ᵍ",
	'h': "ʰ", 'i': "ⁱ", 'j': "ʲ", 'k': "ᵏ", 'l': "ˡ", 'm': "ᵐ", 'n': "ⁿ",
	'o': "ᵒ", 'p': "ᵖ", 'q': "ᑫ", 'r': "ʳ", 's': "ˢ", 't': "ᵗ", 'u': "ᵘ",
	'v': "ᵛ", 'w': "ʷ", 'x': "ˣ", 'y': "ʸ", 'z': "ᶻ",
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

// Letter labels the i-th run: a..z, then aa, ab, ...
func Letter(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('a' + (i-1)%26)}, b...)
	}
	return string(b)
}

// Superscript renders lower-case letters as superscripts.
func Superscript(s string) string {
	var b strings.Builder
	for _, r := range s {
		if sup, ok := superscripts[r]; ok {
			b.WriteString(sup)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Options tune the table.
type Options struct {
	// Digits is the score precision; <= 0 uses DefaultDigits.
	Digits int
}

// header is the column title of a metric, e.g. "NDCG@10". Reports decoded
// from JSON may carry names this build does not know; those are shown
// upper-cased as they are.
func header(metric string) string {
	spec, err := evaluation.ParseMetric(metric)
	if err != nil {
		return strings.ToUpper(metric)
	}
	return spec.Label()
}

// Table renders rep as a table with one row per run. Each score carries the
// superscript letters of the runs it significantly beats on that metric.
func Table(rep *compare.Report, opts Options) string {
	digits := opts.Digits
	if digits <= 0 {
		digits = DefaultDigits
	}

	letters := make(map[string]string, len(rep.Runs))
	for i, name := range rep.Runs {
		letters[name] = Letter(i)
	}

	headers := []string{"#", "Model"}
	for _, m := range rep.Metrics {
		headers = append(headers, header(m))
	}

	rows := make([][]string, 0, len(rep.Runs))
	for _, name := range rep.Runs {
		row := []string{letters[name], name}
		for _, m := range rep.Metrics {
			var beaten strings.Builder
			for _, other := range rep.Beats[m][name] {
				beaten.WriteString(letters[other])
			}
			row = append(row, fmt.Sprintf("%.*f", digits, rep.Scores[name][m])+Superscript(beaten.String()))
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 2:
				return numberStyle
			default:
				return cellStyle
			}
		})
	return t.String()
}

// Write prints the table followed by a line naming the test and threshold.
func Write(w io.Writer, rep *compare.Report, opts Options) error {
	_, err := fmt.Fprintf(w, "%s\n%s test, p < %g\n", Table(rep, opts), rep.Test, rep.Alpha)
	return err
}

// WriteJSON writes rep as indented JSON.
func WriteJSON(w io.Writer, rep *compare.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
