// Package report renders coverage results: a terminal summary table
// and an HTML report with annotated source.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/covstack/covrun/internal/coverage"
)

var (
	lowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	midStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	highStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// percentStyle picks the color band for a total percentage. When a
// threshold is set, anything below it is rendered as failing.
func percentStyle(pct, threshold float64) lipgloss.Style {
	if threshold > 0 {
		if pct < threshold {
			return lowStyle
		}
		return highStyle
	}
	switch {
	case pct < 50:
		return lowStyle
	case pct < 80:
		return midStyle
	default:
		return highStyle
	}
}

// WriteSummary prints the per-file coverage table and the colored
// total line.
func WriteSummary(w io.Writer, s *coverage.Summary, threshold float64) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"File", "Stmts", "Covered", "Cover"})
	for _, f := range s.Files {
		t.AppendRow(table.Row{f.Name, f.Statements, f.Covered, fmt.Sprintf("%.1f%%", f.Percent())})
	}
	t.AppendFooter(table.Row{"total", s.Statements, s.Covered, fmt.Sprintf("%.1f%%", s.Percent())})
	t.Render()

	style := percentStyle(s.Percent(), threshold)
	fmt.Fprintf(w, "coverage: %s of statements\n", style.Render(fmt.Sprintf("%.1f%%", s.Percent())))
	if threshold > 0 && s.Percent() < threshold {
		fmt.Fprintf(w, "%s\n", lowStyle.Render(
			fmt.Sprintf("coverage %.1f%% is below the %.1f%% threshold", s.Percent(), threshold)))
	}
}
