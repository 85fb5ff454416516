package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/HatiCode/lycsurv/cmd/lycsurv/config"
	"github.com/HatiCode/lycsurv/pkg/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func f3(v float64) string { return fmt.Sprintf("%5.3f", v) }

// statsTable renders the goodness of fit of every response.
func statsTable(results []TrainResult) string {
	t := newTable("response", "method", "rows", "events", "R²", "adj R²", "RMS", "concord")
	for _, res := range results {
		row := []string{
			string(res.Response),
			res.Summary.Method,
			fmt.Sprint(res.Summary.Observations),
			fmt.Sprint(res.Summary.Events),
		}
		if s := res.Stats; s != nil {
			row = append(row, f3(s.R2), f3(s.R2Adj), f3(s.RMS), f3(s.Concordance))
		} else {
			row = append(row, "-", "-", "-", "-")
		}
		t.Row(row...)
	}
	return t.String()
}

// coefficientTable renders a fit summary and its covariate means.
func coefficientTable(s models.Summary) string {
	t := newTable("covariate", "coef", "exp(coef)", "se", "z", "p", "lower 95%", "upper 95%")
	for _, c := range s.Coefficients {
		t.Row(c.Name, f3(c.Coef), f3(c.ExpCoef), f3(c.SE), f3(c.Z), f3(c.P), f3(c.Lower95), f3(c.Upper95))
	}
	out := t.String()

	if len(s.Means) > 0 {
		names := make([]string, 0, len(s.Means))
		for name := range s.Means {
			names = append(names, name)
		}
		sort.Strings(names)

		mt := newTable("covariate", "x̄")
		for _, name := range names {
			mt.Row(name, f3(s.Means[name]))
		}
		out += "\n" + mt.String()
	}
	return out
}

// printReport writes the training report to w.
func printReport(w io.Writer, results []TrainResult, verbose bool) {
	if verbose {
		for _, res := range results {
			fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s · %s", res.Response, res.Summary.Method)))
			if d := res.Report.Dropped(); d > 0 {
				fmt.Fprintf(w, "%d of %d catalog rows dropped\n", d, res.Report.Rows)
			}
			fmt.Fprintln(w, coefficientTable(res.Summary))
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w, statsTable(results))
}

// writeOutput runs write against path, or stdout when path is "-".
func writeOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == config.StdoutPath {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
