package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/vperf/internal/ui/components"
	"github.com/willibrandon/vperf/internal/ui/styles"
)

// Format is an output format accepted by --output.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected table, json or yaml)", s)
	}
}

// Options controls rendering.
type Options struct {
	Format Format
	Color  bool // syntax-highlight JSON and YAML
	Plot   bool // append a chart per metric to table output
	Width  int  // terminal width, 0 for unknown
}

// Render writes reports to w. JSON and YAML emit a single document: an
// object for one report, a list for several.
func Render(w io.Writer, reports []Report, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return renderJSON(w, documentOf(reports), opts.Color)
	case FormatYAML:
		return renderYAML(w, documentOf(reports), opts.Color)
	default:
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(w)
			}
			renderTable(w, r, opts)
		}
		return nil
	}
}

// WriteJSON writes v as indented JSON, highlighted when color is set.
func WriteJSON(w io.Writer, v any, color bool) error {
	return renderJSON(w, v, color)
}

// WriteYAML writes v as YAML, highlighted when color is set.
func WriteYAML(w io.Writer, v any, color bool) error {
	return renderYAML(w, v, color)
}

func documentOf(reports []Report) any {
	if len(reports) == 1 {
		return reports[0]
	}
	return reports
}

func renderJSON(w io.Writer, v any, color bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	return highlight(w, string(data)+"\n", "json", color)
}

func renderYAML(w io.Writer, v any, color bool) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return highlight(w, buf.String(), "yaml", color)
}

// highlight writes source through chroma, falling back to plain text.
func highlight(w io.Writer, source, lexer string, color bool) error {
	if color {
		var buf bytes.Buffer
		if err := quick.Highlight(&buf, source, lexer, "terminal256", "monokai"); err == nil {
			_, err = w.Write(buf.Bytes())
			return err
		}
	}
	_, err := io.WriteString(w, source)
	return err
}

func renderTable(w io.Writer, r Report, opts Options) {
	label := styles.MutedStyle.Width(12)

	realtime := "no"
	if r.Capability.SupportsRealtime {
		realtime = fmt.Sprintf("yes @%ds", r.Capability.RefreshRate)
	}

	fmt.Fprintln(w, label.Render("Entity")+styles.TitleStyle.Render(r.Entity))
	fmt.Fprintln(w, label.Render("Window")+r.Window)
	fmt.Fprintln(w, label.Render("Plan")+styles.PlanBadge(r.kind))
	fmt.Fprintln(w, label.Render("Realtime")+realtime)
	for _, s := range r.Spans {
		fmt.Fprintln(w, label.Render("Query")+formatSpan(s))
	}
	fmt.Fprintln(w)

	if len(r.Metrics) == 0 {
		fmt.Fprintln(w, styles.MutedStyle.Render("No samples in window"))
		return
	}

	tbl := components.NewTable("METRIC", "SOURCE", "N", "MIN", "AVG", "MAX", "LATEST", "AGE", "TREND")
	tbl.AlignRight(2, 3, 4, 5, 6)
	if opts.Width > 0 {
		tbl.SetWidth(opts.Width)
	}

	for _, m := range r.Metrics {
		trend := components.MetricSparkline(m.values, 10) + " " + components.TrendOf(m.values).String()
		tbl.AddRow(
			m.Metric.String(),
			sourceStyle(m.Source).Render(m.Source),
			humanize.Comma(int64(m.Count)),
			FormatValue(m.Min, m.Unit),
			FormatValue(m.Avg, m.Unit),
			FormatValue(m.Max, m.Unit),
			FormatValue(m.Latest, m.Unit),
			humanize.Time(m.LatestAt),
			trend,
		)
	}
	fmt.Fprintln(w, tbl.View())

	if opts.Plot {
		width := opts.Width
		if width <= 0 {
			width = 80
		}
		for _, m := range r.Metrics {
			chart := components.Chart{
				Title:  m.Metric.String(),
				Window: m.Source,
				Unit:   m.Unit,
				Width:  width,
				Height: 8,
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, chart.Render(m.values))
		}
	}
}

func sourceStyle(source string) lipgloss.Style {
	if source == SourceRealtime {
		return lipgloss.NewStyle().Foreground(styles.ColorRealtime)
	}
	return lipgloss.NewStyle().Foreground(styles.ColorHistorical)
}

func formatSpan(s SpanInfo) string {
	if s.Start.IsZero() && s.End.IsZero() {
		return fmt.Sprintf("%s latest @%ds", s.Source, s.Interval)
	}
	const layout = "2006-01-02 15:04:05"
	return fmt.Sprintf("%s %s → %s @%ds", s.Source, s.Start.Format(layout), s.End.Format(layout), s.Interval)
}

// FormatValue renders v in the counter's unit.
func FormatValue(v float64, unit string) string {
	switch unit {
	case "%":
		return fmt.Sprintf("%.1f%%", v)
	case "B/s":
		if v < 0 {
			return humanize.CommafWithDigits(v, 0) + " B/s"
		}
		return humanize.IBytes(uint64(v+0.5)) + "/s"
	case "KB":
		if v < 0 {
			return humanize.CommafWithDigits(v, 0) + " KB"
		}
		return humanize.IBytes(uint64(v*1024 + 0.5))
	case "", "num":
		return humanize.CommafWithDigits(v, 2)
	default:
		return humanize.CommafWithDigits(v, 2) + " " + unit
	}
}
