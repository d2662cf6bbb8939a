// Package watch implements `vperf watch`, a live view of recent
// performance samples for a set of entities.
package watch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/report"
	"github.com/willibrandon/vperf/internal/ui"
	"github.com/willibrandon/vperf/internal/ui/components"
	"github.com/willibrandon/vperf/internal/ui/styles"
)

// SessionSource opens retrieval sessions. *perf.Engine satisfies it.
type SessionSource interface {
	NewSession(ctx context.Context) (*perf.Session, error)
}

// Window is a trailing time range the view can show.
type Window struct {
	Label string
	Span  time.Duration
}

// DefaultWindows are cycled with tab.
var DefaultWindows = []Window{
	{Label: "last hour", Span: perf.DefaultSpan},
	{Label: "last 6 hours", Span: 6 * time.Hour},
	{Label: "last 24 hours", Span: 24 * time.Hour},
	{Label: "last 7 days", Span: 7 * 24 * time.Hour},
}

// Spec returns the time spec covering the window's span up to now.
func (w Window) Spec(now time.Time) perf.TimeSpec {
	if w.Span == perf.DefaultSpan {
		return perf.DefaultSpec()
	}
	return perf.ExplicitRange(now.Add(-w.Span).Format(time.RFC3339), now.Format(time.RFC3339))
}

// Config configures the watch model.
type Config struct {
	Source    SessionSource
	Entities  []perf.Entity
	Windows   []Window
	Interval  time.Duration // refresh cadence
	Timeout   time.Duration // per-refresh retrieval timeout
	Counters  []metrics.CounterInfo
	Clipboard *ui.ClipboardWriter
}

// entityResult is one entity's outcome of a refresh.
type entityResult struct {
	entity perf.Entity
	result *perf.Result
	err    error
}

// Messages

type tickMsg time.Time

type dataMsg struct {
	window    int
	results   []entityResult
	fetchedAt time.Time
	err       error
}

// Model is the bubbletea model of the watch view.
type Model struct {
	cfg   Config
	keys  ui.KeyMap
	help  help.Model
	table table.Model
	units map[string]string

	width  int
	height int

	window     int
	results    []entityResult
	lastUpdate time.Time
	refreshing bool
	showCharts bool
	err        error

	toastMessage string
	toastError   bool
	toastTime    time.Time
}

// New creates the watch model.
func New(cfg Config) *Model {
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	t := table.New(
		table.WithColumns(columns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.ColorBorder).
		BorderBottom(true).
		Bold(false)
	s.Selected = styles.TableSelectedStyle
	t.SetStyles(s)

	units := make(map[string]string)
	for _, c := range cfg.Counters {
		units[c.Key] = c.Unit
	}

	return &Model{
		cfg:        cfg,
		keys:       ui.DefaultKeyMap(),
		help:       help.New(),
		table:      t,
		units:      units,
		showCharts: true,
	}
}

// columns sizes the entity column to fill the remaining width.
func columns(width int) []table.Column {
	// PLAN(10) + CPU(8) + MEM(10) + DISK(12) + NET(12) + AGE(16) + spacing(14)
	entityWidth := max(width-82, 20)
	return []table.Column{
		{Title: "Entity", Width: entityWidth},
		{Title: "Plan", Width: 10},
		{Title: "CPU", Width: 8},
		{Title: "Memory", Width: 10},
		{Title: "Disk", Width: 12},
		{Title: "Network", Width: 12},
		{Title: "Latest", Width: 16},
	}
}

// Init starts the first refresh.
func (m *Model) Init() tea.Cmd {
	m.refreshing = true
	return m.fetch()
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case tickMsg:
		if m.refreshing {
			return m, m.tick()
		}
		m.refreshing = true
		return m, m.fetch()

	case dataMsg:
		if msg.window != m.window {
			// Stale answer for a window the user already left
			return m, nil
		}
		m.refreshing = false
		m.err = msg.err
		if msg.err == nil {
			m.results = msg.results
			m.lastUpdate = msg.fetchedAt
			m.refreshRows()
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.setSize(m.width, m.height)
		return nil, true
	case key.Matches(msg, m.keys.NextWindow):
		return m.switchWindow(1), true
	case key.Matches(msg, m.keys.PrevWindow):
		return m.switchWindow(-1), true
	case key.Matches(msg, m.keys.Refresh):
		if m.refreshing {
			return nil, true
		}
		m.refreshing = true
		return m.fetch(), true
	case key.Matches(msg, m.keys.Plot):
		m.showCharts = !m.showCharts
		m.setSize(m.width, m.height)
		return nil, true
	case key.Matches(msg, m.keys.Yank):
		m.yank()
		return nil, true
	}
	return nil, false
}

func (m *Model) switchWindow(delta int) tea.Cmd {
	n := len(m.cfg.Windows)
	m.window = ((m.window+delta)%n + n) % n
	m.results = nil
	m.refreshRows()
	m.refreshing = true
	return m.fetch()
}

// fetch retrieves every entity in one session so they share now and the
// retention boundary.
func (m *Model) fetch() tea.Cmd {
	source := m.cfg.Source
	entities := m.cfg.Entities
	window := m.window
	w := m.cfg.Windows[window]
	timeout := m.cfg.Timeout

	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		session, err := source.NewSession(ctx)
		if err != nil {
			return dataMsg{window: window, err: err}
		}

		spec := w.Spec(session.Now)
		results := make([]entityResult, 0, len(entities))
		for _, e := range entities {
			res, err := session.Retrieve(ctx, e, spec)
			results = append(results, entityResult{entity: e, result: res, err: err})
		}
		return dataMsg{window: window, results: results, fetchedAt: session.Now}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.cfg.Interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) refreshRows() {
	rows := make([]table.Row, len(m.results))
	for i, r := range m.results {
		rows[i] = m.row(r)
	}
	m.table.SetRows(rows)
	// A table built empty keeps cursor -1 until a row is chosen.
	if len(rows) > 0 && m.table.Cursor() < 0 {
		m.table.SetCursor(0)
	}
}

func (m *Model) row(r entityResult) table.Row {
	if r.err != nil {
		return table.Row{r.entity.String(), "error", "", "", "", "", shortError(r.err)}
	}

	samples := r.result.Samples()
	latest := func(counter string) string {
		v, ok := latestSum(samples, counter)
		if !ok {
			return "-"
		}
		return report.FormatValue(v, m.units[counter])
	}

	age := "-"
	if n := len(samples); n > 0 {
		var newest time.Time
		for _, s := range samples {
			if s.Timestamp.After(newest) {
				newest = s.Timestamp
			}
		}
		age = humanize.RelTime(newest, m.lastUpdate, "ago", "from now")
	}

	return table.Row{
		r.entity.String(),
		r.result.Plan.Kind.String(),
		latest(metrics.CounterCPUUsage),
		latest(metrics.CounterMemConsumed),
		latest(metrics.CounterDiskRead),
		latest(metrics.CounterNetReceived),
		age,
	}
}

// latestSum adds the newest sample of every instance of counter.
func latestSum(set metrics.SampleSet, counter string) (float64, bool) {
	newest := make(map[string]metrics.Sample)
	for _, s := range set {
		if s.Metric.Counter != counter {
			continue
		}
		if cur, ok := newest[s.Metric.Instance]; !ok || s.Timestamp.After(cur.Timestamp) {
			newest[s.Metric.Instance] = s
		}
	}
	if len(newest) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range newest {
		sum += s.Value
	}
	return sum, true
}

func shortError(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 && i+2 < len(msg) {
		msg = msg[i+2:]
	}
	return msg
}

// selected returns the result under the cursor.
func (m *Model) selected() (entityResult, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.results) {
		return entityResult{}, false
	}
	return m.results[i], true
}

func (m *Model) yank() {
	r, ok := m.selected()
	if !ok || r.result == nil {
		m.showToast("Nothing to copy", true)
		return
	}
	if m.cfg.Clipboard == nil || !m.cfg.Clipboard.IsAvailable() {
		reason := "no clipboard"
		if m.cfg.Clipboard != nil {
			reason = m.cfg.Clipboard.Error()
		}
		m.showToast("Clipboard unavailable: "+reason, true)
		return
	}

	var buf bytes.Buffer
	rep := report.Build(r.result, report.WithCounters(m.cfg.Counters))
	if err := report.WriteJSON(&buf, rep, false); err != nil {
		m.showToast(err.Error(), true)
		return
	}
	if err := m.cfg.Clipboard.Write(buf.String()); err != nil {
		m.showToast("Copy failed: "+err.Error(), true)
		return
	}
	m.showToast("Copied "+r.entity.String()+" as JSON", false)
}

func (m *Model) showToast(msg string, isError bool) {
	m.toastMessage = msg
	m.toastError = isError
	m.toastTime = time.Now()
}

func (m *Model) setSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	m.table.SetColumns(columns(width))
	m.refreshRows()

	// Header(3) + footer(2) + help
	tableHeight := height - 5 - lipgloss.Height(m.help.View(m.keys))
	if m.showCharts {
		tableHeight = tableHeight / 2
	}
	m.table.SetHeight(max(tableHeight, 5))
}

// View renders the header, the entity table, charts for the selected
// entity and the key help.
func (m *Model) View() string {
	var sections []string
	sections = append(sections, m.headerView(), m.table.View())

	if m.showCharts {
		sections = append(sections, m.chartsView())
	}

	if m.toastMessage != "" && time.Since(m.toastTime) < 3*time.Second {
		style := styles.SuccessStyle
		if m.toastError {
			style = styles.ErrorStyle
		}
		sections = append(sections, style.Render(m.toastMessage))
	}

	sections = append(sections, styles.HelpStyle.Render(m.help.View(m.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) headerView() string {
	w := m.cfg.Windows[m.window]
	left := styles.StatusTitleStyle.Render("vperf watch") + "  " + w.Label

	var right string
	switch {
	case m.err != nil:
		right = styles.ErrorStyle.Render(m.err.Error())
	case m.refreshing:
		right = styles.StatusTimeStyle.Render("refreshing...")
	case !m.lastUpdate.IsZero():
		right = styles.StatusTimeStyle.Render("updated " + m.lastUpdate.Local().Format("15:04:05"))
	}

	content := left
	if right != "" {
		gap := max(m.width-4-lipgloss.Width(left)-lipgloss.Width(right), 2)
		content = left + strings.Repeat(" ", gap) + right
	}
	return styles.StatusBarStyle.Render(content)
}

func (m *Model) chartsView() string {
	r, ok := m.selected()
	if !ok {
		return styles.MutedStyle.Render("No entity selected")
	}
	if r.err != nil {
		return styles.ErrorStyle.Render(r.err.Error())
	}

	width := max(m.width-4, 40)
	set := r.result.Samples().Select([]metrics.MetricID{
		metrics.AllInstances(metrics.CounterCPUUsage),
		metrics.AllInstances(metrics.CounterMemConsumed),
	})
	label := fmt.Sprintf("%s (%s)", r.entity, r.result.Plan.Kind)
	chartHeight := max((m.height-m.table.Height()-10)/2, 4)
	return styles.PanelStyle.Render(components.RenderMetricCharts(set, label, m.units, width-4, chartHeight))
}

// Run starts the watch view and blocks until the user quits or ctx is done.
func Run(ctx context.Context, cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
