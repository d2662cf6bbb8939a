package styles

import "github.com/charmbracelet/lipgloss"

// Text
var (
	TitleStyle   = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorError)
	HelpStyle    = MutedStyle.MarginTop(1)
)

// Tables share one cell padding so plain and interactive tables line up.
var (
	TableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	TableHeaderStyle = TableCellStyle.Foreground(ColorAccent).Bold(true)
	TableRowAltStyle = TableCellStyle.Foreground(lipgloss.Color("250"))
	TableBorderStyle = lipgloss.NewStyle().Foreground(ColorBorder)

	TableSelectedStyle = lipgloss.NewStyle().
				Foreground(ColorSelectedFg).
				Background(ColorSelectedBg)
)

// Watch dashboard frame: a header box naming the entity and window, and
// rounded panels around each chart.
var (
	StatusBarStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
	StatusTitleStyle = TitleStyle
	StatusTimeStyle  = MutedStyle

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)
)
