package console

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jaa/forge/internal/steps"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	selectStyle  = lipgloss.NewStyle().Bold(true).Foreground(purple)
	logStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(dim).PaddingLeft(1)
)

// ConfigureColor picks the terminal color profile. Plain output drops all
// styling.
func ConfigureColor(noColor bool) {
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.ColorProfile())
}

// stepGlyph renders the marker for a step status. Running steps use the
// spinner frame passed in.
func stepGlyph(s steps.Status, spinnerFrame string) string {
	switch s {
	case steps.Running:
		return spinnerFrame
	case steps.Complete:
		return successStyle.Render("✓")
	case steps.Failed:
		return errorStyle.Render("✗")
	case steps.Skipped:
		return mutedStyle.Render("–")
	default:
		return mutedStyle.Render("○")
	}
}
