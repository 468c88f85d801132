package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"hatch/internal/update"
)

var (
	cPurple     = lipgloss.Color("99")
	cCyan       = lipgloss.Color("39")
	cNeonGreen  = lipgloss.Color("118")
	cRed        = lipgloss.Color("203")
	cGold       = lipgloss.Color("220")
	cGray       = lipgloss.Color("240")
	cBrightGray = lipgloss.Color("246")
	cWhite      = lipgloss.Color("255")
	cPink       = lipgloss.Color("#FF79C6")

	styleAppHeader = lipgloss.NewStyle().
			Foreground(cWhite).
			Background(cPurple).
			Bold(true).
			Padding(0, 1)

	styleVersion = lipgloss.NewStyle().Foreground(cGold).Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(cBrightGray)
	styleBusy    = lipgloss.NewStyle().Foreground(cCyan).Bold(true)
	styleGood    = lipgloss.NewStyle().Foreground(cNeonGreen).Bold(true)
	styleBad     = lipgloss.NewStyle().Foreground(cRed).Bold(true)
	styleSpinner = lipgloss.NewStyle().Foreground(cPink)

	styleNotes = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(cGray).
			Padding(0, 1)

	styleFooter = lipgloss.NewStyle().Foreground(cBrightGray)
	styleKey    = lipgloss.NewStyle().Foreground(cWhite).Bold(true)

	styleSuccessToast = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(cNeonGreen).
				Padding(0, 1)

	styleErrorToast = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cRed).
			Padding(0, 1)
)

// phaseStyle colors the phase label by outcome.
func phaseStyle(p update.Phase) lipgloss.Style {
	switch {
	case p == update.PhaseFailed:
		return styleBad
	case p == update.PhaseReady || p == update.PhaseMounted:
		return styleGood
	case p.Busy():
		return styleBusy
	default:
		return styleDim
	}
}

func buildMarkdownRenderer(format string, width int) func(string) string {
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}

	style := strings.ToLower(strings.TrimSpace(format))
	if style == "" || style == "rich" || style == "dark" {
		style = "dark"
	}
	if style == "plain" {
		return fallback
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return fallback(input)
		}
		return strings.TrimSpace(out)
	}
}
