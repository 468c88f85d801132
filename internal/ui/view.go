package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"

	"hatch/internal/update"
)

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	width := m.width
	if width < 20 {
		width = 20
	}
	contentWidth := width - 4

	var b strings.Builder
	b.WriteString(styleAppHeader.Render("hatch updater"))
	b.WriteString("  ")
	b.WriteString(styleDim.Render("running "))
	b.WriteString(styleVersion.Render(displayVersion(m.cfg.CurrentVersion)))
	b.WriteString("\n")
	if m.cfg.ManifestURL != "" {
		b.WriteString(styleDim.Render(ansi.Truncate(m.cfg.ManifestURL, contentWidth, "…")))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderPhase(contentWidth))
	b.WriteString("\n")

	if notes := m.renderedNotes(contentWidth - 4); notes != "" && m.showsNotes() {
		b.WriteString("\n")
		b.WriteString(styleNotes.Width(contentWidth - 2).Render(notes))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	body := lipgloss.NewStyle().Padding(0, 1).Render(b.String())
	if !m.toastVisible {
		return body
	}

	height := m.height
	if h := lipgloss.Height(body) + 4; height < h {
		height = h
	}
	canvas := NewCanvas(width, height)
	canvas.DrawStringAt(0, 0, lipgloss.NewStyle().Width(width).Height(height).Render(body))
	canvas.bottomRightOverlay(m.renderToast(), 1)
	return canvas.Render()
}

func (m *Model) renderPhase(width int) string {
	s := m.state
	label := phaseStyle(s.Phase).Render(strings.ToUpper(s.Phase.String()))

	var line string
	switch s.Phase {
	case update.PhaseIdle:
		line = label + "  " + styleDim.Render("up to date")
	case update.PhaseChecking:
		line = m.spinner.View() + " " + label + "  " + styleDim.Render("contacting update server")
	case update.PhaseAvailable:
		line = label + "  " + styleVersion.Render(displayVersion(s.Version())) + releaseDate(s)
	case update.PhaseDownloading:
		line = label + "  " + styleVersion.Render(displayVersion(s.Version())) +
			"\n" + m.progress.View() + " " + styleDim.Render(fmt.Sprintf("%3d%%", s.Progress))
	case update.PhaseDownloaded, update.PhaseVerifying:
		line = m.spinner.View() + " " + label + "  " + styleDim.Render("checking signature and digest")
	case update.PhaseReady:
		line = label + "  " + styleVersion.Render(displayVersion(s.Version())) + styleDim.Render(" verified, restart to install")
	case update.PhaseMounting:
		line = m.spinner.View() + " " + label + "  " + styleDim.Render("opening disk image")
	case update.PhaseMounted:
		line = label + "  " + styleDim.Render("drag the app into Applications from ") +
			ansi.Truncate(s.MountPoint, width/2, "…")
	case update.PhaseFailed:
		msg := "unknown error"
		if s.Err != nil {
			msg = s.Err.String()
		}
		line = label + "\n" + styleBad.Render(wrap(msg, width))
	default:
		line = label
	}
	if m.held {
		line += "\n" + styleBad.Render("Automatic checks are paused until you check manually.")
	}
	return line
}

func (m *Model) showsNotes() bool {
	switch m.state.Phase {
	case update.PhaseAvailable, update.PhaseDownloading, update.PhaseReady:
		return true
	}
	return false
}

func (m *Model) renderFooter() string {
	var hints []string
	add := func(h key.Help) {
		hints = append(hints, styleKey.Render(h.Key)+" "+styleFooter.Render(h.Desc))
	}
	add(m.keys.Check.Help())
	switch m.state.Phase {
	case update.PhaseAvailable:
		add(m.keys.Download.Help())
	case update.PhaseReady:
		add(m.keys.Restart.Help())
	case update.PhaseFailed:
		add(m.keys.Copy.Help())
	}
	add(m.keys.Quit.Help())
	return strings.Join(hints, styleFooter.Render("  •  "))
}

func (m *Model) renderToast() string {
	remaining := int((toastDuration - time.Since(m.toastStart)).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	body := m.toastText + styleDim.Render(fmt.Sprintf(" [%ds]", remaining))
	if m.toastIsError {
		return styleErrorToast.Render(body)
	}
	return styleSuccessToast.Render(body)
}

func wrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	return wordwrap.String(s, width)
}

func releaseDate(s update.State) string {
	if s.Release == nil || s.Release.Date().IsZero() {
		return ""
	}
	return styleDim.Render("  released " + s.Release.Date().Format("2006-01-02"))
}

func displayVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
