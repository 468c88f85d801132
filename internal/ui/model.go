// Package ui renders the interactive update status screen.
package ui

import (
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"hatch/internal/debug"
	"hatch/internal/update"
)

var uiLog = debug.Component("ui")

// Controller is the subset of update.Controller the status screen drives.
type Controller interface {
	State() update.State
	Held() bool
	CheckNow() update.State
	DownloadUpdate() update.State
	RestartToUpdate() update.State
	Subscribe(fn func(update.State)) (unsubscribe func())
}

// Config holds the static details shown on the status screen.
type Config struct {
	CurrentVersion string
	ManifestURL    string
	NotesStyle     string
	// CopyFn replaces the system clipboard, mainly for tests.
	CopyFn func(string) error
}

// Model is the Bubble Tea model for the update status screen.
type Model struct {
	ctl  Controller
	cfg  Config
	keys KeyMap

	states      chan update.State
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()

	state update.State
	held  bool

	width  int
	height int

	spinner  spinner.Model
	progress progress.Model

	notesVersion string
	notesWidth   int
	notes        string

	toastText    string
	toastIsError bool
	toastStart   time.Time
	toastVisible bool

	copyFn   func(string) error
	quitting bool
}

// NewModel subscribes to ctl and returns a model ready for tea.NewProgram.
func NewModel(ctl Controller, cfg Config) *Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = styleSpinner

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	m := &Model{
		ctl:      ctl,
		cfg:      cfg,
		keys:     DefaultKeyMap(),
		states:   make(chan update.State),
		done:     make(chan struct{}),
		state:    ctl.State(),
		held:     ctl.Held(),
		spinner:  s,
		progress: p,
		copyFn:   cfg.CopyFn,
		width:    80,
		height:   24,
	}
	if m.copyFn == nil {
		m.copyFn = clipboard.WriteAll
	}
	m.unsubscribe = ctl.Subscribe(func(st update.State) {
		select {
		case m.states <- st:
		case <-m.done:
		}
	})
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForState())
}

func (m *Model) waitForState() tea.Cmd {
	ch, done := m.states, m.done
	return func() tea.Msg {
		select {
		case s := <-ch:
			return stateMsg{state: s}
		case <-done:
			return nil
		}
	}
}

// Close detaches the model from the controller. Safe to call more than once.
func (m *Model) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
	})
}

// State returns the last state the model rendered.
func (m *Model) State() update.State { return m.state }

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if w := msg.Width - 8; w > 10 && w < 60 {
			m.progress.Width = w
		}
		return m, nil

	case stateMsg:
		m.applyState(msg.state)
		cmds := []tea.Cmd{m.waitForState()}
		if msg.state.Phase == update.PhaseDownloading {
			cmds = append(cmds, m.progress.SetPercent(float64(msg.state.Progress)/100))
		}
		return m, tea.Batch(cmds...)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		if p, ok := pm.(progress.Model); ok {
			m.progress = p
		}
		return m, cmd

	case toastTickMsg:
		if !m.toastVisible {
			return m, nil
		}
		if time.Since(m.toastStart) >= toastDuration {
			m.toastVisible = false
			return m, nil
		}
		return m, scheduleToastTick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) applyState(s update.State) {
	prev := m.state.Phase
	m.state = s
	m.held = m.ctl.Held()
	if prev != s.Phase {
		uiLog.Logf("phase %s -> %s", prev, s.Phase)
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Check):
		m.state = m.ctl.CheckNow()
		m.held = m.ctl.Held()
		return m, nil

	case key.Matches(msg, m.keys.Download):
		if m.state.Phase != update.PhaseAvailable {
			return m, nil
		}
		m.state = m.ctl.DownloadUpdate()
		return m, nil

	case key.Matches(msg, m.keys.Restart):
		if m.state.Phase != update.PhaseReady {
			return m, nil
		}
		m.state = m.ctl.RestartToUpdate()
		return m, nil

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyError()
	}
	return m, nil
}

func (m *Model) copyError() tea.Cmd {
	if m.state.Phase != update.PhaseFailed || m.state.Err == nil {
		return nil
	}
	text := strings.TrimSpace(m.state.Err.String())
	if err := m.copyFn(text); err != nil {
		uiLog.Logf("clipboard copy failed: %v", err)
		return m.showToast("Copy failed: "+err.Error(), true)
	}
	return m.showToast("Copied error to clipboard", false)
}

func (m *Model) showToast(text string, isError bool) tea.Cmd {
	m.toastText = text
	m.toastIsError = isError
	m.toastStart = time.Now()
	m.toastVisible = true
	return scheduleToastTick()
}

// renderedNotes caches the markdown rendering per release and width.
func (m *Model) renderedNotes(width int) string {
	release := m.state.Release
	if release == nil || strings.TrimSpace(release.Notes()) == "" {
		return ""
	}
	if m.notesVersion == release.Version() && m.notesWidth == width {
		return m.notes
	}
	render := buildMarkdownRenderer(m.cfg.NotesStyle, width)
	m.notes = render(release.Notes())
	m.notesVersion = release.Version()
	m.notesWidth = width
	return m.notes
}
