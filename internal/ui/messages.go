package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"hatch/internal/update"
)

// stateMsg carries a controller state published to the subscriber.
type stateMsg struct {
	state update.State
}

// toastTickMsg drives the toast countdown.
type toastTickMsg struct{}

const toastDuration = 4 * time.Second

func scheduleToastTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return toastTickMsg{}
	})
}
