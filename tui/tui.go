// Package tui is the terminal board: three columns of cards kept in sync
// with the server through the broadcast channel.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nakulsingh04/kanban-board-project/client"
)

var _ API = (*client.Client)(nil)

func Run(opts Options) error {
	_, err := tea.NewProgram(newModel(opts), tea.WithAltScreen()).Run()
	return err
}
