package flash

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinkerbase/sdimager/progress"
)

type selectionModel struct {
	devices  []Device
	table    table.Model
	selected *Device
	err      error
}

func newSelectionModel(devices []Device) selectionModel {
	columns := []table.Column{
		{Title: "Name", Width: 10},
		{Title: "Size", Width: 12},
		{Title: "Model", Width: 20},
		{Title: "Path", Width: 20},
	}

	rows := make([]table.Row, 0, len(devices))
	for _, dev := range devices {
		rows = append(rows, table.Row{
			dev.Name,
			progress.ByteCount(int64(dev.SizeBytes)),
			dev.Model,
			dev.Path,
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(newTableStyles())

	return selectionModel{devices: devices, table: t}
}

func newTableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

func (m selectionModel) Init() tea.Cmd {
	return nil
}

func (m selectionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.err = errors.New("flash cancelled")
			return m, tea.Quit
		case "up", "k":
			m.table.MoveUp(1)
		case "down", "j":
			m.table.MoveDown(1)
		case "enter":
			cursor := m.table.Cursor()
			if cursor < 0 || cursor >= len(m.devices) {
				m.err = errors.New("invalid selection")
				return m, tea.Quit
			}
			m.selected = &m.devices[cursor]
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		width := msg.Width - 4
		if width < 20 {
			width = 20
		}
		m.table.SetWidth(width)
	}

	return m, nil
}

func (m selectionModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n", m.err)
	}
	return fmt.Sprintf(
		"Select a destination device (↑/↓ to navigate, enter to choose)\n\n%s\n\nPress q to cancel.",
		m.table.View(),
	)
}

// SelectDevice shows an interactive picker over the discovered removable
// devices and returns the operator's choice.
func SelectDevice(devices []Device) (Device, error) {
	program := tea.NewProgram(newSelectionModel(devices))
	model, err := program.Run()
	if err != nil {
		return Device{}, err
	}

	selection, ok := model.(selectionModel)
	if !ok {
		return Device{}, errors.New("failed to read selection state")
	}
	if selection.err != nil {
		return Device{}, selection.err
	}
	if selection.selected == nil {
		return Device{}, errors.New("no device selected")
	}
	return *selection.selected, nil
}
