// Package tui renders a live view of a build from the events the scheduler
// publishes.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/forge/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneProgress
	paneCount
)

const progressHeight = 13

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	taskPane    TaskPaneModel
	dagPane     DAGPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	width       int
	height      int
	quitting    bool
	autoQuit    bool
}

// New creates a TUI model subscribed to every event on the bus. With
// autoQuit the program exits as soon as the run finishes.
func New(bus *events.Bus, autoQuit bool) Model {
	return Model{
		taskPane: NewTaskPaneModel(),
		dagPane:  NewDAGPaneModel(),
		eventSub: bus.SubscribeAll(1024),
		autoQuit: autoQuit,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// busClosedMsg is delivered once the event subscription is closed.
type busClosedMsg struct{}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit
		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()
		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()
		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()
		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()
		default:
			var cmd tea.Cmd
			m.taskPane, cmd = m.taskPane.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskStartedEvent, events.TaskOutputEvent, events.TaskFinishedEvent, events.ImplicitDiscoveredEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.RunProgressEvent:
		m.dagPane, _ = m.dagPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.RunFinishedEvent:
		m.dagPane, _ = m.dagPane.Update(msg)
		if m.autoQuit {
			return m, tea.Quit
		}
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		if m.autoQuit {
			return m, tea.Quit
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinVertical(lipgloss.Left, m.taskPane.View(), m.dagPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView())
}

func (m *Model) computeLayout() {
	available := m.height - 1 // help bar
	bottom := min(progressHeight, available/2)

	m.taskPane.SetSize(m.width, available-bottom)
	m.dagPane.SetSize(m.width, bottom)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.dagPane.SetFocused(m.focusedPane == PaneProgress)
}

// Finished reports whether the model has seen the end of the run.
func (m Model) Finished() bool {
	return m.dagPane.Finished()
}
