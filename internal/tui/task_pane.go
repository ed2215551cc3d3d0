package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/forge/internal/events"
)

const listWidth = 32

// TaskState is what the pane knows about one task.
type TaskState struct {
	Name      string
	Status    string // "running", "up-to-date", "succeeded", "failed"
	Output    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists tasks as they start and shows the selected task's
// output in a scrollable viewport.
type TaskPaneModel struct {
	tasks       map[string]*TaskState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int
}

// NewTaskPaneModel creates an empty task pane.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg debounces viewport refreshes while output streams in.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		st := m.ensure(msg.Task)
		st.Status = "running"
		st.StartTime = msg.Timestamp
		if len(m.order) == 1 {
			m.updateViewportContent()
		}

	case events.TaskOutputEvent:
		st := m.ensure(msg.Task)
		line := msg.Line
		if msg.Stderr {
			line = StyleStatusFailed.Render(line)
		}
		st.Output = append(st.Output, line)
		if m.selectedTask() == msg.Task {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case events.ImplicitDiscoveredEvent:
		st := m.ensure(msg.Task)
		st.Output = append(st.Output, fmt.Sprintf("[%d implicit inputs, %d producers admitted]", len(msg.Inputs), len(msg.Admitted)))

	case events.TaskFinishedEvent:
		st := m.ensure(msg.Task)
		st.Status = msg.Status
		st.Duration = msg.Duration
		if msg.Err != nil {
			st.Output = append(st.Output, fmt.Sprintf("\n[%s: %v]", msg.Reason, msg.Err))
		} else {
			st.Output = append(st.Output, fmt.Sprintf("\n[%s in %v]", msg.Status, msg.Duration.Round(time.Millisecond)))
		}
		if m.selectedTask() == msg.Task {
			m.updateViewportContent()
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (m *TaskPaneModel) ensure(name string) *TaskState {
	if st, ok := m.tasks[name]; ok {
		return st
	}
	st := &TaskState{Name: name, Status: "pending"}
	m.tasks[name] = st
	m.order = append(m.order, name)
	return st
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(m.width-listWidth-4).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, name := range m.order {
		st := m.tasks[name]
		label := filepath.Base(name)
		if len(label) > width-4 {
			label = label[:width-7] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(st.Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "succeeded":
		return StyleStatusComplete.Render("✓")
	case "up-to-date":
		return StyleStatusUpToDate.Render("=")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) selectedTask() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m *TaskPaneModel) updateViewportContent() {
	st, ok := m.tasks[m.selectedTask()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	header := StyleTitle.Render(st.Name)
	m.viewport.SetContent(header + "\n" + strings.Join(st.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Task returns the state of a task, for tests and the final summary.
func (m TaskPaneModel) Task(name string) (TaskState, bool) {
	st, ok := m.tasks[name]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}
