package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/forge/internal/events"
)

// DAGPaneModel shows run-wide progress.
type DAGPaneModel struct {
	required int
	done     int
	running  int
	failed   int
	upToDate int

	finished bool
	success  bool
	elapsed  time.Duration

	width   int
	height  int
	focused bool
}

// NewDAGPaneModel creates a new progress pane.
func NewDAGPaneModel() DAGPaneModel {
	return DAGPaneModel{}
}

// Update handles messages for the progress pane.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.RunProgressEvent:
		m.required = msg.Required
		m.done = msg.Done
		m.running = msg.Running
		m.failed = msg.Failed
		m.upToDate = msg.UpToDate

	case events.RunFinishedEvent:
		m.finished = true
		m.success = msg.Success
		m.elapsed = msg.Duration
		m.running = 0
	}

	return m, nil
}

// View renders the progress pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Build Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	built := m.done - m.failed - m.upToDate
	b.WriteString(fmt.Sprintf("Required:   %d\n", m.required))
	b.WriteString(fmt.Sprintf("Built:      %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", built))))
	b.WriteString(fmt.Sprintf("Up to date: %s\n", StyleStatusUpToDate.Render(fmt.Sprintf("%d", m.upToDate))))
	b.WriteString(fmt.Sprintf("Running:    %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:     %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString("\n")

	if m.required > 0 {
		barWidth := min(m.width-4, 40)
		doneWidth := ((m.done - m.failed) * barWidth) / m.required
		failedWidth := (m.failed * barWidth) / m.required
		runningWidth := (m.running * barWidth) / m.required
		pendingWidth := barWidth - doneWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.done, m.required))
	}

	if m.finished {
		if m.success {
			b.WriteString(StyleStatusComplete.Render(fmt.Sprintf("\nBuild succeeded in %v", m.elapsed.Round(time.Millisecond))))
		} else {
			b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("\nBuild failed after %v", m.elapsed.Round(time.Millisecond))))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// Finished reports whether the run has ended.
func (m DAGPaneModel) Finished() bool {
	return m.finished
}
