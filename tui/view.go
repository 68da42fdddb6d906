package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nakulsingh04/kanban-board-project/board"
	"github.com/nakulsingh04/kanban-board-project/domain"
)

func ac(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	colorMuted      = ac("240", "243")
	colorSelectedBg = ac("#e9e9e9", "#262626")
	colorSelectedFg = ac("235", "255")
	colorHeaderBg   = ac("252", "235")
	colorAccent     = ac("27", "62")
	colorError      = ac("160", "203")
	colorPending    = ac("136", "178")

	priorityColors = map[domain.Priority]lipgloss.AdaptiveColor{
		domain.PriorityLow:    ac("28", "114"),
		domain.PriorityMedium: ac("136", "178"),
		domain.PriorityHigh:   ac("160", "203"),
	}

	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)
	styleError    = lipgloss.NewStyle().Foreground(colorError)
	styleTitle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleHeader   = lipgloss.NewStyle().Bold(true).Background(colorHeaderBg).Padding(0, 1)
	styleHeaderOn = styleHeader.Foreground(colorSelectedFg).Background(colorSelectedBg)
)

const helpLine = "h/l column  j/k card  H/L move  J/K reorder  n new  x done  d delete  p priority  / search  r reload  q quit"

func (m model) View() string {
	var b strings.Builder
	title := "Task board"
	if m.boardID != "" {
		title += " · " + m.boardID
	}
	b.WriteString(styleTitle.Render(title))
	if m.live {
		b.WriteString(styleMuted.Render("  live"))
	} else {
		b.WriteString(styleError.Render("  offline"))
	}
	if m.loading {
		b.WriteString(styleMuted.Render("  loading…"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderColumns())
	b.WriteString("\n\n")

	if line := m.filterLine(); line != "" {
		b.WriteString(styleMuted.Render(line))
		b.WriteString("\n")
	}
	if m.mode != modeNormal {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	for _, e := range m.board.Activity() {
		line := e.Time.Format("15:04:05") + " " + e.Message
		if e.Failure {
			b.WriteString(styleError.Render(line))
		} else {
			b.WriteString(styleMuted.Render(line))
		}
		b.WriteString("\n")
		if m.height > 0 && strings.Count(b.String(), "\n") >= m.height-2 {
			break
		}
	}
	b.WriteString(styleMuted.Render(helpLine))
	return b.String()
}

func (m model) columnWidth() int {
	gap := 2
	w := m.width
	if w <= 0 {
		w = 96
	}
	colW := (w - gap*(len(domain.Columns)-1)) / len(domain.Columns)
	if colW < 16 {
		colW = 16
	}
	return colW
}

func (m model) renderColumns() string {
	colW := m.columnWidth()
	rendered := make([]string, 0, len(domain.Columns))
	for i, id := range domain.Columns {
		rendered = append(rendered, m.renderColumn(i, id, colW))
	}
	out := rendered[0]
	for _, r := range rendered[1:] {
		out = lipgloss.JoinHorizontal(lipgloss.Top, out, "  ", r)
	}
	return out
}

func (m model) renderColumn(i int, id domain.ColumnID, colW int) string {
	cards := m.visible(i)
	total := len(m.board.Column(id))
	head := fmt.Sprintf("%s (%d)", id.Title(), total)
	if len(cards) != total {
		head = fmt.Sprintf("%s (%d/%d)", id.Title(), len(cards), total)
	}
	hs := styleHeader
	if i == m.col {
		hs = styleHeaderOn
	}
	lines := []string{hs.Width(colW).Render(truncate(head, colW-2))}
	if len(cards) == 0 {
		lines = append(lines, styleMuted.Render(" (empty)"))
	}
	for r, t := range cards {
		lines = append(lines, m.renderCard(t, colW, i == m.col && r == m.row))
	}
	return lipgloss.NewStyle().Width(colW).Render(strings.Join(lines, "\n"))
}

func (m model) renderCard(t domain.Task, colW int, selected bool) string {
	check := "[ ]"
	if t.IsCompleted {
		check = "[x]"
	}
	marker := ""
	switch m.board.State(t.ID) {
	case board.Dragging:
		marker = " ~"
	case board.AwaitingConfirmation:
		marker = " …"
	case board.Reverted:
		marker = " !"
	}
	title := truncate(t.Title, colW-len(check)-len(marker)-3)
	line := fmt.Sprintf("%s %s%s", check, title, marker)

	meta := string(t.Priority)
	if t.AssignedTo != nil {
		meta += " @" + *t.AssignedTo
	}
	if len(t.Tags) > 0 {
		meta += " #" + strings.Join(t.Tags, " #")
	}
	meta = lipgloss.NewStyle().Foreground(priorityColors[t.Priority]).Render(truncate(meta, colW-2))

	st := lipgloss.NewStyle().Width(colW).Padding(0, 1)
	switch {
	case selected:
		st = st.Foreground(colorSelectedFg).Background(colorSelectedBg).Bold(true)
	case m.board.State(t.ID) == board.Reverted:
		st = st.Foreground(colorError)
	case m.board.State(t.ID) != board.Settled:
		st = st.Foreground(colorPending)
	}
	return st.Render(line + "\n" + meta)
}

func (m model) filterLine() string {
	var parts []string
	if m.filter.Search != "" {
		parts = append(parts, fmt.Sprintf("search %q", m.filter.Search))
	}
	if m.filter.Priority != "" {
		parts = append(parts, "priority "+string(m.filter.Priority))
	}
	if len(parts) == 0 {
		return ""
	}
	return "filter: " + strings.Join(parts, ", ")
}

func truncate(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
