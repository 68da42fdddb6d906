package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/nakulsingh04/kanban-board-project/board"
	"github.com/nakulsingh04/kanban-board-project/client"
	"github.com/nakulsingh04/kanban-board-project/domain"
)

// API is the part of client.Client the board UI calls.
type API interface {
	ListTasks(ctx context.Context) (domain.BoardColumns, error)
	CreateTask(ctx context.Context, t client.NewTask, idempotencyKey string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, u client.TaskUpdate) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	MoveTask(ctx context.Context, req domain.MoveRequest) (domain.Task, error)
}

// Options configure the board UI.
type Options struct {
	API API
	// Events is the broadcast stream; nil runs without live updates.
	Events <-chan domain.Event
	// Emit relays a confirmed move to the other clients of the board.
	Emit        func(intent string, payload any) error
	BoardID     string
	MoveTimeout time.Duration
	Board       board.Options
}

type mode int

const (
	modeNormal mode = iota
	modeAdd
	modeSearch
)

type (
	loadedMsg struct {
		cols domain.BoardColumns
		err  error
	}
	eventMsg     struct{ ev domain.Event }
	streamEndMsg struct{}
	moveDoneMsg  struct {
		id   string
		task domain.Task
		err  error
	}
	createdMsg struct {
		task domain.Task
		err  error
	}
	updatedMsg struct {
		task domain.Task
		err  error
	}
	deletedMsg struct {
		id    string
		title string
		err   error
	}
)

var priorityCycle = []domain.Priority{"", domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh}

type model struct {
	api         API
	events      <-chan domain.Event
	emit        func(string, any) error
	boardID     string
	moveTimeout time.Duration

	board  *board.Board
	filter board.Filter

	// col indexes domain.Columns; row indexes the visible cards of that column.
	col int
	row int

	mode  mode
	input textinput.Model

	loading bool
	live    bool
	width   int
	height  int
}

func newModel(opts Options) model {
	in := textinput.New()
	in.CharLimit = domain.DefaultLimits.MaxTitleLength
	in.Width = 40
	timeout := opts.MoveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return model{
		api:         opts.API,
		events:      opts.Events,
		emit:        opts.Emit,
		boardID:     opts.BoardID,
		moveTimeout: timeout,
		board:       board.New(opts.Board),
		input:       in,
		loading:     true,
		live:        opts.Events != nil,
	}
}

func (m model) Init() tea.Cmd {
	if m.events == nil {
		return m.load()
	}
	return tea.Batch(m.load(), m.waitForEvent())
}

func (m model) load() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cols, err := api.ListTasks(ctx)
		return loadedMsg{cols: cols, err: err}
	}
}

func (m model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamEndMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case loadedMsg:
		m.loading = false
		if msg.err != nil {
			m.board.Failed("Load failed: %v", msg.err)
			return m, nil
		}
		m.board.Load(msg.cols)
		m.clampCursor()
		return m, nil

	case eventMsg:
		if msg.ev.Type == client.EventReconnected {
			m.board.Note("Live updates reconnected, reloading")
			return m, tea.Batch(m.load(), m.waitForEvent())
		}
		m.board.Apply(msg.ev)
		m.clampCursor()
		return m, m.waitForEvent()

	case streamEndMsg:
		m.live = false
		m.board.Failed("Live updates disconnected, press r to reload")
		return m, nil

	case moveDoneMsg:
		if msg.err != nil {
			m.board.Revert(msg.err)
		} else if err := m.board.Confirm(msg.task); err != nil {
			// No longer in flight; the task:moved broadcast carries the result.
			m.board.Note("Late move response for %q", msg.task.Title)
		}
		m.follow(msg.id)
		return m, nil

	case createdMsg:
		if msg.err != nil {
			m.board.Failed("Create failed: %v", msg.err)
			return m, nil
		}
		m.applyOwn(domain.EventTaskCreated, domain.TaskPayload{Task: msg.task})
		m.follow(msg.task.ID)
		return m, nil

	case updatedMsg:
		if msg.err != nil {
			m.board.Failed("Update failed: %v", msg.err)
			return m, nil
		}
		m.applyOwn(domain.EventTaskUpdated, domain.TaskPayload{Task: msg.task})
		return m, nil

	case deletedMsg:
		if msg.err != nil && !errors.Is(msg.err, domain.ErrNotFound) {
			m.board.Failed("Delete of %q failed: %v", msg.title, msg.err)
			return m, nil
		}
		m.applyOwn(domain.EventTaskDeleted, domain.DeletedPayload{TaskID: msg.id})
		m.clampCursor()
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeAdd, modeSearch:
			return m.updateInput(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

// applyOwn applies the result of this client's own request as the event the
// server broadcasts for it, so the broadcast copy is suppressed as a
// duplicate.
func (m *model) applyOwn(typ string, payload any) {
	ev, err := domain.NewEvent(typ, payload)
	if err != nil {
		return
	}
	m.board.Apply(ev)
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == modeSearch {
			m.filter.Search = ""
		}
		m.mode = modeNormal
		m.input.Blur()
		m.input.SetValue("")
		m.clampCursor()
		return m, nil
	case "enter":
		value := m.input.Value()
		current := m.mode
		m.mode = modeNormal
		m.input.Blur()
		m.input.SetValue("")
		if current == modeSearch {
			m.filter.Search = value
			m.row = 0
			m.clampCursor()
			return m, nil
		}
		return m, m.create(value, domain.Columns[m.col])
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == modeSearch {
		m.filter.Search = m.input.Value()
		m.clampCursor()
	}
	return m, cmd
}

func (m model) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left", "h":
		if m.col > 0 {
			m.col--
			m.clampCursor()
		}
	case "right", "l":
		if m.col < len(domain.Columns)-1 {
			m.col++
			m.clampCursor()
		}
	case "up", "k":
		if m.row > 0 {
			m.row--
		}
	case "down", "j":
		if m.row < len(m.visible(m.col))-1 {
			m.row++
		}
	case "H":
		return m.moveAcross(-1)
	case "L":
		return m.moveAcross(1)
	case "K":
		return m.reorder(-1)
	case "J":
		return m.reorder(1)
	case "n":
		m.mode = modeAdd
		m.input.Placeholder = "New task in " + domain.Columns[m.col].Title()
		cmd := m.input.Focus()
		return m, cmd
	case "/":
		m.mode = modeSearch
		m.input.Placeholder = "Search tasks"
		m.input.SetValue(m.filter.Search)
		cmd := m.input.Focus()
		return m, cmd
	case "p":
		m.filter.Priority = nextPriority(m.filter.Priority)
		m.clampCursor()
	case "x":
		if t, ok := m.selected(); ok {
			done := !t.IsCompleted
			return m, m.update(t.ID, client.TaskUpdate{IsCompleted: &done})
		}
	case "d":
		if t, ok := m.selected(); ok {
			return m, m.remove(t)
		}
	case "r":
		m.loading = true
		return m, m.load()
	}
	return m, nil
}

func nextPriority(p domain.Priority) domain.Priority {
	for i, v := range priorityCycle {
		if v == p {
			return priorityCycle[(i+1)%len(priorityCycle)]
		}
	}
	return ""
}

// moveAcross drops the selected card into the neighbouring column at the
// cursor's row.
func (m model) moveAcross(dir int) (tea.Model, tea.Cmd) {
	t, ok := m.selected()
	to := m.col + dir
	if !ok || to < 0 || to >= len(domain.Columns) {
		return m, nil
	}
	dest := m.visible(to)
	index := len(m.board.Column(domain.Columns[to]))
	if m.row < len(dest) {
		index = m.fullIndex(dest[m.row])
	}
	return m.drop(t, domain.Columns[to], index)
}

// reorder swaps the selected card with its visible neighbour.
func (m model) reorder(dir int) (tea.Model, tea.Cmd) {
	t, ok := m.selected()
	vis := m.visible(m.col)
	n := m.row + dir
	if !ok || n < 0 || n >= len(vis) {
		return m, nil
	}
	return m.drop(t, domain.Columns[m.col], m.fullIndex(vis[n]))
}

func (m model) drop(t domain.Task, to domain.ColumnID, index int) (tea.Model, tea.Cmd) {
	if err := m.board.BeginDrag(t.ID); err != nil {
		m.board.Failed("Cannot move %q: %v", t.Title, err)
		return m, nil
	}
	req, send, err := m.board.Drop(to, index)
	if err != nil {
		m.board.CancelDrag()
		m.board.Failed("Cannot move %q: %v", t.Title, err)
		return m, nil
	}
	m.follow(t.ID)
	if !send {
		return m, nil
	}
	return m, m.move(req)
}

func (m model) move(req domain.MoveRequest) tea.Cmd {
	api, emit, timeout := m.api, m.emit, m.moveTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		task, err := api.MoveTask(ctx, req)
		if err == nil && emit != nil {
			relayed := req
			relayed.DestinationColumnID = task.ColumnID
			relayed.NewIndex = task.Position
			// Best effort: peers also get the server's own broadcast.
			_ = emit(domain.IntentMove, relayed)
		}
		return moveDoneMsg{id: req.TaskID, task: task, err: err}
	}
}

func (m model) create(title string, column domain.ColumnID) tea.Cmd {
	api := m.api
	key := uuid.NewString()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		task, err := api.CreateTask(ctx, client.NewTask{Title: title, ColumnID: column}, key)
		return createdMsg{task: task, err: err}
	}
}

func (m model) update(id string, u client.TaskUpdate) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		task, err := api.UpdateTask(ctx, id, u)
		return updatedMsg{task: task, err: err}
	}
}

func (m model) remove(t domain.Task) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return deletedMsg{id: t.ID, title: t.Title, err: api.DeleteTask(ctx, t.ID)}
	}
}

// visible returns the cards of column i that pass the filter.
func (m model) visible(i int) []domain.Task {
	var out []domain.Task
	for _, t := range m.board.Column(domain.Columns[i]) {
		if m.filter.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m model) selected() (domain.Task, bool) {
	vis := m.visible(m.col)
	if m.row < 0 || m.row >= len(vis) {
		return domain.Task{}, false
	}
	return vis[m.row], true
}

func (m model) fullIndex(t domain.Task) int {
	for i, other := range m.board.Column(t.ColumnID) {
		if other.ID == t.ID {
			return i
		}
	}
	return 0
}

// follow moves the cursor onto the card with id when it is visible.
func (m *model) follow(id string) {
	t, ok := m.board.Task(id)
	if !ok {
		m.clampCursor()
		return
	}
	for ci, col := range domain.Columns {
		if col != t.ColumnID {
			continue
		}
		for ri, v := range m.visible(ci) {
			if v.ID == id {
				m.col, m.row = ci, ri
				return
			}
		}
	}
	m.clampCursor()
}

func (m *model) clampCursor() {
	n := len(m.visible(m.col))
	if m.row >= n {
		m.row = n - 1
	}
	if m.row < 0 {
		m.row = 0
	}
}
