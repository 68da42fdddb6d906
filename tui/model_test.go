package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nakulsingh04/kanban-board-project/board"
	"github.com/nakulsingh04/kanban-board-project/client"
	"github.com/nakulsingh04/kanban-board-project/domain"
)

type fakeAPI struct {
	tasks   []domain.Task
	moves   []domain.MoveRequest
	moveErr error
	created []client.NewTask
	deleted []string
}

func (f *fakeAPI) ListTasks(context.Context) (domain.BoardColumns, error) {
	return domain.GroupByColumn(f.tasks), nil
}

func (f *fakeAPI) CreateTask(_ context.Context, t client.NewTask, _ string) (domain.Task, error) {
	f.created = append(f.created, t)
	return domain.Task{ID: "N", Title: t.Title, ColumnID: t.ColumnID, Position: 2, Priority: domain.PriorityMedium, Tags: []string{}}, nil
}

func (f *fakeAPI) UpdateTask(_ context.Context, id string, u client.TaskUpdate) (domain.Task, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			if u.IsCompleted != nil {
				t.IsCompleted = *u.IsCompleted
			}
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrNotFound
}

func (f *fakeAPI) DeleteTask(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) MoveTask(_ context.Context, req domain.MoveRequest) (domain.Task, error) {
	f.moves = append(f.moves, req)
	if f.moveErr != nil {
		return domain.Task{}, f.moveErr
	}
	for _, t := range f.tasks {
		if t.ID == req.TaskID {
			t.ColumnID = req.DestinationColumnID
			t.Position = req.NewIndex
			return t, nil
		}
	}
	return domain.Task{}, domain.ErrNotFound
}

func card(id string, col domain.ColumnID, pos int, p domain.Priority) domain.Task {
	return domain.Task{ID: id, Title: id, ColumnID: col, Position: pos, Priority: p, Tags: []string{}}
}

func newLoadedModel(t *testing.T, api *fakeAPI, opts Options) model {
	t.Helper()
	opts.API = api
	m := newModel(opts)
	next, _ := m.Update(m.load()())
	m = next.(model)
	if m.loading || m.board.Len() != len(api.tasks) {
		t.Fatalf("board not loaded: %d tasks", m.board.Len())
	}
	return m
}

func standardAPI() *fakeAPI {
	return &fakeAPI{tasks: []domain.Task{
		card("Alpha", domain.ColumnTodo, 0, domain.PriorityLow),
		card("Beta", domain.ColumnTodo, 1, domain.PriorityHigh),
		card("Gamma", domain.ColumnDone, 0, domain.PriorityMedium),
	}}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m model, keys ...string) (model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(key(k))
		m = next.(model)
	}
	return m, cmd
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	if cmd == nil {
		t.Fatalf("expected a command")
	}
	next, _ := m.Update(cmd())
	return next.(model)
}

func ids(tasks []domain.Task) string {
	var out []string
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return strings.Join(out, ",")
}

func TestReorderSendsMoveAndSettles(t *testing.T) {
	api := standardAPI()
	var relayed []string
	m := newLoadedModel(t, api, Options{Emit: func(intent string, _ any) error {
		relayed = append(relayed, intent)
		return nil
	}})

	m, cmd := press(t, m, "J")
	if got := ids(m.board.Column(domain.ColumnTodo)); got != "Beta,Alpha" {
		t.Fatalf("expected optimistic order Beta,Alpha, got %s", got)
	}
	if m.board.State("Alpha") != board.AwaitingConfirmation {
		t.Fatalf("expected awaiting confirmation, got %s", m.board.State("Alpha"))
	}

	m = run(t, m, cmd)
	if len(api.moves) != 1 || api.moves[0].NewIndex != 1 || api.moves[0].SourceColumnID != domain.ColumnTodo {
		t.Fatalf("unexpected move requests %+v", api.moves)
	}
	if m.board.State("Alpha") != board.Settled {
		t.Fatalf("expected settled, got %s", m.board.State("Alpha"))
	}
	if len(relayed) != 1 || relayed[0] != domain.IntentMove {
		t.Fatalf("expected one task:move relay, got %v", relayed)
	}
	if sel, _ := m.selected(); sel.ID != "Alpha" {
		t.Fatalf("cursor did not follow the moved card, on %q", sel.ID)
	}
}

func TestFailedMoveReverts(t *testing.T) {
	api := standardAPI()
	api.moveErr = errors.New("boom")
	m := newLoadedModel(t, api, Options{})

	m, cmd := press(t, m, "L")
	if n := len(m.board.Column(domain.ColumnInProgress)); n != 1 {
		t.Fatalf("expected the card in progress optimistically, got %d", n)
	}
	m = run(t, m, cmd)
	if got := ids(m.board.Column(domain.ColumnTodo)); got != "Alpha,Beta" {
		t.Fatalf("expected revert to Alpha,Beta, got %s", got)
	}
	if m.board.State("Alpha") != board.Reverted {
		t.Fatalf("expected reverted, got %s", m.board.State("Alpha"))
	}
	if a := m.board.Activity(); len(a) == 0 || !a[0].Failure {
		t.Fatalf("expected a failure in the activity feed, got %+v", a)
	}
}

func TestSecondMoveWhileInFlightIsRefused(t *testing.T) {
	m := newLoadedModel(t, standardAPI(), Options{})
	m, cmd := press(t, m, "J")
	if cmd == nil {
		t.Fatalf("expected a move command")
	}
	m, cmd = press(t, m, "K")
	if cmd != nil {
		t.Fatalf("a second move must not be sent while one is in flight")
	}
	if a := m.board.Activity(); len(a) == 0 || !a[0].Failure {
		t.Fatalf("expected the refusal in the activity feed")
	}
}

func TestMoveAtColumnEdgeDoesNothing(t *testing.T) {
	m := newLoadedModel(t, standardAPI(), Options{})
	if _, cmd := press(t, m, "H"); cmd != nil {
		t.Fatalf("moving left of the first column should be a no-op")
	}
	if _, cmd := press(t, m, "K"); cmd != nil {
		t.Fatalf("moving the top card up should be a no-op")
	}
}

func TestAddTaskDeduplicatesBroadcast(t *testing.T) {
	api := standardAPI()
	m := newLoadedModel(t, api, Options{})

	m, _ = press(t, m, "n", "W", "r", "i", "t", "e")
	if m.mode != modeAdd || m.input.Value() != "Write" {
		t.Fatalf("expected add mode with input, got mode %d value %q", m.mode, m.input.Value())
	}
	m, cmd := press(t, m, "enter")
	m = run(t, m, cmd)
	if len(api.created) != 1 || api.created[0].Title != "Write" || api.created[0].ColumnID != domain.ColumnTodo {
		t.Fatalf("unexpected create requests %+v", api.created)
	}
	if _, ok := m.board.Task("N"); !ok {
		t.Fatalf("created task missing from the board")
	}

	created := domain.Task{ID: "N", Title: "Write", ColumnID: domain.ColumnTodo, Position: 2, Priority: domain.PriorityMedium, Tags: []string{}}
	ev, err := domain.NewEvent(domain.EventTaskCreated, domain.TaskPayload{Task: created})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	if m.board.Apply(ev) {
		t.Fatalf("broadcast of our own create should be suppressed")
	}
}

func TestToggleAndDelete(t *testing.T) {
	api := standardAPI()
	m := newLoadedModel(t, api, Options{})

	m, cmd := press(t, m, "x")
	m = run(t, m, cmd)
	if tk, _ := m.board.Task("Alpha"); !tk.IsCompleted {
		t.Fatalf("expected Alpha completed")
	}

	m, cmd = press(t, m, "d")
	m = run(t, m, cmd)
	if len(api.deleted) != 1 || api.deleted[0] != "Alpha" {
		t.Fatalf("unexpected deletes %v", api.deleted)
	}
	if _, ok := m.board.Task("Alpha"); ok {
		t.Fatalf("deleted task still on the board")
	}
	if sel, ok := m.selected(); !ok || sel.ID != "Beta" {
		t.Fatalf("expected cursor on Beta, got %+v", sel)
	}
}

func TestFiltersLimitVisibleCards(t *testing.T) {
	m := newLoadedModel(t, standardAPI(), Options{})

	m, _ = press(t, m, "p", "p", "p")
	if m.filter.Priority != domain.PriorityHigh {
		t.Fatalf("expected high priority filter, got %q", m.filter.Priority)
	}
	if got := ids(m.visible(0)); got != "Beta" {
		t.Fatalf("expected only Beta visible, got %s", got)
	}
	if !strings.Contains(m.View(), "To Do (1/2)") {
		t.Fatalf("header should show the filtered count")
	}

	m, _ = press(t, m, "p", "/", "g")
	if m.filter.Search != "g" {
		t.Fatalf("search not live, got %q", m.filter.Search)
	}
	if got := ids(m.visible(2)); got != "Gamma" {
		t.Fatalf("expected Gamma visible, got %s", got)
	}
	if got := ids(m.visible(0)); got != "" {
		t.Fatalf("expected no todo cards, got %s", got)
	}
	m, _ = press(t, m, "esc")
	if m.filter.Search != "" || m.mode != modeNormal {
		t.Fatalf("esc should clear the search")
	}
}

func TestBroadcastEventsUpdateBoard(t *testing.T) {
	events := make(chan domain.Event, 4)
	m := newLoadedModel(t, standardAPI(), Options{Events: events})
	if !m.live {
		t.Fatalf("expected live")
	}

	ev, _ := domain.NewEvent(domain.EventTaskDeleted, domain.DeletedPayload{TaskID: "Beta"})
	events <- ev
	m = run(t, m, m.waitForEvent())
	if _, ok := m.board.Task("Beta"); ok {
		t.Fatalf("broadcast delete not applied")
	}

	events <- domain.Event{Type: client.EventReconnected}
	if _, cmd := m.Update(eventMsg{ev: <-events}); cmd == nil {
		t.Fatalf("expected a reload after reconnecting")
	}

	close(events)
	m = run(t, m, m.waitForEvent())
	if m.live {
		t.Fatalf("expected offline after the stream closed")
	}
	if !strings.Contains(m.View(), "offline") {
		t.Fatalf("view should show offline")
	}
}

func TestQuit(t *testing.T) {
	m := newLoadedModel(t, standardAPI(), Options{})
	_, cmd := press(t, m, "q")
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatalf("expected tea.QuitMsg")
	}
}
