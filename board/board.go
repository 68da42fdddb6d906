// Package board keeps a client's copy of a task board in step with the
// server. Local drags are applied optimistically and either confirmed by the
// move response or reverted; broadcast events are applied by re-deriving
// column membership and order from their payloads.
//
// A Board is not safe for concurrent use; callers own one from a single
// goroutine, as the terminal UI does.
package board

import (
	"errors"
	"fmt"
	"time"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// CardState is where a card is in the drag lifecycle.
type CardState int

const (
	Settled CardState = iota
	Dragging
	AwaitingConfirmation
	Reverted
)

func (s CardState) String() string {
	switch s {
	case Settled:
		return "settled"
	case Dragging:
		return "dragging"
	case AwaitingConfirmation:
		return "awaiting-confirmation"
	case Reverted:
		return "reverted"
	}
	return fmt.Sprintf("CardState(%d)", int(s))
}

var (
	ErrMoveInFlight = errors.New("another card is being moved")
	ErrNotDragging  = errors.New("no card is being dragged")
)

// Options size the de-duplication window and activity feed.
type Options struct {
	DedupeSize   int
	DedupeWindow time.Duration
	ActivitySize int
}

type drag struct {
	taskID string
	from   domain.ColumnID
	index  int
	// snapshot is the board before the drop was applied.
	snapshot map[string]domain.Task
	// journal holds events applied since the drop, replayed on revert.
	journal  []domain.Event
	awaiting bool
}

// Board is the client's copy of one board plus the state of its cards.
// It is not safe for concurrent use.
type Board struct {
	tasks    map[string]domain.Task
	states   map[string]CardState
	drag     *drag
	dedupe   *Deduper
	activity *Activity
}

// New returns an empty board; zero options fall back to the defaults.
func New(opts Options) *Board {
	return &Board{
		tasks:    make(map[string]domain.Task),
		states:   make(map[string]CardState),
		dedupe:   NewDeduper(opts.DedupeSize, opts.DedupeWindow),
		activity: NewActivity(opts.ActivitySize),
	}
}

// Load replaces the board with a fresh server listing and abandons any drag.
func (b *Board) Load(cols domain.BoardColumns) {
	b.tasks = make(map[string]domain.Task)
	b.states = make(map[string]CardState)
	b.drag = nil
	for _, col := range cols {
		for _, t := range col.Tasks {
			b.tasks[t.ID] = t
		}
	}
}

// Columns returns every column with its cards in display order.
func (b *Board) Columns() domain.BoardColumns {
	all := make([]domain.Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		all = append(all, t)
	}
	return domain.GroupByColumn(all)
}

// Column returns the cards of one column in display order.
func (b *Board) Column(id domain.ColumnID) []domain.Task {
	var out []domain.Task
	for _, t := range b.tasks {
		if t.ColumnID == id {
			out = append(out, t)
		}
	}
	domain.SortByPosition(out)
	return out
}

// Task looks up a card by id.
func (b *Board) Task(id string) (domain.Task, bool) {
	t, ok := b.tasks[id]
	return t, ok
}

// Len returns the number of cards on the board.
func (b *Board) Len() int { return len(b.tasks) }

// State returns the card's drag state, Settled for unknown ids.
func (b *Board) State(id string) CardState {
	return b.states[id]
}

// Activity returns the feed, newest first.
func (b *Board) Activity() []Entry { return b.activity.Entries() }

// Note adds an informational line to the activity feed.
func (b *Board) Note(format string, args ...any) { b.activity.Add(format, args...) }

// Failed adds a failure line to the activity feed.
func (b *Board) Failed(format string, args ...any) { b.activity.Fail(format, args...) }

// BeginDrag picks up a card. Only one card can be in flight at a time.
func (b *Board) BeginDrag(id string) error {
	if b.drag != nil {
		return ErrMoveInFlight
	}
	t, ok := b.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.drag = &drag{taskID: id, from: t.ColumnID, index: b.indexOf(t)}
	b.states[id] = Dragging
	return nil
}

// CancelDrag puts the card down where it was picked up.
func (b *Board) CancelDrag() {
	if b.drag == nil || b.drag.awaiting {
		return
	}
	delete(b.states, b.drag.taskID)
	b.drag = nil
}

// Drop places the dragged card at index of column to and returns the move
// request to send. send is false when the card was dropped where it was
// picked up; the card is settled and nothing needs to be sent.
func (b *Board) Drop(to domain.ColumnID, index int) (req domain.MoveRequest, send bool, err error) {
	d := b.drag
	if d == nil || d.awaiting {
		return domain.MoveRequest{}, false, ErrNotDragging
	}
	if !to.Valid() {
		return domain.MoveRequest{}, false, domain.NewValidationError("destinationColumnId", "Invalid column")
	}
	t, ok := b.tasks[d.taskID]
	if !ok {
		// Deleted by a broadcast while being dragged.
		b.drag = nil
		return domain.MoveRequest{}, false, domain.ErrNotFound
	}
	if index < 0 {
		index = 0
	}
	// A broadcast may have moved the card since it was picked up.
	d.from, d.index = t.ColumnID, b.indexOf(t)
	if to == t.ColumnID {
		last := len(b.Column(to)) - 1
		if index > last {
			index = last
		}
		if index == d.index {
			delete(b.states, t.ID)
			b.drag = nil
			return domain.MoveRequest{}, false, nil
		}
	}

	d.snapshot = b.copyTasks()
	d.awaiting = true
	b.place(t, to, index)
	b.states[t.ID] = AwaitingConfirmation
	return domain.MoveRequest{
		TaskID:              t.ID,
		SourceColumnID:      d.from,
		DestinationColumnID: to,
		NewIndex:            b.indexOf(b.tasks[t.ID]),
	}, true, nil
}

// InFlight returns the id of the card awaiting confirmation, if any.
func (b *Board) InFlight() (string, bool) {
	if b.drag == nil || !b.drag.awaiting {
		return "", false
	}
	return b.drag.taskID, true
}

// Confirm settles the in-flight card at the placement the server stored.
// The matching task:moved broadcast is suppressed when it arrives.
func (b *Board) Confirm(task domain.Task) error {
	d := b.drag
	if d == nil || !d.awaiting || d.taskID != task.ID {
		return ErrNotDragging
	}
	b.drag = nil
	delete(b.states, task.ID)
	if _, ok := b.tasks[task.ID]; !ok {
		// Deleted or cleared while the request was in flight.
		return nil
	}
	b.place(task, task.ColumnID, task.Position)
	if ev, err := domain.NewEvent(domain.EventTaskMoved, domain.MovedPayload{
		TaskID:              task.ID,
		SourceColumnID:      d.from,
		DestinationColumnID: task.ColumnID,
		NewIndex:            task.Position,
		Task:                &task,
	}); err == nil {
		b.dedupe.Seen(ev)
	}
	b.activity.Add("Moved %q to %s", task.Title, task.ColumnID.Title())
	return nil
}

// Revert rolls the board back to before the drop and re-applies the events
// received since, then marks the card reverted.
func (b *Board) Revert(cause error) {
	d := b.drag
	if d == nil || !d.awaiting {
		return
	}
	b.drag = nil
	b.tasks = d.snapshot
	for _, ev := range d.journal {
		_, _ = b.apply(ev)
	}
	delete(b.states, d.taskID)
	title := d.taskID
	if t, ok := b.tasks[d.taskID]; ok {
		title = t.Title
		b.states[d.taskID] = Reverted
	}
	b.activity.Fail("Move of %q failed, reverted: %v", title, cause)
}

// Apply reconciles one broadcast event. It reports whether the board
// changed; duplicates within the de-duplication window and events for
// unknown tasks without a task record are ignored.
func (b *Board) Apply(ev domain.Event) bool {
	if b.dedupe.Seen(ev) {
		return false
	}
	if b.drag != nil && b.drag.awaiting {
		b.drag.journal = append(b.drag.journal, ev)
	}
	msg, changed := b.apply(ev)
	if changed && msg != "" {
		b.activity.Add("%s", msg)
	}
	return changed
}

func (b *Board) apply(ev domain.Event) (string, bool) {
	switch ev.Type {
	case domain.EventTaskCreated:
		var p domain.TaskPayload
		if err := ev.Decode(&p); err != nil || p.Task.ID == "" {
			return "", false
		}
		_, existed := b.tasks[p.Task.ID]
		b.place(p.Task, p.Task.ColumnID, p.Task.Position)
		if existed {
			return "", true
		}
		return fmt.Sprintf("Created %q", p.Task.Title), true

	case domain.EventTaskUpdated:
		var p domain.TaskPayload
		if err := ev.Decode(&p); err != nil || p.Task.ID == "" {
			return "", false
		}
		t := p.Task
		if local, ok := b.tasks[t.ID]; ok && local.ColumnID == t.ColumnID {
			t.Position = local.Position
			b.tasks[t.ID] = t
		} else {
			b.place(t, t.ColumnID, b.rank(t))
		}
		return fmt.Sprintf("Updated %q", t.Title), true

	case domain.EventTaskDeleted:
		var p domain.DeletedPayload
		if err := ev.Decode(&p); err != nil {
			return "", false
		}
		t, ok := b.tasks[p.TaskID]
		if !ok {
			return "", false
		}
		delete(b.tasks, p.TaskID)
		delete(b.states, p.TaskID)
		return fmt.Sprintf("Deleted %q", t.Title), true

	case domain.EventTaskMoved:
		var p domain.MovedPayload
		if err := ev.Decode(&p); err != nil || !p.DestinationColumnID.Valid() {
			return "", false
		}
		var t domain.Task
		if p.Task != nil {
			t = *p.Task
		} else if local, ok := b.tasks[p.TaskID]; ok {
			t = local
		} else {
			return "", false
		}
		if t.ID == "" {
			t.ID = p.TaskID
		}
		b.place(t, p.DestinationColumnID, p.NewIndex)
		return fmt.Sprintf("Moved %q to %s", t.Title, p.DestinationColumnID.Title()), true

	case domain.EventTaskSeeded:
		var p domain.SeededPayload
		if err := ev.Decode(&p); err != nil {
			return "", false
		}
		b.tasks = make(map[string]domain.Task, len(p.Tasks))
		for _, t := range p.Tasks {
			b.tasks[t.ID] = t
		}
		b.states = make(map[string]CardState)
		return fmt.Sprintf("Board seeded with %d tasks", len(p.Tasks)), true

	case domain.EventTaskCleared:
		b.tasks = make(map[string]domain.Task)
		b.states = make(map[string]CardState)
		return "Board cleared", true
	}
	return "", false
}

// place puts t at display index of column to, shifting the other cards of
// the affected columns the same way the server does.
func (b *Board) place(t domain.Task, to domain.ColumnID, index int) {
	if index < 0 {
		index = 0
	}
	if local, ok := b.tasks[t.ID]; ok {
		plan := domain.Reposition(local, b.Column(local.ColumnID), b.Column(to), to, index)
		b.applyPlacements(plan.Siblings)
		t.ColumnID = plan.Moved.ColumnID
		t.Position = plan.Moved.Position
		b.tasks[t.ID] = t
		return
	}
	idx, shifts := domain.Insert(b.Column(to), index)
	b.applyPlacements(shifts)
	t.ColumnID = to
	t.Position = idx
	b.tasks[t.ID] = t
}

func (b *Board) applyPlacements(ps []domain.Placement) {
	for _, p := range ps {
		if t, ok := b.tasks[p.TaskID]; ok {
			t.ColumnID = p.ColumnID
			t.Position = p.Position
			b.tasks[p.TaskID] = t
		}
	}
}

// indexOf is the display index of t in its column.
func (b *Board) indexOf(t domain.Task) int {
	for i, other := range b.Column(t.ColumnID) {
		if other.ID == t.ID {
			return i
		}
	}
	return -1
}

// rank converts a stored position into a display index among the other
// cards of t's column. Stored positions may have gaps after deletes.
func (b *Board) rank(t domain.Task) int {
	n := 0
	for _, other := range b.tasks {
		if other.ID != t.ID && other.ColumnID == t.ColumnID && other.Position < t.Position {
			n++
		}
	}
	return n
}

func (b *Board) copyTasks() map[string]domain.Task {
	out := make(map[string]domain.Task, len(b.tasks))
	for id, t := range b.tasks {
		out[id] = t
	}
	return out
}
