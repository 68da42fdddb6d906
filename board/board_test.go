package board

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

func task(id string, col domain.ColumnID, pos int) domain.Task {
	return domain.Task{ID: id, Title: id, ColumnID: col, Position: pos, Priority: domain.PriorityMedium, Tags: []string{}}
}

func newBoard(t *testing.T, tasks ...domain.Task) *Board {
	t.Helper()
	b := New(Options{})
	b.Load(domain.GroupByColumn(tasks))
	return b
}

func event(t *testing.T, typ string, payload any) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(typ, payload)
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return ev
}

// order renders a column as "A@0,B@1".
func order(b *Board, col domain.ColumnID) string {
	var parts []string
	for _, t := range b.Column(col) {
		parts = append(parts, t.ID+"@"+strconv.Itoa(t.Position))
	}
	return strings.Join(parts, ",")
}

func standardBoard(t *testing.T) *Board {
	return newBoard(t,
		task("A", domain.ColumnTodo, 0),
		task("B", domain.ColumnTodo, 1),
		task("C", domain.ColumnTodo, 2),
		task("D", domain.ColumnTodo, 3),
		task("X", domain.ColumnInProgress, 0),
		task("Y", domain.ColumnInProgress, 1),
	)
}

func TestDropAtOriginIsNoop(t *testing.T) {
	b := standardBoard(t)
	if err := b.BeginDrag("B"); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if b.State("B") != Dragging {
		t.Fatalf("expected dragging, got %s", b.State("B"))
	}
	_, send, err := b.Drop(domain.ColumnTodo, 1)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if send {
		t.Fatalf("drop at the original slot must not send a request")
	}
	if b.State("B") != Settled {
		t.Fatalf("expected settled, got %s", b.State("B"))
	}
	if _, ok := b.InFlight(); ok {
		t.Fatalf("no move should be in flight")
	}
}

func TestDropPastEndOfOwnColumnAsLastCardIsNoop(t *testing.T) {
	b := standardBoard(t)
	_ = b.BeginDrag("D")
	if _, send, _ := b.Drop(domain.ColumnTodo, 99); send {
		t.Fatalf("clamped drop onto the same slot must not send")
	}
}

func TestDropAppliesOptimisticallyAndConfirm(t *testing.T) {
	b := standardBoard(t)
	_ = b.BeginDrag("C")
	req, send, err := b.Drop(domain.ColumnTodo, 0)
	if err != nil || !send {
		t.Fatalf("drop: send=%v err=%v", send, err)
	}
	want := domain.MoveRequest{TaskID: "C", SourceColumnID: domain.ColumnTodo, DestinationColumnID: domain.ColumnTodo, NewIndex: 0}
	if req != want {
		t.Fatalf("unexpected request %+v", req)
	}
	if got := order(b, domain.ColumnTodo); got != "C@0,A@1,B@2,D@3" {
		t.Fatalf("unexpected optimistic order %s", got)
	}
	if b.State("C") != AwaitingConfirmation {
		t.Fatalf("expected awaiting-confirmation, got %s", b.State("C"))
	}
	if err := b.BeginDrag("A"); !errors.Is(err, ErrMoveInFlight) {
		t.Fatalf("expected ErrMoveInFlight, got %v", err)
	}

	server := task("C", domain.ColumnTodo, 0)
	if err := b.Confirm(server); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if b.State("C") != Settled {
		t.Fatalf("expected settled, got %s", b.State("C"))
	}

	// The server's broadcast of the same move is a duplicate.
	dup := event(t, domain.EventTaskMoved, domain.MovedPayload{
		TaskID:              "C",
		SourceColumnID:      domain.ColumnTodo,
		DestinationColumnID: domain.ColumnTodo,
		NewIndex:            0,
		Task:                &server,
	})
	if b.Apply(dup) {
		t.Fatalf("broadcast duplicate of the confirmed move was applied")
	}
	if entries := b.Activity(); len(entries) != 1 || !strings.Contains(entries[0].Message, `Moved "C"`) {
		t.Fatalf("unexpected activity %+v", entries)
	}
}

func TestCrossColumnDrop(t *testing.T) {
	b := newBoard(t,
		task("A", domain.ColumnTodo, 0),
		task("B", domain.ColumnTodo, 1),
		task("C", domain.ColumnTodo, 2),
		task("X", domain.ColumnInProgress, 0),
		task("Y", domain.ColumnInProgress, 1),
	)
	_ = b.BeginDrag("B")
	req, send, err := b.Drop(domain.ColumnInProgress, 1)
	if err != nil || !send {
		t.Fatalf("drop: send=%v err=%v", send, err)
	}
	if req.SourceColumnID != domain.ColumnTodo || req.DestinationColumnID != domain.ColumnInProgress || req.NewIndex != 1 {
		t.Fatalf("unexpected request %+v", req)
	}
	if got := order(b, domain.ColumnTodo); got != "A@0,C@1" {
		t.Fatalf("unexpected source %s", got)
	}
	if got := order(b, domain.ColumnInProgress); got != "X@0,B@1,Y@2" {
		t.Fatalf("unexpected destination %s", got)
	}
}

func TestRevertRestoresSnapshotAndKeepsLaterEvents(t *testing.T) {
	b := standardBoard(t)
	_ = b.BeginDrag("A")
	if _, _, err := b.Drop(domain.ColumnInProgress, 0); err != nil {
		t.Fatalf("drop: %v", err)
	}

	created := task("Z", domain.ColumnDone, 0)
	if !b.Apply(event(t, domain.EventTaskCreated, domain.TaskPayload{Task: created})) {
		t.Fatalf("created event not applied")
	}

	b.Revert(errors.New("500 Failed to move task"))

	if got := order(b, domain.ColumnTodo); got != "A@0,B@1,C@2,D@3" {
		t.Fatalf("todo not restored: %s", got)
	}
	if got := order(b, domain.ColumnInProgress); got != "X@0,Y@1" {
		t.Fatalf("in progress not restored: %s", got)
	}
	if _, ok := b.Task("Z"); !ok {
		t.Fatalf("event received during the request was lost on revert")
	}
	if b.State("A") != Reverted {
		t.Fatalf("expected reverted, got %s", b.State("A"))
	}
	entries := b.Activity()
	if !entries[0].Failure || !strings.Contains(entries[0].Message, "reverted") {
		t.Fatalf("expected failure entry first, got %+v", entries)
	}

	// The card can be dragged again after a revert.
	if err := b.BeginDrag("A"); err != nil {
		t.Fatalf("begin drag after revert: %v", err)
	}
}

func TestConfirmAfterDeleteDoesNotResurrect(t *testing.T) {
	b := standardBoard(t)
	_ = b.BeginDrag("A")
	_, _, _ = b.Drop(domain.ColumnDone, 0)
	b.Apply(event(t, domain.EventTaskDeleted, domain.DeletedPayload{TaskID: "A"}))

	if err := b.Confirm(task("A", domain.ColumnDone, 0)); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, ok := b.Task("A"); ok {
		t.Fatalf("deleted task came back")
	}
	if err := b.Confirm(task("A", domain.ColumnDone, 0)); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
}

func TestDropErrors(t *testing.T) {
	b := standardBoard(t)
	if _, _, err := b.Drop(domain.ColumnDone, 0); !errors.Is(err, ErrNotDragging) {
		t.Fatalf("expected ErrNotDragging, got %v", err)
	}
	if err := b.BeginDrag("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = b.BeginDrag("A")
	var verr *domain.ValidationError
	if _, _, err := b.Drop("archive", 0); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	b.CancelDrag()
	if b.State("A") != Settled {
		t.Fatalf("cancel should settle the card")
	}
}

func TestDeletedTwiceRemovesOnce(t *testing.T) {
	b := standardBoard(t)
	ev := event(t, domain.EventTaskDeleted, domain.DeletedPayload{TaskID: "B"})
	if !b.Apply(ev) {
		t.Fatalf("first delete not applied")
	}
	if b.Apply(ev) {
		t.Fatalf("duplicate delete applied")
	}
	// Outside the de-duplication window a repeat is still a no-op.
	b.dedupe = NewDeduper(1, 0)
	if b.Apply(ev) {
		t.Fatalf("repeat delete changed the board")
	}
	if b.Len() != 5 {
		t.Fatalf("expected 5 tasks, got %d", b.Len())
	}
	if got := order(b, domain.ColumnTodo); got != "A@0,C@2,D@3" {
		t.Fatalf("delete must not renumber, got %s", got)
	}
}

func TestApplyRelayedMoveRederivesPlacement(t *testing.T) {
	b := standardBoard(t)
	relayed := event(t, domain.EventTaskMoved, domain.MoveRequest{
		TaskID:              "D",
		SourceColumnID:      domain.ColumnDone,
		DestinationColumnID: domain.ColumnInProgress,
		NewIndex:            1,
	})
	if !b.Apply(relayed) {
		t.Fatalf("relayed move not applied")
	}
	if got := order(b, domain.ColumnTodo); got != "A@0,B@1,C@2" {
		t.Fatalf("unexpected todo %s", got)
	}
	if got := order(b, domain.ColumnInProgress); got != "X@0,D@1,Y@2" {
		t.Fatalf("unexpected in progress %s", got)
	}

	unknown := event(t, domain.EventTaskMoved, domain.MoveRequest{TaskID: "nope", DestinationColumnID: domain.ColumnDone})
	if b.Apply(unknown) {
		t.Fatalf("move of an unknown task without a record must be ignored")
	}
}

func TestApplyMovedWithTaskRecordInsertsUnknownTask(t *testing.T) {
	b := standardBoard(t)
	rec := task("N", domain.ColumnTodo, 1)
	rec.Title = "New title"
	b.Apply(event(t, domain.EventTaskMoved, domain.MovedPayload{TaskID: "N", DestinationColumnID: domain.ColumnTodo, NewIndex: 1, Task: &rec}))
	if got := order(b, domain.ColumnTodo); got != "A@0,N@1,B@2,C@3,D@4" {
		t.Fatalf("unexpected order %s", got)
	}
	if got, _ := b.Task("N"); got.Title != "New title" {
		t.Fatalf("task record not taken from payload: %+v", got)
	}
}

func TestApplyCreatedAndUpdated(t *testing.T) {
	b := standardBoard(t)
	b.Apply(event(t, domain.EventTaskCreated, domain.TaskPayload{Task: task("N", domain.ColumnTodo, 1)}))
	if got := order(b, domain.ColumnTodo); got != "A@0,N@1,B@2,C@3,D@4" {
		t.Fatalf("create at position did not shift siblings: %s", got)
	}

	upd := task("B", domain.ColumnTodo, 2)
	upd.Title = "B renamed"
	upd.IsCompleted = true
	b.Apply(event(t, domain.EventTaskUpdated, domain.TaskPayload{Task: upd}))
	got, _ := b.Task("B")
	if got.Title != "B renamed" || !got.IsCompleted || got.Position != 2 {
		t.Fatalf("unexpected updated task %+v", got)
	}
	if order(b, domain.ColumnTodo) != "A@0,N@1,B@2,C@3,D@4" {
		t.Fatalf("update reordered the column")
	}
}

func TestApplySeededAndCleared(t *testing.T) {
	b := standardBoard(t)
	seeded := []domain.Task{task("S1", domain.ColumnDone, 0), task("S2", domain.ColumnDone, 1)}
	if !b.Apply(event(t, domain.EventTaskSeeded, domain.SeededPayload{Tasks: seeded})) {
		t.Fatalf("seed not applied")
	}
	if b.Len() != 2 || order(b, domain.ColumnDone) != "S1@0,S2@1" {
		t.Fatalf("unexpected seeded board %s", order(b, domain.ColumnDone))
	}
	if !b.Apply(event(t, domain.EventTaskCleared, nil)) || b.Len() != 0 {
		t.Fatalf("clear not applied")
	}
	if b.Apply(event(t, "task:unknown", nil)) {
		t.Fatalf("unknown events must be ignored")
	}
}

func TestCardStateString(t *testing.T) {
	for s, want := range map[CardState]string{
		Settled:              "settled",
		Dragging:             "dragging",
		AwaitingConfirmation: "awaiting-confirmation",
		Reverted:             "reverted",
		CardState(9):         "CardState(9)",
	} {
		if s.String() != want {
			t.Fatalf("%d: got %s want %s", int(s), s.String(), want)
		}
	}
}
