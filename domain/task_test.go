package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestTaskMarshalIncludesZeroPosition(t *testing.T) {
	task := Task{ID: "t1", Title: "Title", ColumnID: ColumnTodo, Position: 0}

	payload, err := sonic.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}

	if !strings.Contains(string(payload), "\"position\":0") {
		t.Fatalf("expected position field to be present, got %s", payload)
	}
	if !strings.Contains(string(payload), "\"columnId\":\"todo\"") {
		t.Fatalf("expected camel case column id, got %s", payload)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	blank := "  "
	task := Task{Title: "  Write docs ", AssignedTo: &blank}
	task.Normalize()

	if task.Title != "Write docs" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Priority != PriorityMedium || task.ColumnID != ColumnTodo {
		t.Fatalf("unexpected defaults: %s %s", task.Priority, task.ColumnID)
	}
	if task.Tags == nil || task.AssignedTo != nil {
		t.Fatalf("expected empty tags and no assignee, got %v %v", task.Tags, task.AssignedTo)
	}
}

func TestGroupByColumnOrdersAndKeepsEmptyColumns(t *testing.T) {
	now := time.Now()
	tasks := []Task{
		{ID: "b", ColumnID: ColumnTodo, Position: 1, CreatedAt: now},
		{ID: "a", ColumnID: ColumnTodo, Position: 0, CreatedAt: now},
		{ID: "z", ColumnID: "archive", Position: 0},
		{ID: "d", ColumnID: ColumnDone, Position: 0, CreatedAt: now.Add(time.Second)},
		{ID: "c", ColumnID: ColumnDone, Position: 0, CreatedAt: now},
	}

	cols := GroupByColumn(tasks)

	if len(cols) != 3 {
		t.Fatalf("expected three columns, got %d", len(cols))
	}
	if got := ids(cols[ColumnTodo].Tasks); got != "a,b" {
		t.Fatalf("unexpected todo order %s", got)
	}
	if got := ids(cols[ColumnDone].Tasks); got != "c,d" {
		t.Fatalf("expected created at to break position ties, got %s", got)
	}
	if cols[ColumnInProgress].Tasks == nil || cols[ColumnInProgress].Title != "In Progress" {
		t.Fatalf("unexpected empty column %+v", cols[ColumnInProgress])
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"title": "required", "newIndex": "negative"}}
	if got := err.Error(); got != "validation failed: newIndex: negative; title: required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRelayedEvent(t *testing.T) {
	if ev, ok := RelayedEvent(IntentMove); !ok || ev != EventTaskMoved {
		t.Fatalf("expected task:move to relay as task:moved, got %q %v", ev, ok)
	}
	if _, ok := RelayedEvent(JoinBoard); ok {
		t.Fatalf("join:board must not be relayed")
	}
}

func TestNewEventEncodesPayload(t *testing.T) {
	ev, err := NewEvent(EventTaskDeleted, DeletedPayload{TaskID: "t1"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	var got DeletedPayload
	if err := ev.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.TaskID != "t1" {
		t.Fatalf("unexpected payload %+v", got)
	}

	cleared, err := NewEvent(EventTaskCleared, nil)
	if err != nil || string(cleared.Data) != "{}" {
		t.Fatalf("expected empty object data, got %s %v", cleared.Data, err)
	}
}

func ids(tasks []Task) string {
	parts := make([]string, len(tasks))
	for i, t := range tasks {
		parts[i] = t.ID
	}
	return strings.Join(parts, ",")
}
