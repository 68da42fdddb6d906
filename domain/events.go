package domain

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Lifecycle events broadcast to board subscribers.
const (
	EventTaskCreated = "task:created"
	EventTaskUpdated = "task:updated"
	EventTaskDeleted = "task:deleted"
	EventTaskMoved   = "task:moved"
	EventTaskSeeded  = "task:seeded"
	EventTaskCleared = "task:cleared"
)

// Inbound socket messages. Intents are relayed to other clients without
// touching storage.
const (
	JoinBoard  = "join:board"
	LeaveBoard = "leave:board"

	IntentMove   = "task:move"
	IntentCreate = "task:create"
	IntentUpdate = "task:update"
	IntentDelete = "task:delete"
)

var relayed = map[string]string{
	IntentMove:   EventTaskMoved,
	IntentCreate: EventTaskCreated,
	IntentUpdate: EventTaskUpdated,
	IntentDelete: EventTaskDeleted,
}

// RelayedEvent maps a client intent to the event it is re-broadcast as.
func RelayedEvent(intent string) (string, bool) {
	ev, ok := relayed[intent]
	return ev, ok
}

// Event is the wire form of every broadcast message.
type Event struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes payload as the data of an event of the given type.
func NewEvent(typ string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: typ, Data: json.RawMessage("{}")}, nil
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: data}, nil
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	return sonic.Unmarshal(e.Data, v)
}

// MoveRequest asks for a task to be placed at newIndex of a column.
type MoveRequest struct {
	TaskID              string   `json:"taskId"`
	SourceColumnID      ColumnID `json:"sourceColumnId"`
	DestinationColumnID ColumnID `json:"destinationColumnId"`
	NewIndex            int      `json:"newIndex"`
}

// TaskPayload is the data of task:created and task:updated.
type TaskPayload struct {
	Task Task `json:"task"`
}

// DeletedPayload is the data of task:deleted.
type DeletedPayload struct {
	TaskID string `json:"taskId"`
}

// MovedPayload is the data of task:moved. Task is absent on relayed intents
// that did not carry it.
type MovedPayload struct {
	TaskID              string   `json:"taskId"`
	SourceColumnID      ColumnID `json:"sourceColumnId"`
	DestinationColumnID ColumnID `json:"destinationColumnId"`
	NewIndex            int      `json:"newIndex"`
	Task                *Task    `json:"task,omitempty"`
}

// SeededPayload is the data of task:seeded.
type SeededPayload struct {
	Tasks []Task `json:"tasks"`
}
