package storage

import (
	"time"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// SampleTasks returns the demo board used by the seed command and endpoint.
func SampleTasks() []domain.Task {
	str := func(s string) *string { return &s }
	due := domain.Now().Add(7 * 24 * time.Hour)
	return []domain.Task{
		{Title: "Design board layout", Description: "Sketch the three column layout and card states", Priority: domain.PriorityHigh, ColumnID: domain.ColumnTodo, Position: 0, Tags: []string{"design"}, DueDate: &due},
		{Title: "Write API docs", Description: "Document every task endpoint", Priority: domain.PriorityMedium, ColumnID: domain.ColumnTodo, Position: 1, Tags: []string{"docs"}},
		{Title: "Add keyboard shortcuts", Priority: domain.PriorityLow, ColumnID: domain.ColumnTodo, Position: 2, Tags: []string{"ux", "frontend"}},
		{Title: "Implement move endpoint", Description: "Reindex positions when cards move", Priority: domain.PriorityHigh, ColumnID: domain.ColumnInProgress, Position: 0, AssignedTo: str("alex"), Tags: []string{"backend"}},
		{Title: "Broadcast board events", Priority: domain.PriorityMedium, ColumnID: domain.ColumnInProgress, Position: 1, AssignedTo: str("sam"), Tags: []string{"backend", "realtime"}},
		{Title: "Set up storage", Description: "Create tables and queues", Priority: domain.PriorityMedium, ColumnID: domain.ColumnDone, Position: 0, Tags: []string{"infra"}, IsCompleted: true},
	}
}
