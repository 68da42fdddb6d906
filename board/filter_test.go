package board

import (
	"fmt"
	"testing"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

func TestFilterMatch(t *testing.T) {
	alex := "Alex"
	tk := domain.Task{
		Title:       "Write API docs",
		Description: "Document every endpoint",
		Priority:    domain.PriorityHigh,
		ColumnID:    domain.ColumnInProgress,
		AssignedTo:  &alex,
		Tags:        []string{"docs", "Backend"},
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"search title", Filter{Search: "api"}, true},
		{"search description", Filter{Search: "ENDPOINT"}, true},
		{"search miss", Filter{Search: "frontend"}, false},
		{"priority", Filter{Priority: domain.PriorityHigh}, true},
		{"priority miss", Filter{Priority: domain.PriorityLow}, false},
		{"assignee", Filter{Assignee: "alex"}, true},
		{"assignee miss", Filter{Assignee: "sam"}, false},
		{"tag", Filter{Tag: "backend"}, true},
		{"tag miss", Filter{Tag: "ux"}, false},
		{"column", Filter{Column: domain.ColumnInProgress}, true},
		{"column miss", Filter{Column: domain.ColumnDone}, false},
		{"combined", Filter{Search: "docs", Priority: domain.PriorityHigh, Tag: "docs"}, true},
	}
	for _, tc := range cases {
		if got := tc.filter.Match(tk); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}

	unassigned := tk
	unassigned.AssignedTo = nil
	if (Filter{Assignee: "alex"}).Match(unassigned) {
		t.Fatalf("unassigned task matched an assignee filter")
	}
}

func TestFilterApplyKeepsColumns(t *testing.T) {
	cols := domain.GroupByColumn([]domain.Task{
		{ID: "1", Title: "one", ColumnID: domain.ColumnTodo, Priority: domain.PriorityLow, Tags: []string{"a"}},
		{ID: "2", Title: "two", ColumnID: domain.ColumnTodo, Position: 1, Priority: domain.PriorityHigh, Tags: []string{"b", "a"}},
		{ID: "3", Title: "three", ColumnID: domain.ColumnDone, Priority: domain.PriorityHigh},
	})
	f := Filter{Priority: domain.PriorityHigh}
	if !f.Active() || (Filter{}).Active() {
		t.Fatalf("Active is wrong")
	}
	out := f.Apply(cols)
	if len(out) != len(domain.Columns) {
		t.Fatalf("expected every column, got %d", len(out))
	}
	if n := len(out[domain.ColumnTodo].Tasks); n != 1 || out[domain.ColumnTodo].Tasks[0].ID != "2" {
		t.Fatalf("unexpected todo %+v", out[domain.ColumnTodo].Tasks)
	}
	if n := len(cols[domain.ColumnTodo].Tasks); n != 2 {
		t.Fatalf("Apply modified its input")
	}
	if got := fmt.Sprint(Tags(cols)); got != "[a b]" {
		t.Fatalf("unexpected tags %s", got)
	}
}

func TestActivityIsBoundedNewestFirst(t *testing.T) {
	a := NewActivity(3)
	for i := 0; i < 5; i++ {
		a.Add("entry %d", i)
	}
	a.Fail("broken")
	entries := a.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "broken" || !entries[0].Failure {
		t.Fatalf("unexpected newest entry %+v", entries[0])
	}
	if entries[2].Message != "entry 3" {
		t.Fatalf("unexpected oldest entry %+v", entries[2])
	}
}
