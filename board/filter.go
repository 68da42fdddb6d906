package board

import (
	"slices"
	"strings"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

// Filter narrows the visible cards. Zero fields match everything.
type Filter struct {
	// Search matches title or description, case-insensitively.
	Search   string
	Priority domain.Priority
	Assignee string
	Tag      string
	Column   domain.ColumnID
}

// Active reports whether any criterion is set.
func (f Filter) Active() bool {
	return f != Filter{}
}

func (f Filter) Match(t domain.Task) bool {
	if f.Column != "" && t.ColumnID != f.Column {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Assignee != "" && (t.AssignedTo == nil || !strings.EqualFold(*t.AssignedTo, f.Assignee)) {
		return false
	}
	if f.Tag != "" && !slices.ContainsFunc(t.Tags, func(tag string) bool { return strings.EqualFold(tag, f.Tag) }) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// Apply returns the columns with non-matching cards removed. Every column is
// kept so the layout does not shift while filtering.
func (f Filter) Apply(cols domain.BoardColumns) domain.BoardColumns {
	out := make(domain.BoardColumns, len(cols))
	for id, col := range cols {
		kept := make([]domain.Task, 0, len(col.Tasks))
		for _, t := range col.Tasks {
			if f.Match(t) {
				kept = append(kept, t)
			}
		}
		col.Tasks = kept
		out[id] = col
	}
	return out
}

// Tags lists the distinct tags on the board in first-seen order.
func Tags(cols domain.BoardColumns) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range domain.Columns {
		for _, t := range cols[id].Tasks {
			for _, tag := range t.Tags {
				if !seen[tag] {
					seen[tag] = true
					out = append(out, tag)
				}
			}
		}
	}
	return out
}
