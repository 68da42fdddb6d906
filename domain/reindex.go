package domain

// Placement is the column and position a task should be stored at.
type Placement struct {
	TaskID   string   `json:"taskId"`
	ColumnID ColumnID `json:"columnId"`
	Position int      `json:"position"`
}

// Plan is the outcome of repositioning one task. Siblings only holds tasks
// whose column or position actually changes.
type Plan struct {
	Moved    Placement
	Siblings []Placement
}

// Placements returns the moved task's placement followed by the siblings.
func (p Plan) Placements() []Placement {
	out := make([]Placement, 0, len(p.Siblings)+1)
	out = append(out, p.Moved)
	return append(out, p.Siblings...)
}

// Noop reports whether applying the plan would change nothing for task.
func (p Plan) Noop(task Task) bool {
	return len(p.Siblings) == 0 &&
		p.Moved.ColumnID == task.ColumnID &&
		p.Moved.Position == task.Position
}

// Reposition plans moving task into column to at newIndex.
//
// current holds the tasks of the moving task's column. target holds the tasks
// of the destination column and is ignored when to equals the task's column.
// Either slice may contain the moving task itself. newIndex is clamped to
// [0, len(destination without the moving task)].
func Reposition(moving Task, current, target []Task, to ColumnID, newIndex int) Plan {
	others := without(current, moving.ID)
	SortByPosition(others)

	if to == moving.ColumnID {
		idx := clamp(newIndex, len(others))
		plan := Plan{Moved: Placement{TaskID: moving.ID, ColumnID: to, Position: idx}}
		cursor := 0
		for _, t := range others {
			if cursor == idx {
				cursor++
			}
			if t.Position != cursor {
				plan.Siblings = append(plan.Siblings, Placement{TaskID: t.ID, ColumnID: to, Position: cursor})
			}
			cursor++
		}
		return plan
	}

	var plan Plan
	plan.Siblings = append(plan.Siblings, Compact(others)...)

	dest := without(target, moving.ID)
	SortByPosition(dest)
	idx := clamp(newIndex, len(dest))
	plan.Moved = Placement{TaskID: moving.ID, ColumnID: to, Position: idx}
	for i, t := range dest {
		pos := i
		if i >= idx {
			pos = i + 1
		}
		if t.Position != pos || t.ColumnID != to {
			plan.Siblings = append(plan.Siblings, Placement{TaskID: t.ID, ColumnID: to, Position: pos})
		}
	}
	return plan
}

// Insert returns the clamped slot for a new task at index of column and the
// sibling shifts that make room for it.
func Insert(column []Task, index int) (int, []Placement) {
	sorted := append([]Task(nil), column...)
	SortByPosition(sorted)
	idx := clamp(index, len(sorted))
	var shifts []Placement
	for i, t := range sorted {
		pos := i
		if i >= idx {
			pos = i + 1
		}
		if t.Position != pos {
			shifts = append(shifts, Placement{TaskID: t.ID, ColumnID: t.ColumnID, Position: pos})
		}
	}
	return idx, shifts
}

// Compact renumbers column to 0..n-1 in its current order and returns the
// placements that change.
func Compact(column []Task) []Placement {
	sorted := append([]Task(nil), column...)
	SortByPosition(sorted)
	var out []Placement
	for i, t := range sorted {
		if t.Position != i {
			out = append(out, Placement{TaskID: t.ID, ColumnID: t.ColumnID, Position: i})
		}
	}
	return out
}

// Contiguous reports whether the positions in column are exactly 0..n-1.
func Contiguous(column []Task) bool {
	seen := make([]bool, len(column))
	for _, t := range column {
		if t.Position < 0 || t.Position >= len(column) || seen[t.Position] {
			return false
		}
		seen[t.Position] = true
	}
	return true
}

// ApplyPlacements returns a copy of tasks with placements applied by id.
func ApplyPlacements(tasks []Task, placements []Placement) []Task {
	byID := make(map[string]Placement, len(placements))
	for _, p := range placements {
		byID[p.TaskID] = p
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if p, ok := byID[t.ID]; ok {
			t.ColumnID = p.ColumnID
			t.Position = p.Position
		}
		out[i] = t
	}
	return out
}

func without(tasks []Task, id string) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
