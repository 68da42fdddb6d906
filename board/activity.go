package board

import (
	"fmt"
	"time"
)

const DefaultActivitySize = 20

// Entry is one line of the activity feed.
type Entry struct {
	Time    time.Time
	Message string
	// Failure marks reverts and rejected requests.
	Failure bool
}

// Activity keeps the most recent entries, newest first.
type Activity struct {
	max     int
	entries []Entry
	now     func() time.Time
}

func NewActivity(max int) *Activity {
	if max <= 0 {
		max = DefaultActivitySize
	}
	return &Activity{max: max, now: time.Now}
}

func (a *Activity) Add(format string, args ...any) {
	a.push(Entry{Time: a.now(), Message: fmt.Sprintf(format, args...)})
}

func (a *Activity) Fail(format string, args ...any) {
	a.push(Entry{Time: a.now(), Message: fmt.Sprintf(format, args...), Failure: true})
}

func (a *Activity) push(e Entry) {
	a.entries = append([]Entry{e}, a.entries...)
	if len(a.entries) > a.max {
		a.entries = a.entries[:a.max]
	}
}

// Entries returns a copy of the feed.
func (a *Activity) Entries() []Entry {
	return append([]Entry(nil), a.entries...)
}
