package board

import (
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nakulsingh04/kanban-board-project/domain"
)

const (
	DefaultDedupeWindow = 5 * time.Second
	DefaultDedupeSize   = 512
)

// Deduper suppresses an event that was already seen within the window. Two
// events are the same when their type and canonical payload match.
type Deduper struct {
	seen *expirable.LRU[string, struct{}]
}

// NewDeduper remembers at most size fingerprints for window each.
func NewDeduper(size int, window time.Duration) *Deduper {
	if size <= 0 {
		size = DefaultDedupeSize
	}
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Deduper{seen: expirable.NewLRU[string, struct{}](size, nil, window)}
}

// Seen records ev and reports whether it had been recorded before.
func (d *Deduper) Seen(ev domain.Event) bool {
	key := Fingerprint(ev)
	if _, ok := d.seen.Get(key); ok {
		return true
	}
	d.seen.Add(key, struct{}{})
	return false
}

// Len is the number of remembered fingerprints.
func (d *Deduper) Len() int { return d.seen.Len() }

// Fingerprint is the event type plus a hash of its payload with object keys
// sorted, so field order on the wire does not matter.
func Fingerprint(ev domain.Event) string {
	return ev.Type + ":" + strconv.FormatUint(xxhash.Sum64(canonical(ev.Data)), 16)
}

func canonical(data []byte) []byte {
	var v any
	if err := sonic.ConfigStd.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return data
	}
	return out
}
