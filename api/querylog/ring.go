package querylog

import (
	"sync"
	"time"
)

const DefaultSize = 100

type Entry struct {
	SQL      string        `json:"sql"`
	Duration time.Duration `json:"durationNs"`
	Err      string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Ring keeps the most recent entries up to a fixed capacity.
// Pushing into a full ring evicts the oldest entry.
type Ring struct {
	mu    sync.Mutex
	buf   []Entry
	start int
	n     int
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{buf: make([]Entry, size)}
}

func (r *Ring) Push(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

// Entries returns a copy of the buffered entries, newest first.
func (r *Ring) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, r.n)
	for i := r.n - 1; i >= 0; i-- {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *Ring) Cap() int {
	return len(r.buf)
}
