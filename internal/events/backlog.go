package events

import "sync"

// backlog keeps the most recent events for late subscribers and the
// /events endpoint. Once full, the oldest event is overwritten.
type backlog struct {
	mu    sync.RWMutex
	ring  []Event
	next  int
	count int
	total uint64
}

func newBacklog(capacity int) *backlog {
	return &backlog{ring: make([]Event, capacity)}
}

func (b *backlog) push(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.count < len(b.ring) {
		b.count++
	}
	b.total++
}

// last returns up to n matching events, oldest first. n <= 0 means all.
func (b *backlog) last(n int, f Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := (b.next - b.count + len(b.ring)) % len(b.ring)
	out := make([]Event, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.ring[(start+i)%len(b.ring)]
		if f.Match(e.Name) {
			out = append(out, e)
		}
	}
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out
}

// reset drops buffered events but keeps the running total.
func (b *backlog) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = make([]Event, len(b.ring))
	b.next = 0
	b.count = 0
}

func (b *backlog) emitted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}
