package events

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 64

// Subscription receives live events matching its filter on C. Events are
// dropped, not queued, while C is full.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	filter  Filter
	dropped atomic.Uint64
}

// Dropped reports how many events were skipped because the reader lagged.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

type hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

var subscribers = &hub{subs: make(map[*Subscription]struct{})}

// Subscribe registers a live subscriber for events matching f.
func Subscribe(f Filter) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, filter: f}

	subscribers.mu.Lock()
	subscribers.subs[sub] = struct{}{}
	subscribers.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. It is a no-op once
// CloseAllSubscribers has run.
func Unsubscribe(sub *Subscription) {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()

	if _, ok := subscribers.subs[sub]; !ok {
		return
	}
	delete(subscribers.subs, sub)
	close(sub.ch)
}

// CloseAllSubscribers closes every subscription so stream handlers return
// during shutdown.
func CloseAllSubscribers() {
	subscribers.mu.Lock()
	defer subscribers.mu.Unlock()

	for sub := range subscribers.subs {
		delete(subscribers.subs, sub)
		close(sub.ch)
	}
}

func broadcast(e Event) {
	subscribers.mu.RLock()
	defer subscribers.mu.RUnlock()

	for sub := range subscribers.subs {
		if !sub.filter.Match(e.Name) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

func SubscriberCount() int {
	subscribers.mu.RLock()
	defer subscribers.mu.RUnlock()
	return len(subscribers.subs)
}

// RecentEvents returns the last n buffered events matching f, oldest first.
// n <= 0 returns every match.
func RecentEvents(n int, f Filter) []Event {
	return recent.last(n, f)
}
