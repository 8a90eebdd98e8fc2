package publish

import "sync"

// feedBuffer is the per-subscriber channel depth. Slow subscribers drop
// intermediate updates rather than block publishers.
const feedBuffer = 16

// Feed is a typed notification channel with last-value-cache semantics:
// new subscribers immediately receive the most recent value, then every
// subsequent one. Publishing never blocks.
type Feed[T any] struct {
	mu      sync.Mutex
	subs    map[int]chan T
	nextID  int
	last    T
	hasLast bool
}

// NewFeed creates an empty Feed.
func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan T, feedBuffer)
	f.subs[id] = ch

	if f.hasLast {
		ch <- f.last
	}

	unsubscribe := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish caches v as the latest value and delivers it to every subscriber
// whose buffer has room.
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = v
	f.hasLast = true
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
			// subscriber is behind; it will catch up on the next value
		}
	}
}

// Reset drops the cached last value. Future subscribers get nothing until
// the next Publish.
func (f *Feed[T]) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	f.last = zero
	f.hasLast = false
}
