// Package status holds the process-wide pipeline signals that the UI bridge,
// the HTTP handlers and the MCP tools observe.
package status

import "sync"

// Value is an observable value. Subscribers receive every change on a
// buffered channel; a subscriber that falls behind misses intermediate values
// but never blocks the writer.
type Value[T comparable] struct {
	mu     sync.RWMutex
	v      T
	subs   map[int]chan T
	nextID int
}

// Get returns the current value.
func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

// Set stores v and notifies subscribers. Returns false when v equals the
// current value, in which case nobody is notified.
func (o *Value[T]) Set(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.v == v {
		return false
	}
	o.v = v
	for _, ch := range o.subs {
		select {
		case ch <- v:
		default:
		}
	}
	return true
}

// Subscribe returns a channel of future changes and a function that
// unsubscribes and closes it.
func (o *Value[T]) Subscribe(buffer int) (<-chan T, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.subs == nil {
		o.subs = make(map[int]chan T)
	}
	id := o.nextID
	o.nextID++
	ch := make(chan T, max(buffer, 1))
	o.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}
