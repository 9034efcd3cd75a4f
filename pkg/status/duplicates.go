package status

import "sync"

// DuplicateTracker remembers file names added to archives during the life of
// the process. A name seen twice indicates a record that survived a delete.
type DuplicateTracker struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewDuplicateTracker creates an empty tracker.
func NewDuplicateTracker() *DuplicateTracker {
	return &DuplicateTracker{names: make(map[string]struct{})}
}

// Contains reports whether name was added before.
func (d *DuplicateTracker) Contains(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.names[name]
	return ok
}

// Add records names. Call it once the archive holding them is committed.
func (d *DuplicateTracker) Add(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.names[name] = struct{}{}
	}
}

// Len returns the number of distinct names recorded.
func (d *DuplicateTracker) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.names)
}

// Reset forgets every name.
func (d *DuplicateTracker) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = make(map[string]struct{})
}
