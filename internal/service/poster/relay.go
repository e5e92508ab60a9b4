package poster

import "sync"

// SourceRelay shares source URLs between the tasks of one submission. Tasks
// whose website wants a source subscribe and are woken when one is published
// or when the orchestrator forces them to start without one.
type SourceRelay struct {
	mu      sync.Mutex
	sources []string
	waiters map[string]chan struct{}
}

// NewSourceRelay seeds the relay with the sources already known for the
// submission.
func NewSourceRelay(initial []string) *SourceRelay {
	r := &SourceRelay{waiters: make(map[string]chan struct{})}
	for _, s := range initial {
		r.add(s)
	}
	return r
}

func (r *SourceRelay) add(source string) bool {
	if source == "" {
		return false
	}
	for _, s := range r.sources {
		if s == source {
			return false
		}
	}
	r.sources = append(r.sources, source)
	return true
}

// Publish records a new source and wakes every waiter.
func (r *SourceRelay) Publish(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.add(source) {
		return
	}
	r.wakeLocked()
}

// Subscribe registers key as waiting for a source. The returned channel is
// already closed when a source is known.
func (r *SourceRelay) Subscribe(key string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	if len(r.sources) > 0 {
		close(ch)
		return ch
	}
	if old, ok := r.waiters[key]; ok {
		close(old)
	}
	r.waiters[key] = ch
	return ch
}

func (r *SourceRelay) Unsubscribe(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, key)
}

// ForceStartAll wakes every waiter without a source and returns how many were
// woken.
func (r *SourceRelay) ForceStartAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wakeLocked()
}

func (r *SourceRelay) wakeLocked() int {
	n := len(r.waiters)
	for key, ch := range r.waiters {
		close(ch)
		delete(r.waiters, key)
	}
	return n
}

// Sources returns a copy of the known sources.
func (r *SourceRelay) Sources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

// Waiting returns the number of registered waiters.
func (r *SourceRelay) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
