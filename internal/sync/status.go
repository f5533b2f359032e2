package sync

import "sync"

// observableStatus guards the status snapshot. The run loop writes it; any
// goroutine may read it through Engine.Status.
type observableStatus struct {
	mu sync.RWMutex
	s  Status
}

func (o *observableStatus) get() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.s
}

func (o *observableStatus) set(s Status) {
	o.mu.Lock()
	o.s = s
	o.mu.Unlock()
}

func (o *observableStatus) update(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.s)
	o.mu.Unlock()
}
