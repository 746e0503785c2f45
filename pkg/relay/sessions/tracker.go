// Package sessions tracks live relay sessions for shutdown coordination.
package sessions

import (
	"context"
	"sync"
)

// Handle is the tracker's grip on one running session: Stop ends it, Notify
// pushes one frame to its client.
type Handle struct {
	Stop   func()
	Notify func(frame any)
}

// Tracker indexes running sessions by id so the server can broadcast to them
// and drain them on shutdown.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*entry)}
}

// Add registers a session and returns its removal func. Registering an id
// that is already present stops and replaces the previous holder.
func (t *Tracker) Add(id string, h Handle) (remove func()) {
	if t == nil {
		return func() {}
	}

	e := &entry{handle: h}

	t.mu.Lock()
	prev := t.entries[id]
	t.entries[id] = e
	t.wg.Add(1)
	t.mu.Unlock()

	if prev != nil {
		if prev.handle.Stop != nil {
			prev.handle.Stop()
		}
		t.remove(id, prev)
	}

	return func() { t.remove(id, e) }
}

func (t *Tracker) remove(id string, e *entry) {
	e.once.Do(func() {
		t.mu.Lock()
		if t.entries[id] == e {
			delete(t.entries, id)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count reports how many sessions are live.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// NotifyAll pushes one frame to every live session's client. Used to announce
// imminent shutdown so clients can save state before the sockets close.
func (t *Tracker) NotifyAll(frame any) (sent int) {
	if t == nil {
		return 0
	}

	var notifies []func(any)
	t.mu.Lock()
	for _, e := range t.entries {
		if e.handle.Notify != nil {
			notifies = append(notifies, e.handle.Notify)
		}
	}
	t.mu.Unlock()

	for _, notify := range notifies {
		notify(frame)
		sent++
	}
	return sent
}

// StopAll stops every live session.
func (t *Tracker) StopAll() (stopped int) {
	if t == nil {
		return 0
	}

	var stops []func()
	t.mu.Lock()
	for _, e := range t.entries {
		if e.handle.Stop != nil {
			stops = append(stops, e.handle.Stop)
		}
	}
	t.mu.Unlock()

	for _, stop := range stops {
		stop()
		stopped++
	}
	return stopped
}

// Drain blocks until every tracked session has been removed or the context
// expires. Reports whether the drain completed.
func (t *Tracker) Drain(ctx context.Context) bool {
	if t == nil {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
