package pipeline

import (
	"sync"

	"github.com/sells-group/leadify-flow/internal/model"
)

// ProgressFunc receives every status the pipeline publishes.
type ProgressFunc func(model.ProcessStatus)

const subscriberBuffer = 16

// Tracker holds the pollable status and leads of one session's pipeline and
// fans status changes out to subscribers. Status only moves forward until
// Reset.
type Tracker struct {
	mu     sync.Mutex
	status model.ProcessStatus
	leads  model.Leads
	subs   map[int]chan model.ProcessStatus
	nextID int
}

// NewTracker returns a Tracker at idle with no leads.
func NewTracker() *Tracker {
	return &Tracker{
		status: model.IdleStatus(),
		leads:  model.EmptyLeads(),
		subs:   make(map[int]chan model.ProcessStatus),
	}
}

// Snapshot returns the current status and leads.
func (t *Tracker) Snapshot() (model.ProcessStatus, model.Leads) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.leads
}

// Status returns the current status.
func (t *Tracker) Status() model.ProcessStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Update moves the status to ps. Updates that would move the status
// backwards are ignored and reported as false.
func (t *Tracker) Update(ps model.ProcessStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ps != t.status && !ps.After(t.status) {
		return false
	}
	t.status = ps
	t.broadcast(ps)
	return true
}

// Progress returns a ProgressFunc that feeds the tracker.
func (t *Tracker) Progress() ProgressFunc {
	return func(ps model.ProcessStatus) { t.Update(ps) }
}

// SetLeads replaces the leads.
func (t *Tracker) SetLeads(leads model.Leads) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leads = leads
}

// Reset returns to idle and drops the leads.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = model.IdleStatus()
	t.leads = model.EmptyLeads()
	t.broadcast(t.status)
}

// Subscribe returns a channel of status changes and a function that ends the
// subscription. A slow subscriber loses intermediate updates, never the
// latest one.
func (t *Tracker) Subscribe() (<-chan model.ProcessStatus, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan model.ProcessStatus, subscriberBuffer)
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// broadcast must be called with t.mu held.
func (t *Tracker) broadcast(ps model.ProcessStatus) {
	for _, ch := range t.subs {
		select {
		case ch <- ps:
		default:
			// Full: drop the oldest update to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ps:
			default:
			}
		}
	}
}
