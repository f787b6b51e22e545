package refresh

import (
	"sync"

	"bitbucket.org/mmdatafocus/treasury_backend/models"
)

// Event types pushed to live observers.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one orchestrator state transition, JSON-shaped for the live
// update channel.
type Event struct {
	Type                  string                          `json:"type"`
	ExecutionId           int                             `json:"executionId"`
	Status                string                          `json:"status,omitempty"`
	ProgressPercentage    *int                            `json:"progressPercentage,omitempty"`
	CurrentStep           string                          `json:"currentStep,omitempty"`
	StartedBy             string                          `json:"startedBy,omitempty"`
	StartedAt             string                          `json:"startedAt,omitempty"`
	TotalRecordsProcessed *int                            `json:"totalRecordsProcessed,omitempty"`
	Details               *models.RefreshExecutionDetails `json:"details,omitempty"`
	ErrorMessage          string                          `json:"errorMessage,omitempty"`
}

// subscriberBuffer bounds how far one observer may lag before it is dropped.
const subscriberBuffer = 16

// Broadcaster fans orchestrator events out to every registered observer.
// Registration, deregistration and broadcast are all safe to call
// concurrently. Observers that connect mid-run only see events from that
// point on; there is no replay.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers an observer. The returned cancel func deregisters it
// and closes the channel; calling cancel more than once is safe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Broadcast delivers the event to every observer. An observer whose buffer
// is full is deregistered and closed; delivery to the others continues.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount reports how many observers are registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
