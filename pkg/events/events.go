package events

import (
	"sync"
	"time"
)

// Type identifies a lifecycle event a repository core operation raises.
type Type string

const (
	TransitionProposed  Type = "transition.proposed"
	TransitionAccepted  Type = "transition.accepted"
	TransitionRejected  Type = "transition.rejected"
	LaneHeadAdvanced    Type = "lane.head_advanced"
	LaneCreated         Type = "lane.created"
	LaneDeleted         Type = "lane.deleted"
	WorkspaceDirty      Type = "workspace.dirty"
	BudgetAlert         Type = "budget.alert"
	BudgetExceeded      Type = "budget.exceeded"
	PromoteConflict     Type = "promote.conflict"
	GCCompleted         Type = "gc.completed"
)

// Event is the notify-event-with-context capability spec.md §8 names as
// one of the small capability sets lifecycle hooks are polymorphic
// over: a hook receives a Type, the lane/workspace it concerns, and
// free-form context, never a concrete struct tied to one caller.
type Event struct {
	Type      Type
	Lane      string
	Workspace string
	Message   string
	Context   map[string]string
	Timestamp time.Time
}

// Subscriber is a channel that receives Events.
type Subscriber chan *Event

// Broker fans lifecycle events out to every subscriber: the repository
// core publishes after each accept/reject/promote/gc call, and a caller
// wanting a hook (audit log, CI trigger, notification) subscribes. No
// subscriber existing is the common case and must not block the core.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. Non-blocking: the
// event is queued on the broker's 100-slot buffer, and when that buffer
// is full (for example because the broker hasn't been started and
// nothing drains it), Publish drops the event rather than stalling the
// caller's repository-core operation.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, skip rather than block the broadcaster
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
