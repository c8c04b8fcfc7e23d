package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventMachineCreated EventType = "machine.created"
	EventMachineUpdated EventType = "machine.updated"
	EventMachineDeleted EventType = "machine.deleted"

	EventImageUploading  EventType = "image.uploading"
	EventImageProcessing EventType = "image.processing"
	EventImageReady      EventType = "image.ready"
	EventImageError      EventType = "image.error"
	EventImageArchived   EventType = "image.archived"

	EventTargetCreated   EventType = "target.created"
	EventTargetDestroyed EventType = "target.destroyed"

	EventSessionRequested    EventType = "session.requested"
	EventSessionProvisioning EventType = "session.provisioning"
	EventSessionActive       EventType = "session.active"
	EventSessionStopping     EventType = "session.stopping"
	EventSessionStopped      EventType = "session.stopped"
	EventSessionRejected     EventType = "session.rejected"
	EventSessionFailed       EventType = "session.failed"

	EventDHCPReloaded    EventType = "dhcp.reloaded"
	EventRecoveryStarted EventType = "recovery.started"
	EventRecoveryDone    EventType = "recovery.done"
)

// Event represents a control plane event. Metadata carries entity IDs
// (machine_id, session_id, image_id, iqn) so consoles can link events
// back to their records.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
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
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
