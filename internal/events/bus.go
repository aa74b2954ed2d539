package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventLicenseIssued      EventType = "LICENSE_ISSUED"
	EventLicenseVerified    EventType = "LICENSE_VERIFIED"
	EventLicenseRevoked     EventType = "LICENSE_REVOKED"
	EventLicenseSuspended   EventType = "LICENSE_SUSPENDED"
	EventLicenseReactivated EventType = "LICENSE_REACTIVATED"
	EventMachineActivated   EventType = "MACHINE_ACTIVATED"
	EventMachineDeactivated EventType = "MACHINE_DEACTIVATED"
	EventActivationRejected EventType = "ACTIVATION_REJECTED"
	EventWebhookReceived    EventType = "WEBHOOK_RECEIVED"
	EventError              EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishLicenseStatusChanged publishes a lifecycle transition event.
// maskedKey is the masked customer key, never the full secret.
func (eb *EventBus) PublishLicenseStatusChanged(eventType EventType, licenseID, maskedKey, status, reason string) {
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"license_id": licenseID,
			"key":        maskedKey,
			"status":     status,
			"reason":     reason,
		},
	})
}

// PublishMachineActivated publishes a successful machine activation
func (eb *EventBus) PublishMachineActivated(licenseID, maskedKey, machineID string, activeCount, maxActivations int) {
	eb.Publish(Event{
		Type: EventMachineActivated,
		Data: map[string]interface{}{
			"license_id":      licenseID,
			"key":             maskedKey,
			"machine_id":      machineID,
			"active_count":    activeCount,
			"max_activations": maxActivations,
		},
	})
}

// PublishMachineDeactivated publishes a machine deactivation
func (eb *EventBus) PublishMachineDeactivated(licenseID, maskedKey, machineID string) {
	eb.Publish(Event{
		Type: EventMachineDeactivated,
		Data: map[string]interface{}{
			"license_id": licenseID,
			"key":        maskedKey,
			"machine_id": machineID,
		},
	})
}

// PublishActivationRejected publishes a rejected activation attempt
func (eb *EventBus) PublishActivationRejected(licenseID, maskedKey, machineID, reason string) {
	eb.Publish(Event{
		Type: EventActivationRejected,
		Data: map[string]interface{}{
			"license_id": licenseID,
			"key":        maskedKey,
			"machine_id": machineID,
			"reason":     reason,
		},
	})
}
