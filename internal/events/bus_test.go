package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(EventLicenseIssued, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(Event{Type: EventLicenseVerified})
	bus.Publish(Event{Type: EventLicenseIssued, Data: map[string]interface{}{"license_id": "lic-1"}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Data["license_id"] != "lic-1" {
		t.Errorf("license_id = %v, want lic-1", got[0].Data["license_id"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp not stamped on publish")
	}
}

func TestSubscribeAllReceivesEveryEvent(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	seen := make(map[EventType]int)
	done := make(chan struct{}, 8)

	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishMachineActivated("lic-1", "EMBP-ABCD-****", "machine-1", 1, 3)
	bus.PublishMachineDeactivated("lic-1", "EMBP-ABCD-****", "machine-1")
	bus.PublishActivationRejected("lic-1", "EMBP-ABCD-****", "machine-2", "license_revoked")
	bus.PublishLicenseStatusChanged(EventLicenseRevoked, "lic-1", "EMBP-ABCD-****", "revoked", "chargeback")

	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("received %d of 4 events", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, eventType := range []EventType{
		EventMachineActivated,
		EventMachineDeactivated,
		EventActivationRejected,
		EventLicenseRevoked,
	} {
		if seen[eventType] != 1 {
			t.Errorf("seen[%s] = %d, want 1", eventType, seen[eventType])
		}
	}
}
