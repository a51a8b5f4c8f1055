package hotswap

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer defines the interface for objects that want to be notified of
// registry and self-healing events. Observers register with a Subject to
// receive notifications when events occur.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to occurs.
	// Observers should handle events quickly to avoid blocking others.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer, used for
	// registration tracking and debugging.
	ObserverID() string
}

// Subject defines the interface for event emitters. The registry and the
// self-healing manager publish their audit feeds through a Subject when
// one is attached via SetEventSubject.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to specific
	// event types. An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent; unregistering
	// an unknown observer is not an error.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all registered observers. The
	// notification process must be non-blocking for the caller and handle
	// observer errors gracefully.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer for debugging and
// administrative interfaces.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes are the event types this observer subscribed to.
	// Empty means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// FunctionalObserver provides a simple way to create observers from a
// function without defining a full struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates event handling
// to the provided function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements the Observer interface by calling the handler.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements the Observer interface.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
