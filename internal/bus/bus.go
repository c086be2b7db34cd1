// Package bus is the cross-instance broadcast fan-out for rooms and
// presence. Every room and presence broadcast goes through a Bus, never
// only the local connection registry, so connections held open by other
// server processes see the same events. Delivery is at-least-once and
// ordered per publisher; nothing stronger is assumed anywhere.
package bus

import "encoding/json"

// Event is one broadcast frame: a wire event name plus its JSON payload.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event. Marshal failures are programming
// errors (the payloads are our own structs), so they surface as errors
// rather than panics but are not expected at runtime.
func NewEvent(name string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: raw}, nil
}

// Handler receives a delivered event along with the id of the publishing
// instance. A process sees its own publishes too: local and remote delivery
// share one code path.
type Handler func(origin string, ev Event)

// Subscription is a handle for cancelling a subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus fans events out to every interested server instance.
type Bus interface {
	// PublishRoom delivers ev to every instance with members in room.
	PublishRoom(room string, ev Event) error
	// PublishGlobal delivers ev to every instance.
	PublishGlobal(ev Event) error
	// PublishUser delivers ev to the instance holding userID's connection.
	PublishUser(userID uint, ev Event) error

	SubscribeRoom(room string, h Handler) (Subscription, error)
	SubscribeGlobal(h Handler) (Subscription, error)
	SubscribeUser(userID uint, h Handler) (Subscription, error)

	// InstanceID identifies this process on the bus.
	InstanceID() string

	Close() error
}

// envelope is the on-bus frame carrying the publisher's instance id.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"ev"`
}
