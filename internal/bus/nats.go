package bus

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const globalSubject = "chat.global"

func roomSubject(room string) string {
	return "chat.room." + room
}

func userSubject(userID uint) string {
	return fmt.Sprintf("chat.user.%d", userID)
}

// NATSBus is the production Bus, fanning events out over NATS core
// subjects. NATS gives at-least-once, per-publisher-ordered delivery,
// which matches the Bus contract exactly.
type NATSBus struct {
	id   string
	conn *nats.Conn
}

// ConnectNATS dials url and returns a ready bus.
func ConnectNATS(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("crewdeck-gateway"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("bus: connect %s: %w", url, err)
	}
	return &NATSBus{id: uuid.New().String(), conn: conn}, nil
}

// NewNATS wraps an existing connection, for callers that manage dialing.
func NewNATS(conn *nats.Conn) (*NATSBus, error) {
	if conn == nil {
		return nil, fmt.Errorf("bus: nats connection is required")
	}
	return &NATSBus{id: uuid.New().String(), conn: conn}, nil
}

func (b *NATSBus) publish(subject string, ev Event) error {
	data, err := json.Marshal(envelope{Origin: b.id, Event: ev})
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", ev.Name, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) subscribe(subject string, h Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("bus: drop malformed frame on %s: %v", subject, err)
			return
		}
		h(env.Origin, env.Event)
	})
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// PublishRoom implements Bus.
func (b *NATSBus) PublishRoom(room string, ev Event) error {
	return b.publish(roomSubject(room), ev)
}

// PublishGlobal implements Bus.
func (b *NATSBus) PublishGlobal(ev Event) error {
	return b.publish(globalSubject, ev)
}

// PublishUser implements Bus.
func (b *NATSBus) PublishUser(userID uint, ev Event) error {
	return b.publish(userSubject(userID), ev)
}

// SubscribeRoom implements Bus.
func (b *NATSBus) SubscribeRoom(room string, h Handler) (Subscription, error) {
	return b.subscribe(roomSubject(room), h)
}

// SubscribeGlobal implements Bus.
func (b *NATSBus) SubscribeGlobal(h Handler) (Subscription, error) {
	return b.subscribe(globalSubject, h)
}

// SubscribeUser implements Bus.
func (b *NATSBus) SubscribeUser(userID uint, h Handler) (Subscription, error) {
	return b.subscribe(userSubject(userID), h)
}

// InstanceID implements Bus.
func (b *NATSBus) InstanceID() string { return b.id }

// Close implements Bus.
func (b *NATSBus) Close() error {
	b.conn.Drain()
	b.conn.Close()
	return nil
}
