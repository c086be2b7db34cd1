package bus

import (
	"sync"

	"github.com/google/uuid"
)

// LocalBus is an in-process Bus for single-instance deployments and tests.
// Handlers run synchronously in the publisher's goroutine, so publishers
// must not hold locks that handlers also take.
type LocalBus struct {
	id string

	mu   sync.RWMutex
	subs map[string]map[int]Handler // subject -> sub id -> handler
	next int
}

// NewLocal creates a LocalBus.
func NewLocal() *LocalBus {
	return &LocalBus{
		id:   uuid.New().String(),
		subs: make(map[string]map[int]Handler),
	}
}

func (b *LocalBus) publish(subject string, ev Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(b.id, ev)
	}
	return nil
}

func (b *LocalBus) subscribe(subject string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[subject][id] = h
	return &localSub{bus: b, subject: subject, id: id}, nil
}

// PublishRoom implements Bus.
func (b *LocalBus) PublishRoom(room string, ev Event) error {
	return b.publish(roomSubject(room), ev)
}

// PublishGlobal implements Bus.
func (b *LocalBus) PublishGlobal(ev Event) error {
	return b.publish(globalSubject, ev)
}

// PublishUser implements Bus.
func (b *LocalBus) PublishUser(userID uint, ev Event) error {
	return b.publish(userSubject(userID), ev)
}

// SubscribeRoom implements Bus.
func (b *LocalBus) SubscribeRoom(room string, h Handler) (Subscription, error) {
	return b.subscribe(roomSubject(room), h)
}

// SubscribeGlobal implements Bus.
func (b *LocalBus) SubscribeGlobal(h Handler) (Subscription, error) {
	return b.subscribe(globalSubject, h)
}

// SubscribeUser implements Bus.
func (b *LocalBus) SubscribeUser(userID uint, h Handler) (Subscription, error) {
	return b.subscribe(userSubject(userID), h)
}

// InstanceID implements Bus.
func (b *LocalBus) InstanceID() string { return b.id }

// Close implements Bus.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]map[int]Handler)
	b.mu.Unlock()
	return nil
}

type localSub struct {
	bus     *LocalBus
	subject string
	id      int
}

func (s *localSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.subject]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}
