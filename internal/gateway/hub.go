// Package gateway is the realtime socket layer: it upgrades authenticated
// websocket connections, tracks presence, indexes which local connections
// joined which rooms, and bridges the broadcast bus to individual sockets.
package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crewdeck/crewdeck/internal/auth"
	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/chat"
	"github.com/crewdeck/crewdeck/internal/presence"
	"github.com/crewdeck/crewdeck/internal/room"
	"github.com/crewdeck/crewdeck/internal/store"
)

// Opts holds configuration for creating a Hub.
type Opts struct {
	Store    *store.Store
	Router   *room.Router
	Bus      bus.Bus
	Verifier *auth.Verifier

	PingInterval  time.Duration // defaults to 25s
	PongTimeout   time.Duration // defaults to 60s
	MaxFrameBytes int64         // defaults to 100MB
	SendBuffer    int           // per-connection outbound queue, defaults to 64
	PreviewLength int           // conversation preview truncation
}

// Hub owns the connection registry and implements chat.Emitter over the
// broadcast bus, so pipeline emissions reach every server instance.
type Hub struct {
	store    *store.Store
	router   *room.Router
	bus      bus.Bus
	verifier *auth.Verifier
	pipeline *chat.Pipeline
	presence *presence.Tracker

	pingInterval  time.Duration
	pongTimeout   time.Duration
	maxFrameBytes int64
	sendBuffer    int

	mu        sync.RWMutex
	conns     map[string]*Conn            // conn id -> conn
	users     map[uint]*Conn              // user id -> active conn
	rooms     map[string]map[string]*Conn // room token -> conn id -> conn
	roomSubs  map[string]bus.Subscription // room token -> bus subscription
	userSubs  map[string]bus.Subscription // conn id -> user-subject subscription
	globalSub bus.Subscription
}

// New creates a Hub and subscribes it to the global bus subject.
func New(opts Opts) (*Hub, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("gateway: store is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("gateway: router is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("gateway: bus is required")
	}
	if opts.Verifier == nil {
		return nil, fmt.Errorf("gateway: verifier is required")
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 100 << 20
	}

	h := &Hub{
		store:         opts.Store,
		router:        opts.Router,
		bus:           opts.Bus,
		verifier:      opts.Verifier,
		presence:      presence.New(),
		pingInterval:  opts.PingInterval,
		pongTimeout:   opts.PongTimeout,
		maxFrameBytes: opts.MaxFrameBytes,
		sendBuffer:    opts.SendBuffer,
		conns:         make(map[string]*Conn),
		users:         make(map[uint]*Conn),
		rooms:         make(map[string]map[string]*Conn),
		roomSubs:      make(map[string]bus.Subscription),
		userSubs:      make(map[string]bus.Subscription),
	}

	pipeline, err := chat.NewPipeline(chat.PipelineOpts{
		Store:      opts.Store,
		Router:     opts.Router,
		Emitter:    h,
		PreviewLen: opts.PreviewLength,
	})
	if err != nil {
		return nil, err
	}
	h.pipeline = pipeline

	sub, err := opts.Bus.SubscribeGlobal(h.deliverGlobal)
	if err != nil {
		return nil, fmt.Errorf("gateway: subscribe global: %w", err)
	}
	h.globalSub = sub
	return h, nil
}

// roomPayload is what rides inside a bus event published to a room or user
// subject. Exclude carries the typist-style exclusion across instances; the
// delivering hub filters at its own sockets.
type roomPayload struct {
	Data    json.RawMessage `json:"data"`
	Exclude uint            `json:"excludeUserId,omitempty"`
}

func wrapPayload(event string, data interface{}, exclude uint) (bus.Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return bus.Event{}, fmt.Errorf("gateway: marshal %s payload: %w", event, err)
	}
	return bus.NewEvent(event, roomPayload{Data: raw, Exclude: exclude})
}

// ToRoom publishes an event to every instance's members of the room.
func (h *Hub) ToRoom(roomToken, event string, data interface{}) error {
	ev, err := wrapPayload(event, data, 0)
	if err != nil {
		return err
	}
	return h.bus.PublishRoom(roomToken, ev)
}

// ToRoomExcept publishes to the room, excluding one user at delivery time.
func (h *Hub) ToRoomExcept(roomToken string, excludeUserID uint, event string, data interface{}) error {
	ev, err := wrapPayload(event, data, excludeUserID)
	if err != nil {
		return err
	}
	return h.bus.PublishRoom(roomToken, ev)
}

// ToUser publishes privately to one user's subject.
func (h *Hub) ToUser(userID uint, event string, data interface{}) error {
	ev, err := wrapPayload(event, data, 0)
	if err != nil {
		return err
	}
	return h.bus.PublishUser(userID, ev)
}

// deliverRoom fans a bus event out to the local members of one room.
func (h *Hub) deliverRoom(roomToken string) bus.Handler {
	return func(origin string, ev bus.Event) {
		var p roomPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("gateway: bad room payload on %s: %v", roomToken, err)
			return
		}
		h.mu.RLock()
		members := make([]*Conn, 0, len(h.rooms[roomToken]))
		for _, c := range h.rooms[roomToken] {
			if p.Exclude != 0 && c.ident.UserID == p.Exclude {
				continue
			}
			members = append(members, c)
		}
		h.mu.RUnlock()
		for _, c := range members {
			c.Emit(ev.Name, p.Data)
		}
	}
}

// deliverUser hands a user-subject event to that user's local connection.
func (h *Hub) deliverUser(c *Conn) bus.Handler {
	return func(origin string, ev bus.Event) {
		var p roomPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			log.Printf("gateway: bad user payload for %d: %v", c.ident.UserID, err)
			return
		}
		c.Emit(ev.Name, p.Data)
	}
}

// deliverGlobal fans a global event out to every local connection.
func (h *Hub) deliverGlobal(origin string, ev bus.Event) {
	var p roomPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		log.Printf("gateway: bad global payload: %v", err)
		return
	}
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Emit(ev.Name, p.Data)
	}
}

// statusChange is the wire payload of a presence transition. It carries the
// full online set so clients resync instead of diffing.
type statusChange struct {
	UserID      uint   `json:"userId"`
	IsOnline    bool   `json:"isOnline"`
	OnlineUsers []uint `json:"onlineUsers"`
}

// Connect registers an authenticated socket: a second connection for the
// same user supersedes the first. The new connection immediately receives
// the online set, and everyone learns the user came online.
func (h *Hub) Connect(ws *websocket.Conn, ident auth.Identity) *Conn {
	c := newConn(ws, ident, h.sendBuffer)

	h.mu.Lock()
	if old, ok := h.users[ident.UserID]; ok {
		old.close()
	}
	h.conns[c.ID] = c
	h.users[ident.UserID] = c
	h.mu.Unlock()

	sub, err := h.bus.SubscribeUser(ident.UserID, h.deliverUser(c))
	if err != nil {
		log.Printf("gateway: subscribe user %d: %v", ident.UserID, err)
	} else {
		h.mu.Lock()
		h.userSubs[c.ID] = sub
		h.mu.Unlock()
	}

	online := h.presence.MarkOnline(c.ID, ident.UserID)
	if err := h.store.SetUserOnline(ident.UserID, true); err != nil {
		log.Printf("gateway: %v", err)
	}

	h.ToGlobal("userStatusChange", statusChange{
		UserID: ident.UserID, IsOnline: true, OnlineUsers: online,
	})
	c.Emit("onlineUsersList", online)

	if ws != nil {
		go c.writePump(h.pingInterval, h.pongTimeout/2)
	}
	return c
}

// ToGlobal publishes an event to every connection on every instance.
func (h *Hub) ToGlobal(event string, data interface{}) error {
	ev, err := wrapPayload(event, data, 0)
	if err != nil {
		return err
	}
	return h.bus.PublishGlobal(ev)
}

// Disconnect tears a connection down: room index, user subscription,
// presence. The offline transition is broadcast only if this was the user's
// live connection; a superseded socket disconnecting changes nothing.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	if cur, ok := h.users[c.ident.UserID]; ok && cur == c {
		delete(h.users, c.ident.UserID)
	}
	for token, members := range h.rooms {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, token)
			if sub, ok := h.roomSubs[token]; ok {
				sub.Unsubscribe()
				delete(h.roomSubs, token)
			}
		}
	}
	userSub := h.userSubs[c.ID]
	delete(h.userSubs, c.ID)
	h.mu.Unlock()

	if userSub != nil {
		userSub.Unsubscribe()
	}

	userID, changed, online := h.presence.MarkOffline(c.ID)
	if changed {
		if err := h.store.SetUserOnline(userID, false); err != nil {
			log.Printf("gateway: %v", err)
		}
		h.ToGlobal("userStatusChange", statusChange{
			UserID: userID, IsOnline: false, OnlineUsers: online,
		})
	}
	c.assembler.Reset()
	c.close()
}

// Join adds the connection to a room's local index. The first local member
// opens the room's bus subscription.
func (h *Hub) Join(c *Conn, roomToken string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomToken]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[roomToken] = members
	}
	members[c.ID] = c
	if _, subscribed := h.roomSubs[roomToken]; !subscribed {
		sub, err := h.bus.SubscribeRoom(roomToken, h.deliverRoom(roomToken))
		if err != nil {
			return fmt.Errorf("gateway: subscribe room %s: %w", roomToken, err)
		}
		h.roomSubs[roomToken] = sub
	}
	return nil
}

// Leave removes the connection from a room; the last local member out closes
// the bus subscription.
func (h *Hub) Leave(c *Conn, roomToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomToken]
	if !ok {
		return
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomToken)
		if sub, ok := h.roomSubs[roomToken]; ok {
			sub.Unsubscribe()
			delete(h.roomSubs, roomToken)
		}
	}
}

// ResyncPresence pushes the online set to this instance's own connections.
// Scheduled periodically so clients that missed a status broadcast converge.
// Delivery stays local: each instance tracks its own connections, and a
// global publish would overwrite other instances' views with a partial set.
func (h *Hub) ResyncPresence() {
	online := h.presence.ListOnline()
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.Emit("onlineUsersList", online)
	}
}

// Close disconnects every connection and drops the global subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		h.Disconnect(c)
	}
	if h.globalSub != nil {
		h.globalSub.Unsubscribe()
	}
	return nil
}
