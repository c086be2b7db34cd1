// Package presence tracks which users currently hold an open, authenticated
// connection on this process. State is soft: it is rebuilt from zero on
// restart, and cross-instance convergence comes from broadcasting every
// mutation over the bus.
package presence

import (
	"sort"
	"sync"
)

// Tracker maps user ids to their single active connection. A user has at
// most one mapping; a newer connection silently supersedes the old one.
type Tracker struct {
	mu       sync.RWMutex
	userConn map[uint]string // userID -> connection id
	connUser map[string]uint // connection id -> userID
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{
		userConn: make(map[uint]string),
		connUser: make(map[string]uint),
	}
}

// MarkOnline records connID as the active connection for userID and returns
// the updated online set for broadcast. An existing mapping for the same
// user is replaced.
func (t *Tracker) MarkOnline(connID string, userID uint) []uint {
	t.mu.Lock()
	if old, ok := t.userConn[userID]; ok && old != connID {
		delete(t.connUser, old)
	}
	t.userConn[userID] = connID
	t.connUser[connID] = userID
	online := t.onlineLocked()
	t.mu.Unlock()
	return online
}

// MarkOffline removes the mapping owned by connID. It reports the affected
// user and whether the online set actually changed; a stale connection
// (already superseded by a reconnect) changes nothing.
func (t *Tracker) MarkOffline(connID string) (userID uint, changed bool, online []uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	userID, ok := t.connUser[connID]
	if !ok {
		return 0, false, t.onlineLocked()
	}
	delete(t.connUser, connID)
	if t.userConn[userID] == connID {
		delete(t.userConn, userID)
		return userID, true, t.onlineLocked()
	}
	return userID, false, t.onlineLocked()
}

// ListOnline returns a sorted snapshot of online user ids.
func (t *Tracker) ListOnline() []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onlineLocked()
}

// FriendsOnline filters candidates down to those currently online.
func (t *Tracker) FriendsOnline(candidates []uint) []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var online []uint
	for _, id := range candidates {
		if _, ok := t.userConn[id]; ok {
			online = append(online, id)
		}
	}
	return online
}

// IsOnline reports whether userID has an active connection.
func (t *Tracker) IsOnline(userID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.userConn[userID]
	return ok
}

// ConnFor returns the active connection id for userID, if any.
func (t *Tracker) ConnFor(userID uint) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	connID, ok := t.userConn[userID]
	return connID, ok
}

func (t *Tracker) onlineLocked() []uint {
	online := make([]uint, 0, len(t.userConn))
	for id := range t.userConn {
		online = append(online, id)
	}
	sort.Slice(online, func(i, j int) bool { return online[i] < online[j] })
	return online
}
