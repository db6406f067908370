// Package presence maintains the live binding between transport connections
// and user identities, plus the set of signaling rooms each connection has
// joined. All state is in-memory and rebuilt from zero on restart; a user who
// reconnects simply registers again under a fresh connection ID.
package presence

import "sync"

// Registry is the thread-safe presence map. It supports lookups in both
// directions: connection -> user (for inbound events) and user -> live
// connections (for addressing outbound events).
type Registry struct {
	mu          sync.RWMutex
	userByConn  map[string]string          // connectionID -> userID
	connsByUser map[string]map[string]bool // userID -> set of connectionIDs
	roomsByConn map[string]map[string]bool // connectionID -> set of roomIDs
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		userByConn:  make(map[string]string),
		connsByUser: make(map[string]map[string]bool),
		roomsByConn: make(map[string]map[string]bool),
	}
}

// Register binds a connection to a user identity. Registering the same
// connection again is idempotent; registering it for a different user moves
// it (the previous binding is dropped first). A user may hold several live
// connections at once, one per device.
func (r *Registry) Register(connID, userID string) {
	if connID == "" || userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.userByConn[connID]; ok {
		if prev == userID {
			return
		}
		r.detachLocked(connID, prev)
	}

	r.userByConn[connID] = userID
	if r.connsByUser[userID] == nil {
		r.connsByUser[userID] = make(map[string]bool)
	}
	r.connsByUser[userID][connID] = true
}

// Unregister removes the connection's identity binding and forgets every
// room it had joined. After Unregister returns, Resolve never yields this
// connection again and Rooms reports it in no room. Cleanup is eager so that
// no fan-out path can pick up a dead connection.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userID, ok := r.userByConn[connID]; ok {
		r.detachLocked(connID, userID)
	}
	delete(r.roomsByConn, connID)
}

// detachLocked removes connID from userID's connection set. Caller holds the
// write lock.
func (r *Registry) detachLocked(connID, userID string) {
	delete(r.userByConn, connID)
	if conns := r.connsByUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.connsByUser, userID)
		}
	}
}

// Resolve returns all live connection IDs for a user. The slice is a copy;
// an unknown user yields an empty slice, never an error.
func (r *Registry) Resolve(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.connsByUser[userID]
	out := make([]string, 0, len(conns))
	for connID := range conns {
		out = append(out, connID)
	}
	return out
}

// UserFor returns the user bound to a connection, or "" if the connection is
// unregistered.
func (r *Registry) UserFor(connID string) string {
	r.mu.RLock()
	userID := r.userByConn[connID]
	r.mu.RUnlock()
	return userID
}

// JoinRoom records that the connection is a member of the room. Unregistered
// connections may not join rooms.
func (r *Registry) JoinRoom(connID, roomID string) bool {
	if roomID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.userByConn[connID]; !ok {
		return false
	}
	if r.roomsByConn[connID] == nil {
		r.roomsByConn[connID] = make(map[string]bool)
	}
	r.roomsByConn[connID][roomID] = true
	return true
}

// InRoom reports whether the connection is currently a member of the room.
func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	ok := r.roomsByConn[connID][roomID]
	r.mu.RUnlock()
	return ok
}

// Rooms returns the rooms the connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := r.roomsByConn[connID]
	out := make([]string, 0, len(rooms))
	for roomID := range rooms {
		out = append(out, roomID)
	}
	return out
}

// RoomMembers returns every connection currently joined to the room. The
// scan is linear over live connections; room population is two users' worth
// of devices, so no reverse index is kept.
func (r *Registry) RoomMembers(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for connID, rooms := range r.roomsByConn {
		if rooms[roomID] {
			out = append(out, connID)
		}
	}
	return out
}

// ConnCount returns the number of registered connections.
func (r *Registry) ConnCount() int {
	r.mu.RLock()
	n := len(r.userByConn)
	r.mu.RUnlock()
	return n
}
