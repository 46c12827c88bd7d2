// session/session.go
package session

import (
	"sync"
	"time"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/network"
)

// ConnectionType tags a socket as the DM controller or a player.
type ConnectionType string

const (
	ConnectionDM     ConnectionType = "dm"
	ConnectionPlayer ConnectionType = "player"
)

// Status of a connection; offline connections are about to be destroyed.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Connection is the ephemeral record of one open socket in a game session.
// It never owns seat data; SeatID only points at the seat it resolved to.
type Connection struct {
	ID         string
	SessionID  string
	UserID     string
	Type       ConnectionType
	Conn       network.Connection
	seatID     string
	status     Status
	lastActive time.Time
	mutex      sync.RWMutex
}

func NewConnection(id, sessionID, userID string, connType ConnectionType, conn network.Connection) *Connection {
	return &Connection{
		ID:         id,
		SessionID:  sessionID,
		UserID:     userID,
		Type:       connType,
		Conn:       conn,
		status:     StatusOnline,
		lastActive: time.Now(),
	}
}

func (c *Connection) Send(data []byte) error {
	if c.Conn == nil {
		return network.ErrConnectionClosed
	}
	return c.Conn.Send(data)
}

func (c *Connection) SeatID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.seatID
}

func (c *Connection) setSeat(seatID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.seatID = seatID
}

func (c *Connection) Status() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.status
}

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastActive = time.Now()
}

func (c *Connection) LastActive() time.Time {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.lastActive
}

func (c *Connection) markOffline() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = StatusOffline
}

func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// room holds the live connections of one game session.
type room struct {
	connections map[string]*Connection
	dm          *Connection
}

// Tracker is the ConnectionTracker: live connections grouped per session.
type Tracker struct {
	byID  map[string]*Connection
	rooms map[string]*room
	mutex sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		byID:  make(map[string]*Connection),
		rooms: make(map[string]*room),
	}
}

// Register adds c. A second live DM connection for the same session is
// rejected with AlreadyConnected.
func (t *Tracker) Register(c *Connection) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	r, ok := t.rooms[c.SessionID]
	if !ok {
		r = &room{connections: make(map[string]*Connection)}
		t.rooms[c.SessionID] = r
	}
	if c.Type == ConnectionDM {
		if r.dm != nil {
			return errs.WithMetadata(errs.CodeAlreadyConnected, "dm already connected", map[string]string{
				"session_id":    c.SessionID,
				"connection_id": r.dm.ID,
			})
		}
		r.dm = c
	}
	r.connections[c.ID] = c
	t.byID[c.ID] = c
	return nil
}

// Remove destroys the connection record and returns it.
func (t *Tracker) Remove(connectionID string) (*Connection, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	c, ok := t.byID[connectionID]
	if !ok {
		return nil, false
	}
	c.markOffline()
	delete(t.byID, connectionID)
	if r, ok := t.rooms[c.SessionID]; ok {
		delete(r.connections, connectionID)
		if r.dm == c {
			r.dm = nil
		}
		if len(r.connections) == 0 {
			delete(t.rooms, c.SessionID)
		}
	}
	return c, true
}

// RemoveSession destroys every connection of a session and returns them.
func (t *Tracker) RemoveSession(sessionID string) []*Connection {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	r, ok := t.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(r.connections))
	for id, c := range r.connections {
		c.markOffline()
		delete(t.byID, id)
		out = append(out, c)
	}
	delete(t.rooms, sessionID)
	return out
}

func (t *Tracker) Get(connectionID string) (*Connection, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	c, ok := t.byID[connectionID]
	return c, ok
}

// DM returns the live DM connection of a session.
func (t *Tracker) DM(sessionID string) (*Connection, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	r, ok := t.rooms[sessionID]
	if !ok || r.dm == nil {
		return nil, false
	}
	return r.dm, true
}

// Connections returns a copy of the session's connections, optionally
// filtered by type.
func (t *Tracker) Connections(sessionID string, types ...ConnectionType) []*Connection {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	r, ok := t.rooms[sessionID]
	if !ok {
		return nil
	}
	out := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		if len(types) == 0 || hasType(types, c.Type) {
			out = append(out, c)
		}
	}
	return out
}

// IsUserOnline reports whether userID has any live connection in the session.
func (t *Tracker) IsUserOnline(sessionID, userID string) bool {
	if userID == "" {
		return false
	}
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return false
	}
	for _, c := range r.connections {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// OnlineUsers returns the set of users with a live connection in the session.
func (t *Tracker) OnlineUsers(sessionID string) map[string]bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	out := make(map[string]bool)
	if r, ok := t.rooms[sessionID]; ok {
		for _, c := range r.connections {
			out[c.UserID] = true
		}
	}
	return out
}

// ResolveSeat points every connection userID holds in the session at
// seatID ("" clears the mapping).
func (t *Tracker) ResolveSeat(sessionID, userID, seatID string) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	r, ok := t.rooms[sessionID]
	if !ok {
		return
	}
	for _, c := range r.connections {
		if c.UserID == userID {
			c.setSeat(seatID)
		}
	}
}

// Bind sets the seat of a single connection.
func (t *Tracker) Bind(connectionID, seatID string) bool {
	c, ok := t.Get(connectionID)
	if !ok {
		return false
	}
	c.setSeat(seatID)
	return true
}

// Idle returns the connections that have been silent since before cutoff.
func (t *Tracker) Idle(cutoff time.Time) []*Connection {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	var out []*Connection
	for _, c := range t.byID {
		if c.LastActive().Before(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns live connections per type across all sessions.
func (t *Tracker) Count() map[ConnectionType]int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	out := map[ConnectionType]int{ConnectionDM: 0, ConnectionPlayer: 0}
	for _, c := range t.byID {
		out[c.Type]++
	}
	return out
}

func hasType(types []ConnectionType, want ConnectionType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
