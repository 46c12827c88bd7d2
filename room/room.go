// room/room.go
package room

import (
	"sync"
)

// Room is the per-session critical section. Every seat mutation of a
// session runs while holding its Room lock.
type Room struct {
	ID    string
	mutex sync.Mutex
	refs  int
}

// Manager hands out Room locks keyed by session id. An entry lives only
// while someone holds or waits for it, so unknown or deleted sessions
// leave nothing behind and waiters always share one Room.
type Manager struct {
	rooms map[string]*Room
	mutex sync.Mutex
}

// NewRoomManager 创建一个新的房间管理器
func NewRoomManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Lock acquires the session's critical section and returns its release.
func (m *Manager) Lock(sessionID string) func() {
	m.mutex.Lock()
	room, exists := m.rooms[sessionID]
	if !exists {
		room = &Room{ID: sessionID}
		m.rooms[sessionID] = room
	}
	room.refs++
	m.mutex.Unlock()

	room.mutex.Lock()
	var once sync.Once
	return func() {
		once.Do(func() { m.release(room) })
	}
}

func (m *Manager) release(room *Room) {
	room.mutex.Unlock()

	m.mutex.Lock()
	defer m.mutex.Unlock()
	room.refs--
	if room.refs == 0 {
		delete(m.rooms, room.ID)
	}
}

// Len returns the number of sessions whose lock is held or awaited.
func (m *Manager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.rooms)
}
