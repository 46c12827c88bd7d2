// persistence/memory.go
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/seatkeeper/models"
)

// sessionRecord holds one session's rows behind its own lock.
type sessionRecord struct {
	mutex   sync.RWMutex
	session models.Session
	seats   map[string]models.Seat
	order   []string
}

// MemoryStore keeps sessions in process memory. It is the default store and
// the one tests run against.
type MemoryStore struct {
	sessions map[string]*sessionRecord
	mutex    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionRecord),
	}
}

func (m *MemoryStore) record(sessionID string) (*sessionRecord, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session models.Session, seats []models.Seat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	rec := &sessionRecord{
		session: session,
		seats:   make(map[string]models.Seat, len(seats)),
		order:   make([]string, 0, len(seats)),
	}
	for _, seat := range seats {
		rec.seats[seat.ID] = seat
		rec.order = append(rec.order, seat.ID)
	}
	m.sessions[session.ID] = rec
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return models.Session{}, err
	}
	rec.mutex.RLock()
	defer rec.mutex.RUnlock()
	return rec.session, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mutex.RLock()
	records := make([]*sessionRecord, 0, len(m.sessions))
	for _, rec := range m.sessions {
		records = append(records, rec)
	}
	m.mutex.RUnlock()

	out := make([]models.Session, 0, len(records))
	for _, rec := range records {
		rec.mutex.RLock()
		out = append(out, rec.session)
		rec.mutex.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListSeats(ctx context.Context, sessionID string) ([]models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mutex.RLock()
	defer rec.mutex.RUnlock()
	seats := make([]models.Seat, 0, len(rec.order))
	for _, id := range rec.order {
		seats = append(seats, rec.seats[id])
	}
	return seats, nil
}

func (m *MemoryStore) GetSeat(ctx context.Context, sessionID, seatID string) (models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return models.Seat{}, err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return models.Seat{}, err
	}
	rec.mutex.RLock()
	defer rec.mutex.RUnlock()
	seat, ok := rec.seats[seatID]
	if !ok {
		return models.Seat{}, ErrRecordNotFound
	}
	return seat, nil
}

// CompareAndSwapSeats validates the whole batch before touching any row.
func (m *MemoryStore) CompareAndSwapSeats(ctx context.Context, sessionID string, updates ...SeatUpdate) ([]models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return nil, err
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	staged := make(map[string]models.Seat, len(updates))
	result := make([]models.Seat, 0, len(updates))
	for _, u := range updates {
		current, ok := staged[u.SeatID]
		if !ok {
			current, ok = rec.seats[u.SeatID]
		}
		if !ok {
			return nil, ErrRecordNotFound
		}
		next, err := u.apply(current)
		if err != nil {
			return nil, err
		}
		staged[u.SeatID] = next
	}

	owners := make(map[string]string, len(rec.seats))
	for id, seat := range rec.seats {
		if s, ok := staged[id]; ok {
			seat = s
		}
		if seat.OwnerUserID == "" {
			continue
		}
		if _, taken := owners[seat.OwnerUserID]; taken {
			return nil, ErrOwnerTaken
		}
		owners[seat.OwnerUserID] = id
	}

	for _, u := range updates {
		rec.seats[u.SeatID] = staged[u.SeatID]
	}
	for _, u := range updates {
		result = append(result, rec.seats[u.SeatID])
	}
	rec.session.UpdatedAt = time.Now()
	return result, nil
}

func (m *MemoryStore) TransitionCampaign(ctx context.Context, sessionID string, from, to models.CampaignStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return err
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	if rec.session.CampaignStatus != from {
		return ErrVersionMismatch
	}
	rec.session.CampaignStatus = to
	rec.session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SetRoomStatus(ctx context.Context, sessionID string, status models.RoomStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, err := m.record(sessionID)
	if err != nil {
		return err
	}
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	rec.session.RoomStatus = status
	rec.session.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrRecordNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
