// services/membership.go
package services

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/wfunc/seatkeeper/models"
)

// OpenMembership treats every user as a member of every session.
type OpenMembership struct{}

func (OpenMembership) IsMember(ctx context.Context, sessionID, userID string) (bool, error) {
	return userID != "", nil
}

// StaticMembership admits a fixed set of users to every session, plus the
// users invited to a single session.
type StaticMembership struct {
	users    map[string]struct{}
	sessions map[string]map[string]struct{}
	mutex    sync.RWMutex
}

func NewStaticMembership(users ...string) *StaticMembership {
	m := &StaticMembership{
		users:    make(map[string]struct{}, len(users)),
		sessions: make(map[string]map[string]struct{}),
	}
	for _, u := range users {
		m.users[u] = struct{}{}
	}
	return m
}

func (m *StaticMembership) AddMember(ctx context.Context, sessionID, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	invited, ok := m.sessions[sessionID]
	if !ok {
		invited = make(map[string]struct{})
		m.sessions[sessionID] = invited
	}
	invited[userID] = struct{}{}
	return nil
}

// RemoveMember drops a per-session invite. Users from the fixed set stay.
func (m *StaticMembership) RemoveMember(ctx context.Context, sessionID, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if invited, ok := m.sessions[sessionID]; ok {
		delete(invited, userID)
		if len(invited) == 0 {
			delete(m.sessions, sessionID)
		}
	}
	return nil
}

func (m *StaticMembership) IsMember(ctx context.Context, sessionID, userID string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.users[userID]; ok {
		return true, nil
	}
	_, ok := m.sessions[sessionID][userID]
	return ok, nil
}

// MemberDirectory keeps per-session membership in the session_members table.
type MemberDirectory struct {
	db *gorm.DB
}

func NewMemberDirectory(db *gorm.DB) *MemberDirectory {
	return &MemberDirectory{db: db}
}

// AddMember 添加成员 (幂等)
func (d *MemberDirectory) AddMember(ctx context.Context, sessionID, userID string) error {
	member := models.GormMember{SessionID: sessionID, UserID: userID, CreatedAt: time.Now()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}

// RemoveMember 移除成员
func (d *MemberDirectory) RemoveMember(ctx context.Context, sessionID, userID string) error {
	return d.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Delete(&models.GormMember{}).Error
}

func (d *MemberDirectory) IsMember(ctx context.Context, sessionID, userID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.GormMember{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
