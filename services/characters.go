// services/characters.go
package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/models"
)

// characterSheet is the part of a character payload the coordinator reads.
// Everything else is stored untouched.
type characterSheet struct {
	Name string `json:"name"`
}

func parseSheet(payload json.RawMessage) (characterSheet, error) {
	var sheet characterSheet
	if err := json.Unmarshal(payload, &sheet); err != nil {
		return sheet, errs.Wrap(errs.CodeInvalidArgument, "character payload must be a JSON object", err)
	}
	sheet.Name = strings.TrimSpace(sheet.Name)
	if sheet.Name == "" {
		return sheet, errs.New(errs.CodeInvalidArgument, "character name is required")
	}
	return sheet, nil
}

// CharacterService persists characters with their raw payload as jsonb.
type CharacterService struct {
	db *gorm.DB
}

func NewCharacterService(db *gorm.DB) *CharacterService {
	return &CharacterService{db: db}
}

// CreateCharacter 创建角色
func (s *CharacterService) CreateCharacter(ctx context.Context, sessionID string, payload json.RawMessage) (string, error) {
	sheet, err := parseSheet(payload)
	if err != nil {
		return "", err
	}
	character := models.GormCharacter{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Name:      sheet.Name,
		Payload:   datatypes.JSON(payload),
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&character).Error; err != nil {
		return "", err
	}
	return character.ID, nil
}

// CharacterNames 批量获取角色名
func (s *CharacterService) CharacterNames(ctx context.Context, ids []string) (map[string]string, error) {
	var rows []models.GormCharacter
	if err := s.db.WithContext(ctx).Select("id", "name").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

// MemoryCharacters keeps character names in process memory. Payloads are
// validated and not retained.
type MemoryCharacters struct {
	names map[string]string
	mutex sync.RWMutex
}

func NewMemoryCharacters() *MemoryCharacters {
	return &MemoryCharacters{
		names: make(map[string]string),
	}
}

func (m *MemoryCharacters) CreateCharacter(ctx context.Context, sessionID string, payload json.RawMessage) (string, error) {
	sheet, err := parseSheet(payload)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.names[id] = sheet.Name
	return id, nil
}

func (m *MemoryCharacters) CharacterNames(ctx context.Context, ids []string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := m.names[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}
