// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/seatkeeper/models"
)

// GormPostgreSQL 使用GORM的PostgreSQL实现
type GormPostgreSQL struct {
	db *gorm.DB
}

// NewGormPostgreSQL 创建GORM PostgreSQL数据库连接
func NewGormPostgreSQL(cfg PostgresConfig) (*GormPostgreSQL, error) {
	// 配置GORM日志
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 设置连接池
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.GormSession{},
		&models.GormSeat{},
		&models.GormCharacter{},
		&models.GormMember{},
	)
}

// DB exposes the handle for collaborators sharing the database.
func (p *GormPostgreSQL) DB() *gorm.DB {
	return p.db
}

func (p *GormPostgreSQL) CreateSession(ctx context.Context, session models.Session, seats []models.Seat) error {
	row := models.GormSession{
		ID:              session.ID,
		DMUserID:        session.DMUserID,
		PlayerSeatCount: session.PlayerSeatCount,
		CampaignStatus:  string(session.CampaignStatus),
		RoomStatus:      string(session.RoomStatus),
	}
	for _, seat := range seats {
		row.Seats = append(row.Seats, models.NewGormSeat(seat))
	}
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}

func (p *GormPostgreSQL) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var row models.GormSession
	if err := p.db.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Session{}, ErrRecordNotFound
		}
		return models.Session{}, err
	}
	return row.ToSession(), nil
}

func (p *GormPostgreSQL) ListSessions(ctx context.Context) ([]models.Session, error) {
	var rows []models.GormSession
	if err := p.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToSession())
	}
	return out, nil
}

func (p *GormPostgreSQL) ListSeats(ctx context.Context, sessionID string) ([]models.Seat, error) {
	var count int64
	if err := p.db.WithContext(ctx).Model(&models.GormSession{}).Where("id = ?", sessionID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrRecordNotFound
	}
	var rows []models.GormSeat
	if err := p.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("slot_index").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Seat, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToSeat())
	}
	return out, nil
}

func (p *GormPostgreSQL) GetSeat(ctx context.Context, sessionID, seatID string) (models.Seat, error) {
	var row models.GormSeat
	err := p.db.WithContext(ctx).Where("session_id = ? AND id = ?", sessionID, seatID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Seat{}, ErrRecordNotFound
		}
		return models.Seat{}, err
	}
	return row.ToSeat(), nil
}

// CompareAndSwapSeats runs the batch in one transaction; any version miss
// rolls back every row of the batch.
func (p *GormPostgreSQL) CompareAndSwapSeats(ctx context.Context, sessionID string, updates ...SeatUpdate) ([]models.Seat, error) {
	result := make([]models.Seat, 0, len(updates))
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Clear owners first so a switch never trips the unique owner index mid-batch.
		ordered := make([]SeatUpdate, 0, len(updates))
		for _, u := range updates {
			if u.OwnerUserID == "" {
				ordered = append(ordered, u)
			}
		}
		for _, u := range updates {
			if u.OwnerUserID != "" {
				ordered = append(ordered, u)
			}
		}

		for _, u := range ordered {
			var current models.GormSeat
			if err := tx.Where("session_id = ? AND id = ?", sessionID, u.SeatID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrRecordNotFound
				}
				return err
			}
			next, err := u.apply(current.ToSeat())
			if err != nil {
				return err
			}
			row := models.NewGormSeat(next)
			res := tx.Model(&models.GormSeat{}).
				Where("session_id = ? AND id = ? AND version = ?", sessionID, u.SeatID, u.ExpectedVersion).
				Updates(map[string]interface{}{
					"owner_user_id": row.OwnerUserID,
					"character_id":  row.CharacterID,
					"version":       next.Version,
					"updated_at":    time.Now(),
				})
			if res.Error != nil {
				if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
					return ErrOwnerTaken
				}
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionMismatch
			}
		}
		for _, u := range updates {
			var row models.GormSeat
			if err := tx.Where("session_id = ? AND id = ?", sessionID, u.SeatID).First(&row).Error; err != nil {
				return err
			}
			result = append(result, row.ToSeat())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *GormPostgreSQL) TransitionCampaign(ctx context.Context, sessionID string, from, to models.CampaignStatus) error {
	res := p.db.WithContext(ctx).Model(&models.GormSession{}).
		Where("id = ? AND campaign_status = ?", sessionID, string(from)).
		Update("campaign_status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := p.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

func (p *GormPostgreSQL) SetRoomStatus(ctx context.Context, sessionID string, status models.RoomStatus) error {
	res := p.db.WithContext(ctx).Model(&models.GormSession{}).
		Where("id = ?", sessionID).
		Update("room_status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) DeleteSession(ctx context.Context, sessionID string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.GormSeat{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", sessionID).Delete(&models.GormSession{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

// Close 关闭数据库连接
func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
