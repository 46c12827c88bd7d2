// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/wfunc/seatkeeper/models"
)

// unique_violation
const pqUniqueViolation = "23505"

// PostgreSQL is the SeatStore on database/sql and lib/pq.
type PostgreSQL struct {
	db *sql.DB
}

// NewPostgreSQL 创建 PostgreSQL 数据库连接
func NewPostgreSQL(cfg PostgresConfig) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	// 设置连接池参数
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(ctx, db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

// initTables 初始化数据库表结构
func initTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS sessions (
            id VARCHAR(64) PRIMARY KEY,
            dm_user_id VARCHAR(64) NOT NULL,
            player_seat_count INT NOT NULL,
            campaign_status VARCHAR(16) NOT NULL DEFAULT 'setup',
            room_status VARCHAR(16) NOT NULL DEFAULT 'waiting',
            created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS seats (
            id VARCHAR(64) PRIMARY KEY,
            session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
            seat_type VARCHAR(16) NOT NULL,
            slot_index INT NOT NULL,
            owner_user_id VARCHAR(64),
            character_id VARCHAR(64),
            version BIGINT NOT NULL DEFAULT 0,
            updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        CREATE INDEX IF NOT EXISTS idx_seats_session_id ON seats(session_id);
        CREATE UNIQUE INDEX IF NOT EXISTS idx_seat_owner ON seats(session_id, owner_user_id)
            WHERE owner_user_id IS NOT NULL;
    `)
	return err
}

func (p *PostgreSQL) CreateSession(ctx context.Context, session models.Session, seats []models.Seat) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO sessions (id, dm_user_id, player_seat_count, campaign_status, room_status)
        VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.DMUserID, session.PlayerSeatCount,
		string(session.CampaignStatus), string(session.RoomStatus))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO seats (id, session_id, seat_type, slot_index, owner_user_id, character_id, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, seat := range seats {
		if _, err := stmt.ExecContext(ctx, seat.ID, seat.SessionID, string(seat.Type), seat.SlotIndex,
			nullString(seat.OwnerUserID), nullString(seat.CharacterID), seat.Version); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgreSQL) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	row := p.db.QueryRowContext(ctx, `
        SELECT id, dm_user_id, player_seat_count, campaign_status, room_status, created_at, updated_at
        FROM sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrRecordNotFound
	}
	return session, err
}

func (p *PostgreSQL) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := p.db.QueryContext(ctx, `
        SELECT id, dm_user_id, player_seat_count, campaign_status, room_status, created_at, updated_at
        FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (p *PostgreSQL) ListSeats(ctx context.Context, sessionID string) ([]models.Seat, error) {
	if _, err := p.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
        SELECT id, session_id, seat_type, slot_index, owner_user_id, character_id, version
        FROM seats WHERE session_id = $1 ORDER BY slot_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seat)
	}
	return out, rows.Err()
}

func (p *PostgreSQL) GetSeat(ctx context.Context, sessionID, seatID string) (models.Seat, error) {
	return getSeat(ctx, p.db, sessionID, seatID)
}

// CompareAndSwapSeats applies the batch inside one transaction.
func (p *PostgreSQL) CompareAndSwapSeats(ctx context.Context, sessionID string, updates ...SeatUpdate) ([]models.Seat, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Releases before claims keep the partial unique index satisfied mid-batch.
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
		current, err := getSeat(ctx, tx, sessionID, u.SeatID)
		if err != nil {
			return nil, err
		}
		next, err := u.apply(current)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
            UPDATE seats SET owner_user_id = $1, character_id = $2, version = $3, updated_at = CURRENT_TIMESTAMP
            WHERE session_id = $4 AND id = $5 AND version = $6`,
			nullString(next.OwnerUserID), nullString(next.CharacterID), next.Version,
			sessionID, u.SeatID, u.ExpectedVersion)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrOwnerTaken
			}
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrVersionMismatch
		}
	}

	result := make([]models.Seat, 0, len(updates))
	for _, u := range updates {
		seat, err := getSeat(ctx, tx, sessionID, u.SeatID)
		if err != nil {
			return nil, err
		}
		result = append(result, seat)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *PostgreSQL) TransitionCampaign(ctx context.Context, sessionID string, from, to models.CampaignStatus) error {
	res, err := p.db.ExecContext(ctx, `
        UPDATE sessions SET campaign_status = $1, updated_at = CURRENT_TIMESTAMP
        WHERE id = $2 AND campaign_status = $3`, string(to), sessionID, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

func (p *PostgreSQL) SetRoomStatus(ctx context.Context, sessionID string, status models.RoomStatus) error {
	res, err := p.db.ExecContext(ctx, `
        UPDATE sessions SET room_status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		string(status), sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) DeleteSession(ctx context.Context, sessionID string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Close 关闭数据库连接
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func getSeat(ctx context.Context, q queryer, sessionID, seatID string) (models.Seat, error) {
	row := q.QueryRowContext(ctx, `
        SELECT id, session_id, seat_type, slot_index, owner_user_id, character_id, version
        FROM seats WHERE session_id = $1 AND id = $2`, sessionID, seatID)
	seat, err := scanSeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Seat{}, ErrRecordNotFound
	}
	return seat, err
}

func scanSession(s scanner) (models.Session, error) {
	var session models.Session
	var campaign, room string
	err := s.Scan(&session.ID, &session.DMUserID, &session.PlayerSeatCount,
		&campaign, &room, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return models.Session{}, err
	}
	session.CampaignStatus = models.CampaignStatus(campaign)
	session.RoomStatus = models.RoomStatus(room)
	return session, nil
}

func scanSeat(s scanner) (models.Seat, error) {
	var seat models.Seat
	var seatType string
	var owner, character sql.NullString
	err := s.Scan(&seat.ID, &seat.SessionID, &seatType, &seat.SlotIndex, &owner, &character, &seat.Version)
	if err != nil {
		return models.Seat{}, err
	}
	seat.Type = models.SeatType(seatType)
	seat.OwnerUserID = owner.String
	seat.CharacterID = character.String
	return seat, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
