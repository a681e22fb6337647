package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const heartbeatKey = "heartbeat"

// HeartbeatRepository хранит время последнего цикла в таблице system_state
type HeartbeatRepository struct {
	db *sql.DB
}

// NewHeartbeatRepository создает новый экземпляр репозитория
func NewHeartbeatRepository(db *sql.DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// Beat записывает время цикла
func (r *HeartbeatRepository) Beat(ctx context.Context, at time.Time) error {
	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	at = at.UTC()
	_, err := r.db.ExecContext(ctx, query, heartbeatKey, at.Format(time.RFC3339Nano), at)
	return err
}

// Last возвращает время последнего heartbeat, nil если его еще не было
func (r *HeartbeatRepository) Last(ctx context.Context) (*time.Time, error) {
	query := `SELECT updated_at FROM system_state WHERE key = $1`

	var at time.Time
	err := r.db.QueryRowContext(ctx, query, heartbeatKey).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	at = at.UTC()
	return &at, nil
}
