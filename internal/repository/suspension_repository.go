package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"spreadarb/internal/models"
)

// ErrSuspensionNotFound - символ не приостановлен
var ErrSuspensionNotFound = errors.New("suspension not found")

const suspensionColumns = `id, symbol, reason, trade_id, created_at, expires_at`

// SuspensionRepository - работа с таблицей suspensions
type SuspensionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSuspensionRepository создает новый экземпляр репозитория
func NewSuspensionRepository(db *sql.DB) *SuspensionRepository {
	return &SuspensionRepository{db: db, now: time.Now}
}

// Create приостанавливает символ. Повторная приостановка не сокращает действующую:
// бессрочная остается бессрочной, срочная продлевается до большего срока.
func (r *SuspensionRepository) Create(ctx context.Context, s *models.Suspension) error {
	query := `
		INSERT INTO suspensions (symbol, reason, trade_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE
		SET reason = CASE WHEN suspensions.expires_at IS NULL
				THEN suspensions.reason ELSE EXCLUDED.reason END,
			trade_id = CASE WHEN suspensions.expires_at IS NULL
				THEN suspensions.trade_id ELSE EXCLUDED.trade_id END,
			created_at = CASE WHEN suspensions.expires_at IS NULL
				THEN suspensions.created_at ELSE EXCLUDED.created_at END,
			expires_at = CASE WHEN suspensions.expires_at IS NULL OR EXCLUDED.expires_at IS NULL THEN NULL
				ELSE GREATEST(suspensions.expires_at, EXCLUDED.expires_at) END
		RETURNING id`

	s.Symbol = strings.ToUpper(s.Symbol)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = r.now().UTC()
	}

	var expires interface{}
	if s.ExpiresAt != nil {
		expires = s.ExpiresAt.UTC()
	}

	return r.db.QueryRowContext(ctx, query,
		s.Symbol,
		s.Reason,
		s.TradeID,
		s.CreatedAt,
		expires,
	).Scan(&s.ID)
}

func scanSuspensions(rows *sql.Rows) ([]*models.Suspension, error) {
	defer rows.Close()

	list := []*models.Suspension{}
	for rows.Next() {
		s := &models.Suspension{}
		var expires sql.NullTime
		err := rows.Scan(
			&s.ID,
			&s.Symbol,
			&s.Reason,
			&s.TradeID,
			&s.CreatedAt,
			&expires,
		)
		if err != nil {
			return nil, err
		}
		if expires.Valid {
			t := expires.Time.UTC()
			s.ExpiresAt = &t
		}
		list = append(list, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// GetActive возвращает действующие приостановки по алфавиту
func (r *SuspensionRepository) GetActive(ctx context.Context) ([]*models.Suspension, error) {
	query := `
		SELECT ` + suspensionColumns + `
		FROM suspensions
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, r.now().UTC())
	if err != nil {
		return nil, err
	}
	return scanSuspensions(rows)
}

// GetBySymbols возвращает записи по списку символов, включая истекшие
func (r *SuspensionRepository) GetBySymbols(ctx context.Context, symbols []string) ([]*models.Suspension, error) {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}

	query := `
		SELECT ` + suspensionColumns + `
		FROM suspensions
		WHERE symbol = ANY($1)
		ORDER BY symbol`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(upper))
	if err != nil {
		return nil, err
	}
	return scanSuspensions(rows)
}

// Delete снимает приостановку символа
func (r *SuspensionRepository) Delete(ctx context.Context, symbol string) error {
	query := `DELETE FROM suspensions WHERE symbol = $1`

	result, err := r.db.ExecContext(ctx, query, strings.ToUpper(symbol))
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSuspensionNotFound
	}

	return nil
}

// Exists проверяет наличие действующей приостановки
func (r *SuspensionRepository) Exists(ctx context.Context, symbol string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM suspensions
			WHERE symbol = $1 AND (expires_at IS NULL OR expires_at > $2))`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, strings.ToUpper(symbol), r.now().UTC()).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// DeleteExpired удаляет истекшие срочные приостановки
func (r *SuspensionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM suspensions WHERE expires_at IS NOT NULL AND expires_at <= $1`

	result, err := r.db.ExecContext(ctx, query, r.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
