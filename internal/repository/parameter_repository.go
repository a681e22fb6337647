package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"spreadarb/internal/models"
)

// ErrParameterNotFound - параметра нет в таблице
var ErrParameterNotFound = errors.New("parameter not found")

// ParameterRepository - работа с таблицей risk_parameters
type ParameterRepository struct {
	db *sql.DB
}

// NewParameterRepository создает новый экземпляр репозитория
func NewParameterRepository(db *sql.DB) *ParameterRepository {
	return &ParameterRepository{db: db}
}

// GetParameters возвращает все сохраненные параметры
func (r *ParameterRepository) GetParameters(ctx context.Context) ([]*models.RiskParameter, error) {
	query := `
		SELECT name, value, min_value, max_value, description, updated_at
		FROM risk_parameters
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.RiskParameter
	for rows.Next() {
		p := &models.RiskParameter{}
		err := rows.Scan(
			&p.Name,
			&p.Value,
			&p.MinValue,
			&p.MaxValue,
			&p.Description,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateParameter сохраняет новое значение
func (r *ParameterRepository) UpdateParameter(ctx context.Context, name string, value float64, updatedAt time.Time) error {
	query := `
		UPDATE risk_parameters
		SET value = $1, updated_at = $2
		WHERE name = $3`

	result, err := r.db.ExecContext(ctx, query, value, updatedAt.UTC(), name)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrParameterNotFound
	}

	return nil
}

// Upsert создает параметр со значением по умолчанию или обновляет его границы и описание.
// Сохраненное значение не меняется.
func (r *ParameterRepository) Upsert(ctx context.Context, p *models.RiskParameter) error {
	query := `
		INSERT INTO risk_parameters (name, value, min_value, max_value, description, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET min_value = EXCLUDED.min_value,
			max_value = EXCLUDED.max_value,
			description = EXCLUDED.description`

	_, err := r.db.ExecContext(ctx, query,
		p.Name,
		p.Value,
		p.MinValue,
		p.MaxValue,
		p.Description,
		p.UpdatedAt.UTC(),
	)
	return err
}
