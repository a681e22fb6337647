package models

import "time"

// RiskParameter - настраиваемый во время работы риск-параметр с границами
type RiskParameter struct {
	Name        string    `json:"name" db:"name"`
	Value       float64   `json:"value" db:"value"`
	MinValue    float64   `json:"min_value" db:"min_value"`
	MaxValue    float64   `json:"max_value" db:"max_value"`
	Description string    `json:"description" db:"description"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// InBounds проверяет что значение лежит в [MinValue, MaxValue]
func (p RiskParameter) InBounds(v float64) bool {
	return v >= p.MinValue && v <= p.MaxValue
}
