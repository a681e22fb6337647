package models

import "time"

// Suspension - приостановка реальной торговли по символу.
// ExpiresAt == nil означает приостановку до ручного снятия оператором.
type Suspension struct {
	ID        int        `json:"id" db:"id"`
	Symbol    string     `json:"symbol" db:"symbol"`
	Reason    string     `json:"reason" db:"reason"`
	TradeID   string     `json:"trade_id,omitempty" db:"trade_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
}

// Active проверяет действует ли приостановка в момент now
func (s *Suspension) Active(now time.Time) bool {
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}
