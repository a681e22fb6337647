package models

import "time"

// Notification представляет уведомление о событии
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // UNHEDGED, BREAKER, NO_DATA, API_ERROR, PARAM_UPDATE, SUSPEND
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Symbol    string                 `json:"symbol,omitempty" db:"symbol"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeUnhedged    = "UNHEDGED"     // продажа не исполнена, позиция без хеджа
	NotificationTypeBreaker     = "BREAKER"      // срабатывание или снятие выключателя
	NotificationTypeNoData      = "NO_DATA"      // нет возможностей дольше таймаута
	NotificationTypeAPIError    = "API_ERROR"    // повторяющиеся ошибки биржи
	NotificationTypeParamUpdate = "PARAM_UPDATE" // изменен риск-параметр
	NotificationTypeSuspend     = "SUSPEND"      // символ приостановлен
	NotificationTypeLedger      = "LEDGER"       // сделка не записана в журнал
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
