package websocket

import (
	"time"

	"spreadarb/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeTrade - записана реальная сделка (любой исход)
	MessageTypeTrade MessageType = "trade"

	// MessageTypeBreaker - выключатель сработал или снят
	MessageTypeBreaker MessageType = "breaker"

	// MessageTypeCycle - итог цикла движка, раз в CYCLE_INTERVAL
	MessageTypeCycle MessageType = "cycle"

	// MessageTypeNotification - новое уведомление оператору
	MessageTypeNotification MessageType = "notification"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// TradeMessage - сообщение о сделке
type TradeMessage struct {
	BaseMessage
	Data *models.Trade `json:"data"`
}

// BreakerMessage - изменение состояния выключателя
type BreakerMessage struct {
	BaseMessage
	Breaker models.BreakerKind `json:"breaker"`
	Tripped bool               `json:"tripped"`
	Detail  string             `json:"detail,omitempty"`
}

// CycleMessage - итог цикла
type CycleMessage struct {
	BaseMessage
	Data *models.CycleSummary `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *models.Notification `json:"data"`
}

func newBase(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC()}
}

// NewTradeMessage создает сообщение о сделке
func NewTradeMessage(t *models.Trade) *TradeMessage {
	return &TradeMessage{BaseMessage: newBase(MessageTypeTrade), Data: t}
}

// NewBreakerMessage создает сообщение о выключателе
func NewBreakerMessage(kind models.BreakerKind, tripped bool, detail string) *BreakerMessage {
	return &BreakerMessage{
		BaseMessage: newBase(MessageTypeBreaker),
		Breaker:     kind,
		Tripped:     tripped,
		Detail:      detail,
	}
}

// NewCycleMessage создает сообщение с итогом цикла
func NewCycleMessage(s *models.CycleSummary) *CycleMessage {
	return &CycleMessage{BaseMessage: newBase(MessageTypeCycle), Data: s}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{BaseMessage: newBase(MessageTypeNotification), Data: n}
}
