package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"spreadarb/internal/bot"
	"spreadarb/internal/models"
	"spreadarb/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const broadcastBufferSize = 256

// Hub управляет всеми активными WebSocket соединениями потока /ws/stream.
//
// Движок и сервисы публикуют события (сделки, выключатели, итоги циклов,
// уведомления), Hub сериализует их один раз и раздает всем клиентам.
// Broadcast никогда не блокирует торговый цикл: при переполненном буфере
// сообщение отбрасывается и учитывается в DroppedMessages.
//
// Использование:
// 1. Создать hub: hub := NewHub(origins, logger)
// 2. Запустить в горутине: go hub.Run()
// 3. Остановить: hub.Stop()
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	origins *OriginChecker
	dropped atomic.Int64
	count   atomic.Int64

	mu     sync.RWMutex
	logger *zap.Logger
}

var _ bot.WebSocketHub = (*Hub)(nil)
var _ service.WebSocketBroadcaster = (*Hub)(nil)

// NewHub создает новый Hub. Пустой список origins разрешает любой Origin.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		logger:     logger.With(zap.String("component", "ws_hub")),
	}
}

// Run запускает главный цикл Hub до вызова Stop.
//
// Список клиентов копируется под коротким RLock, отправка идет без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.count.Store(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.count.Store(int64(n))
			h.logger.Debug("client connected", zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.count.Store(int64(n))
			h.logger.Debug("client disconnected", zap.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.count.Store(int64(n))
				h.logger.Warn("removed slow clients", zap.Int("removed", len(toRemove)), zap.Int("clients", n))
			}
		}
	}
}

// Stop останавливает Run и закрывает все клиентские соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", zap.Error(err))
		return
	}
	h.BroadcastRaw(data)
}

// BroadcastRaw ставит в очередь уже сериализованное сообщение
func (h *Hub) BroadcastRaw(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// BroadcastTrade реализует bot.WebSocketHub
func (h *Hub) BroadcastTrade(t *models.Trade) {
	h.Broadcast(NewTradeMessage(t))
}

// BroadcastBreaker реализует bot.WebSocketHub
func (h *Hub) BroadcastBreaker(kind models.BreakerKind, tripped bool, detail string) {
	h.Broadcast(NewBreakerMessage(kind, tripped, detail))
}

// BroadcastCycle реализует bot.WebSocketHub
func (h *Hub) BroadcastCycle(s *models.CycleSummary) {
	h.Broadcast(NewCycleMessage(s))
}

// BroadcastNotification реализует service.WebSocketBroadcaster
func (h *Hub) BroadcastNotification(n *models.Notification) {
	h.Broadcast(NewNotificationMessage(n))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// DroppedMessages - сколько сообщений отброшено из-за переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
