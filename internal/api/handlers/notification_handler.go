package handlers

import (
	"net/http"
	"strings"

	"spreadarb/internal/models"
	"spreadarb/internal/service"
)

// NotificationHandler - журнал уведомлений оператора.
//
// GET /api/v1/notifications?types=UNHEDGED,BREAKER&limit=100
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler
func NewNotificationHandler(notificationService service.NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// GetNotifications возвращает последние уведомления, новые первыми
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err)
		return
	}

	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	list, err := h.notificationService.GetNotifications(r.Context(), types, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get notifications", err)
		return
	}
	if list == nil {
		list = []*models.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}
