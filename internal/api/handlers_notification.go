package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cureliah/backend/internal/domain"
)

// ListNotificationsHandler lists inbox notifications for the authenticated user.
func (h *Handlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit, offset, err := paging(r, 50)
	if err != nil {
		h.writeServiceError(w, r, "list_notifications", err)
		return
	}
	unreadOnly := false
	if raw := strings.TrimSpace(r.URL.Query().Get("unread")); raw != "" {
		unreadOnly, err = strconv.ParseBool(raw)
		if err != nil {
			h.writeValidationError(w, domain.NewValidationError("unread", "must be a boolean"))
			return
		}
	}

	items, err := h.notifications.List(r.Context(), actor, domain.NotificationListOptions{
		Limit:      limit,
		Offset:     offset,
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		h.writeServiceError(w, r, "list_notifications", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	count, err := h.notifications.UnreadCount(r.Context(), actor.ID)
	if err != nil {
		h.writeServiceError(w, r, "unread_count", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func (h *Handlers) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "notificationID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	n, err := h.notifications.MarkRead(r.Context(), actor, id)
	if err != nil {
		h.writeServiceError(w, r, "mark_notification_read", err)
		return
	}
	h.writeJSON(w, http.StatusOK, n)
}

func (h *Handlers) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	updated, err := h.notifications.MarkAllRead(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, "mark_all_notifications_read", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handlers) DeleteNotificationHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := urlUUID(r, "notificationID")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	if err := h.notifications.Delete(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, r, "delete_notification", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
