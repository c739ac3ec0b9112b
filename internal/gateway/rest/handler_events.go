package rest

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/syntrixbase/fanout/pkg/model"
)

func (h *Handler) handleAlarm(deleted bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := parseTenant(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		var alarm model.AlarmInfo
		if err := json.NewDecoder(r.Body).Decode(&alarm); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid alarm")
			return
		}
		if alarm.Originator.ID == uuid.Nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Alarm originator is required")
			return
		}
		if alarm.TenantID == model.NilTenantID {
			alarm.TenantID = tenantID
		}
		if err := h.writer.PublishAlarm(tenantID, &alarm, deleted); err != nil {
			writeWriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseTenant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid user id")
		return
	}
	var update model.NotificationUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid notification update")
		return
	}
	h.writer.PublishNotification(tenantID, model.EntityID{Type: model.EntityTypeUser, ID: userID}, update)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleNotificationRequest(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseTenant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	var update model.NotificationRequestUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid notification request update")
		return
	}
	if update.NotificationRequestID == uuid.Nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "notificationRequestId is required")
		return
	}
	h.writer.PublishNotificationRequest(tenantID, update)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Stats not available")
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}
