package handler

import (
	"net/http"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/middleware"
	"edupulse-sync-server/internal/service"
	"edupulse-sync-server/pkg/response"
)

type SettingsHandler struct {
	service *service.SettingsService
}

func NewSettingsHandler(service *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: service}
}

func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	settings, err := h.service.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, settings)
}

func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.UpdateSettingsRequest
	if !decode(w, r, &req) {
		return
	}

	settings, err := h.service.Update(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, settings)
}
