package handler

import (
	"net/http"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/middleware"
	"edupulse-sync-server/internal/service"
	"edupulse-sync-server/pkg/response"

	"github.com/gorilla/mux"
)

type DeviceHandler struct {
	service *service.DeviceService
}

func NewDeviceHandler(service *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{
		service: service,
	}
}

func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterDeviceRequest
	if !decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	device, err := h.service.Register(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	response.Created(w, device)
}

func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	devices, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, devices)
}

func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	deviceID := vars["id"]
	if deviceID == "" {
		response.BadRequest(w, "Device ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Revoke(r.Context(), userID, deviceID); err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "Device revoked successfully"})
}
