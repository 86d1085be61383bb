package handler

import (
	"net/http"
	"strconv"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/middleware"
	"edupulse-sync-server/internal/service"
	"edupulse-sync-server/pkg/response"

	"go.uber.org/zap"
)

type SyncHandler struct {
	syncService     *service.SyncService
	conflictService *service.ConflictService
	deviceService   *service.DeviceService
}

func NewSyncHandler(syncService *service.SyncService, conflictService *service.ConflictService, deviceService *service.DeviceService) *SyncHandler {
	return &SyncHandler{
		syncService:     syncService,
		conflictService: conflictService,
		deviceService:   deviceService,
	}
}

// ProcessSync answers an invalid sync token with 200 and
// full_resync_required set; the client is expected to force a sync.
func (h *SyncHandler) ProcessSync(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.SyncRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.syncService.Sync(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.touch(r, req.DeviceID)

	response.JSON(w, http.StatusOK, res)
}

func (h *SyncHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.ForceSyncRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.syncService.ForceSync(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.touch(r, req.DeviceID)

	response.JSON(w, http.StatusOK, res)
}

// touch records device activity; a failure only costs freshness.
func (h *SyncHandler) touch(r *http.Request, deviceID string) {
	if err := h.deviceService.UpdateLastActive(r.Context(), deviceID); err != nil {
		zap.S().Debugw("failed to record device activity", "device_id", deviceID, "error", err)
	}
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		response.BadRequest(w, "device_id is required")
		return
	}

	status, err := h.syncService.Status(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, status)
}

func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(w, "invalid limit parameter")
			return
		}
		limit = n
	}

	entries, err := h.syncService.History(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, entries)
}

func (h *SyncHandler) OfflineData(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snapshot, err := h.syncService.OfflineSnapshot(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, snapshot)
}

// StageOfflineData accepts changes recorded offline; they are applied by
// the device's next sync.
func (h *SyncHandler) StageOfflineData(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.OfflineDataRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.syncService.StageOfflineData(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.touch(r, req.DeviceID)

	response.JSON(w, http.StatusAccepted, res)
}

func (h *SyncHandler) Deferred(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		response.BadRequest(w, "device_id is required")
		return
	}

	records, err := h.syncService.Deferred(r.Context(), userID, deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, records)
}

func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	openOnly := r.URL.Query().Get("open") == "true"
	conflicts, err := h.conflictService.List(r.Context(), userID, openOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, conflicts)
}

func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req domain.ConflictResolutionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.conflictService.Resolve(r.Context(), userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, res)
}
