package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/pkg/response"

	"go.uber.org/zap"
)

// maxBodyBytes bounds a request body; one sync batch is the largest.
const maxBodyBytes = 8 << 20

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		response.ErrorWithCode(w, http.StatusBadRequest, string(domain.CodeValidation), "invalid request body")
		return false
	}
	return true
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeDeviceNotBound:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeVersionConflict, domain.CodeLockTimeout:
		return http.StatusConflict
	case domain.CodeStorageFailure:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	code := domain.CodeOf(err)

	message := err.Error()
	var se *domain.SyncError
	if errors.As(err, &se) {
		message = se.Message
	}
	if status >= http.StatusInternalServerError {
		zap.S().Errorw("request failed", "status", status, "error", err)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	}
	response.ErrorWithCode(w, status, string(code), message)
}
