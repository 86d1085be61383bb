package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"edupulse-sync-server/internal/collaborator"
	"edupulse-sync-server/internal/domain"
	"edupulse-sync-server/internal/service"
	"edupulse-sync-server/internal/websocket"
	"edupulse-sync-server/pkg/jwt"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsSyncTimeout bounds one sync round requested over a websocket.
const wsSyncTimeout = 30 * time.Second

type WebSocketHandler struct {
	manager   *websocket.Manager
	identity  collaborator.IdentityLookup
	jwtSecret string
	upgrader  ws.Upgrader
	log       *zap.SugaredLogger
}

func NewWebSocketHandler(manager *websocket.Manager, identity collaborator.IdentityLookup, jwtSecret string, readBuffer, writeBuffer int, log *zap.SugaredLogger) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		identity:  identity,
		jwtSecret: jwtSecret,
		log:       log,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}

	if token == "" {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		h.log.Debugw("websocket token rejected", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	bound, err := h.identity.DeviceBelongsTo(r.Context(), userID, deviceID)
	if err != nil {
		http.Error(w, "device lookup failed", http.StatusServiceUnavailable)
		return
	}
	if !bound {
		http.Error(w, "device is not registered to this user", http.StatusForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("failed to upgrade websocket connection", "user_id", userID, "error", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), userID, deviceID, conn, h.manager)
	h.manager.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler runs sync rounds requested over a websocket. The
// payload of a sync_request is a regular sync request body.
type WebSocketMessageHandler struct {
	syncService *service.SyncService
	manager     *websocket.Manager
}

func NewWebSocketMessageHandler(syncService *service.SyncService, manager *websocket.Manager) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		syncService: syncService,
		manager:     manager,
	}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *websocket.Message) error {
	switch msg.Type {
	case websocket.TypeSyncRequest:
		return h.handleSyncRequest(client, msg)

	case websocket.TypePing:
		return h.reply(client, msg, websocket.TypePong, nil)
	}

	return h.reply(client, msg, websocket.TypeError, websocket.ErrorPayload{
		Code:    domain.CodeValidation,
		Message: "unknown message type " + string(msg.Type),
	})
}

func (h *WebSocketMessageHandler) handleSyncRequest(client *websocket.Client, msg *websocket.Message) error {
	var req domain.SyncRequest
	if err := msg.UnmarshalPayload(&req); err != nil {
		return h.reply(client, msg, websocket.TypeError, websocket.ErrorPayload{
			Code:    domain.CodeValidation,
			Message: "invalid sync_request payload",
		})
	}
	// a connection speaks for the device it was opened by
	req.DeviceID = client.DeviceID

	ctx, cancel := context.WithTimeout(context.Background(), wsSyncTimeout)
	defer cancel()

	res, err := h.syncService.Sync(ctx, client.UserID, &req)
	if err != nil {
		payload := websocket.ErrorPayload{Code: domain.CodeOf(err), Message: err.Error()}
		var se *domain.SyncError
		if errors.As(err, &se) {
			payload.Message = se.Message
		}
		return h.reply(client, msg, websocket.TypeError, payload)
	}
	return h.reply(client, msg, websocket.TypeSyncResponse, res)
}

func (h *WebSocketMessageHandler) reply(client *websocket.Client, req *websocket.Message, msgType websocket.MessageType, payload interface{}) error {
	out, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	out.RequestID = req.RequestID
	return h.manager.SendToClient(client.ID, out)
}
