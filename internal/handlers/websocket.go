package handlers

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/hub"
	"chatrelay-backend/internal/jwt"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/validator"
	"context"
	"encoding/json"
	"net/http"
)

func sessionFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie("session"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if session := r.Header.Get("X-Session-ID"); session != "" {
		return session
	}
	return r.URL.Query().Get("session")
}

// HandleWebSocket authenticates the handshake, upgrades, subscribes the
// connection to every room the user may see and then serves it until it
// closes.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token, ok := jwt.BearerToken(r, true)
	if !ok {
		http.Error(w, "No bearer token was provided", http.StatusUnauthorized)
		return
	}

	// nothing is registered when this fails
	conn, err := h.registry.Register(r.Context(), token, sessionFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.ensureUser(r.Context(), conn.UserID, conn.Username); err != nil {
		h.registry.Deregister(conn.ID)
		h.writeError(w, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already responded
		h.sugar.Debug(err)
		h.registry.Deregister(conn.ID)
		return
	}

	if err := h.subscribe(r.Context(), conn); err != nil {
		h.sugar.Errorf("Couldn't subscribe connection [%s] of user ID [%d]: %v", conn.ID, conn.UserID, err)
		h.registry.Deregister(conn.ID)
		ws.Close()
		return
	}

	h.registry.Serve(r.Context(), ws, conn, h)
}

// subscribe queues the ready frame and then joins the connection to its
// server rooms and direct message channels, so no room event can get
// ahead of ready.
func (h *Handlers) subscribe(ctx context.Context, conn *hub.Connection) error {
	rooms, err := h.store.Scope(ctx, conn.UserID)
	if err != nil {
		return err
	}

	servers := make([]int64, 0, len(rooms))
	for _, room := range rooms {
		if room.Kind == models.RoomServer {
			servers = append(servers, room.ID)
		}
	}

	h.sendFrame(conn, models.EventReady, models.ReadyPayload{
		ConnectionID: conn.ID,
		SessionID:    conn.SessionID,
		UserID:       conn.UserID,
		Status:       h.presence.OwnStatus(ctx, conn.UserID).Status,
		Servers:      servers,
	})

	for _, room := range rooms {
		h.rooms.JoinTrusted(conn, room)
	}
	return nil
}

func (h *Handlers) sendFrame(conn *hub.Connection, kind models.EventKind, payload any) {
	frame, err := models.EncodeFrame(kind, payload)
	if err != nil {
		h.sugar.Error(err)
		return
	}
	conn.Enqueue(frame)
}

// sendError reports a failed request only to the connection that sent it.
func (h *Handlers) sendError(conn *hub.Connection, ref models.EventKind, err error) {
	message := err.Error()
	if !errs.Public(err) {
		h.sugar.Errorf("Connection [%s] %s failed: %v", conn.ID, ref, err)
		message = "internal error"
	}

	h.sendFrame(conn, models.EventError, models.ErrorPayload{
		Code:    errs.Code(err),
		Message: message,
		Ref:     ref,
	})
}

func decodeFrameBody(body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errs.Wrap(errs.ErrInvalid, "malformed json")
	}
	return validator.Struct(v)
}

// Dispatch handles one client frame. Frames of a connection are handled in
// the order they were received.
func (h *Handlers) Dispatch(ctx context.Context, conn *hub.Connection, frame []byte) {
	kind, body, err := models.ParseFrame(frame)
	if err != nil {
		h.sendError(conn, "", errs.Wrap(errs.ErrInvalid, "%v", err))
		return
	}

	if err := h.dispatch(ctx, conn, kind, body); err != nil {
		h.sendError(conn, kind, err)
	}
}

func (h *Handlers) dispatch(ctx context.Context, conn *hub.Connection, kind models.EventKind, body json.RawMessage) error {
	switch kind {
	case models.EventPing:
		h.sendFrame(conn, models.EventPong, struct{}{})
		return nil

	case models.EventSetStatus:
		var request models.StatusRequest
		if err := decodeFrameBody(body, &request); err != nil {
			return err
		}
		_, err := h.presence.SetExplicitStatus(ctx, conn.UserID, request.Status, request.CustomStatus)
		return err
	}

	var request models.ChannelRequest
	if err := decodeFrameBody(body, &request); err != nil {
		return err
	}

	switch kind {
	case models.EventJoinChannel:
		return h.rooms.Join(ctx, conn, models.ChannelRoom(request.ChannelID))
	case models.EventLeaveChannel:
		h.rooms.Leave(conn.ID, models.ChannelRoom(request.ChannelID))
		return nil
	case models.EventTyping:
		return h.typing.Signal(ctx, conn.UserID, conn.Username, request.ChannelID)
	case models.EventStopTyping:
		_, err := h.typing.Stop(ctx, conn.UserID, request.ChannelID)
		return err
	default:
		return errs.Wrap(errs.ErrInvalid, "unhandled event kind [%s]", kind)
	}
}
