package handlers

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/guilds"
	"chatrelay-backend/internal/validator"
	"net/http"
)

func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	serverID, err := urlID(r, "serverID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var request guilds.ChannelRequest
	if err := decodeBody(w, r, &request); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validator.Struct(request); err != nil {
		h.writeError(w, err)
		return
	}

	channel, err := h.guilds.CreateChannel(r.Context(), userID, serverID, request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, channel)
}

func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.guilds.DeleteChannel(r.Context(), userID, channelID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) StartTyping(w http.ResponseWriter, r *http.Request) {
	userID, username := userFromContext(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.typing.Signal(r.Context(), userID, username, channelID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetTypers lets a client that just opened a channel see who is typing.
func (h *Handlers) GetTypers(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	allowed, err := h.store.CanViewChannel(r.Context(), userID, channelID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !allowed {
		h.writeError(w, errs.Wrap(errs.ErrForbidden, "no access to channel [%d]", channelID))
		return
	}

	h.writeJSON(w, http.StatusOK, h.typing.Typers(channelID))
}
