package handlers

import (
	"chatrelay-backend/internal/guilds"
	"chatrelay-backend/internal/validator"
	"net/http"
)

func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	var request guilds.ServerRequest
	if err := decodeBody(w, r, &request); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validator.Struct(request); err != nil {
		h.writeError(w, err)
		return
	}

	server, err := h.guilds.CreateServer(r.Context(), userID, request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, server)
}
