package handlers

import (
	"net/http"
)

func (h *Handlers) JoinServer(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	serverID, err := urlID(r, "serverID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.guilds.JoinServer(r.Context(), userID, serverID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LeaveServer(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	serverID, err := urlID(r, "serverID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.guilds.LeaveServer(r.Context(), userID, serverID); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
