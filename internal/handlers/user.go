package handlers

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/validator"
	"net/http"
	"strconv"
	"strings"
)

const maxStatusQuery = 100

func (h *Handlers) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	var request models.StatusRequest
	if err := decodeBody(w, r, &request); err != nil {
		h.writeError(w, err)
		return
	}
	if err := validator.Struct(request); err != nil {
		h.writeError(w, err)
		return
	}

	status, err := h.presence.SetExplicitStatus(r.Context(), userID, request.Status, request.CustomStatus)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	targetID, err := urlID(r, "userID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	// users see their own chosen status, everyone else sees the effective one
	if targetID == userID {
		h.writeJSON(w, http.StatusOK, h.presence.OwnStatus(r.Context(), userID))
		return
	}

	h.writeJSON(w, http.StatusOK, h.presence.EffectiveStatusOf(targetID))
}

// GetStatuses answers ?ids=1,2,3 with the effective status of each user.
func (h *Handlers) GetStatuses(w http.ResponseWriter, r *http.Request) {
	rawIDs := r.URL.Query().Get("ids")
	if rawIDs == "" {
		h.writeError(w, errs.Wrap(errs.ErrInvalid, "no user IDs were given"))
		return
	}

	parts := strings.Split(rawIDs, ",")
	if len(parts) > maxStatusQuery {
		h.writeError(w, errs.Wrap(errs.ErrInvalid, "at most %d user IDs per request", maxStatusQuery))
		return
	}

	userIDs := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			h.writeError(w, errs.Wrap(errs.ErrInvalid, "invalid user ID %q", part))
			return
		}
		userIDs = append(userIDs, id)
	}

	h.writeJSON(w, http.StatusOK, h.presence.StatusesOf(userIDs))
}

func (h *Handlers) CreateDirectChannel(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	recipientID, err := urlID(r, "userID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	channel, err := h.guilds.CreateDirectChannel(r.Context(), userID, recipientID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, channel)
}
