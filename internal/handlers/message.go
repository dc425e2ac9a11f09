package handlers

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type messageRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
	Nonce       string              `json:"nonce"`
}

type editRequest struct {
	Content string `json:"content"`
}

// messageInChannel loads a message the user can see and makes sure it
// belongs to the channel in the URL.
func (h *Handlers) messageInChannel(r *http.Request, userID int64) (models.Message, error) {
	channelID, err := urlID(r, "channelID")
	if err != nil {
		return models.Message{}, err
	}

	messageID, err := urlID(r, "messageID")
	if err != nil {
		return models.Message{}, err
	}

	msg, err := h.messages.GetMessage(r.Context(), userID, messageID)
	if err != nil {
		return models.Message{}, err
	}

	if msg.ChannelID != channelID {
		return models.Message{}, errs.Wrap(errs.ErrNotFound, "message [%d] is not in channel [%d]", messageID, channelID)
	}
	return msg, nil
}

func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var request messageRequest
	if err := decodeBody(w, r, &request); err != nil {
		h.writeError(w, err)
		return
	}

	nonce := r.Header.Get("Idempotency-Key")
	if nonce == "" {
		nonce = request.Nonce
	}

	msg, err := h.messages.CreateMessage(r.Context(), userID, channelID, request.Content, request.Attachments, nonce)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) GetMessageList(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	channelID, err := urlID(r, "channelID")
	if err != nil {
		h.writeError(w, err)
		return
	}

	var beforeID int64
	if before := r.URL.Query().Get("before"); before != "" {
		beforeID, err = strconv.ParseInt(before, 10, 64)
		if err != nil || beforeID <= 0 {
			h.writeError(w, errs.Wrap(errs.ErrInvalid, "invalid before"))
			return
		}
	}

	var limit int
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			h.writeError(w, errs.Wrap(errs.ErrInvalid, "invalid limit"))
			return
		}
	}

	messages, err := h.messages.ListMessages(r.Context(), userID, channelID, beforeID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handlers) GetMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	msg, err := h.messageInChannel(r, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

func (h *Handlers) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	msg, err := h.messageInChannel(r, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var request editRequest
	if err := decodeBody(w, r, &request); err != nil {
		h.writeError(w, err)
		return
	}

	edited, err := h.messages.EditMessage(r.Context(), userID, msg.ID, request.Content)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, edited)
}

func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	msg, err := h.messageInChannel(r, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	deleted, err := h.messages.DeleteMessage(r.Context(), userID, msg.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, deleted)
}

func emojiParam(r *http.Request) (string, error) {
	emoji, err := url.PathUnescape(chi.URLParam(r, "emoji"))
	if err != nil {
		return "", errs.Wrap(errs.ErrInvalid, "invalid emoji")
	}
	return emoji, nil
}

func (h *Handlers) AddReaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	msg, err := h.messageInChannel(r, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	emoji, err := emojiParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.messages.AddReaction(r.Context(), userID, msg.ID, emoji)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RemoveReaction takes "@me" or the ID of the user whose reaction a
// moderator is removing.
func (h *Handlers) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := userFromContext(r)

	msg, err := h.messageInChannel(r, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	emoji, err := emojiParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var targetUserID int64
	if chi.URLParam(r, "userID") != "@me" {
		targetUserID, err = urlID(r, "userID")
		if err != nil {
			h.writeError(w, err)
			return
		}
	}

	result, err := h.messages.RemoveReaction(r.Context(), userID, msg.ID, emoji, targetUserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}
