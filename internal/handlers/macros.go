package handlers

import (
	"chatrelay-backend/internal/errs"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const maxBodySize = 64 << 10

func userFromContext(r *http.Request) (int64, string) {
	userID, _ := r.Context().Value(UserIDKeyType{}).(int64)
	username, _ := r.Context().Value(UsernameKeyType{}).(string)
	return userID, username
}

// urlID parses a positive ID from a route parameter.
func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Wrap(errs.ErrInvalid, "invalid %s", name)
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return errs.Wrap(errs.ErrInvalid, "body too large")
		}
		return errs.Wrap(errs.ErrInvalid, "malformed json")
	}
	return nil
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.sugar.Error(err)
	}
}

// writeError hides internal errors from clients and logs them instead.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if !errs.Public(err) {
		h.sugar.Error(err)
		http.Error(w, "", status)
		return
	}

	h.sugar.Debug(err)
	http.Error(w, err.Error(), status)
}
