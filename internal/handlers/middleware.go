package handlers

import (
	"chatrelay-backend/internal/jwt"
	"chatrelay-backend/internal/models"
	"context"
	"fmt"
	"net/http"
	"time"
)

type UserIDKeyType struct{}
type UsernameKeyType struct{}

const userExistsLifetime = 15 * time.Minute

func AllowCors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Session-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// UserVerifier authenticates the bearer token and passes the user's ID and
// name to the next handler.
func (h *Handlers) UserVerifier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := jwt.BearerToken(r, false)
		if !ok {
			http.Error(w, "No bearer token was provided", http.StatusUnauthorized)
			return
		}

		userToken, err := h.keeper.VerifyToken(token)
		if err != nil {
			h.sugar.Debug(err)
			http.Error(w, "Couldn't verify JWT", http.StatusUnauthorized)
			return
		}

		if err := h.ensureUser(r.Context(), userToken.UserID, userToken.Username); err != nil {
			h.writeError(w, err)
			return
		}

		// this passes the authenticated user's ID to next handler
		ctx := context.WithValue(r.Context(), UserIDKeyType{}, userToken.UserID)
		ctx = context.WithValue(ctx, UsernameKeyType{}, userToken.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ensureUser makes sure a row exists for the token's user, caching the
// answer so most requests skip the database.
func (h *Handlers) ensureUser(ctx context.Context, userID int64, username string) error {
	key := fmt.Sprintf("user_exists:%d", userID)

	value, err := h.kv.Get(ctx, key)
	if err != nil {
		return err
	}

	if value != "" {
		h.sugar.Debugf("User ID %d was found in cache", userID)
		return nil
	}

	if err := h.store.EnsureUser(ctx, models.User{ID: userID, UserName: username}); err != nil {
		return err
	}

	if err := h.kv.Set(ctx, key, "y", userExistsLifetime); err != nil {
		return err
	}
	h.sugar.Debugf("User ID %d was found in database and was cached", userID)

	return nil
}
