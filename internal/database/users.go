package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
)

// EnsureUser creates the user row the first time a token for it is seen.
// Accounts themselves are issued elsewhere.
func (s *Store) EnsureUser(ctx context.Context, user models.User) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)", user.ID).Scan(&exists)
		if err != nil {
			return errs.Storage(err)
		}
		if exists {
			return nil
		}

		displayName := user.DisplayName
		if displayName == "" {
			displayName = user.UserName
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO users (id, username, display_name) VALUES (?, ?, ?)", user.ID, user.UserName, displayName)
		return errs.Storage(err)
	})
}

func (s *Store) UserByID(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx, "SELECT id, username, display_name FROM users WHERE id = ?", userID).Scan(&user.ID, &user.UserName, &user.DisplayName)
	if err != nil {
		return models.User{}, notFoundOr(err, "user", userID)
	}
	return user, nil
}
