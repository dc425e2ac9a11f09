package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
	"errors"
)

// LoadStatus returns the explicit status the user chose, online if never set.
func (s *Store) LoadStatus(ctx context.Context, userID int64) (models.Status, string, error) {
	var status models.Status
	var customStatus string

	err := s.db.QueryRowContext(ctx, "SELECT status, custom_status FROM user_status WHERE user_id = ?", userID).Scan(&status, &customStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StatusOnline, "", nil
	}
	if err != nil {
		return "", "", errs.Storage(err)
	}

	return status, customStatus, nil
}

func (s *Store) SaveStatus(ctx context.Context, userID int64, status models.Status, customStatus string) error {
	var query string
	switch s.dialect {
	case Sqlite:
		query = `INSERT INTO user_status (user_id, status, custom_status) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, custom_status = excluded.custom_status`
	default:
		query = `INSERT INTO user_status (user_id, status, custom_status) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), custom_status = VALUES(custom_status)`
	}

	_, err := s.db.ExecContext(ctx, query, userID, status, customStatus)
	return errs.Storage(err)
}
