package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
)

// CreateServer stores the server and adds its owner as the first member.
func (s *Store) CreateServer(ctx context.Context, server models.Server, since int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO servers (id, owner_id, name) VALUES (?, ?, ?)", server.ID, server.OwnerID, server.Name)
		if err != nil {
			return errs.Storage(err)
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO server_members (server_id, user_id, since) VALUES (?, ?, ?)", server.ID, server.OwnerID, since)
		return errs.Storage(err)
	})
}

func (s *Store) ServerByID(ctx context.Context, serverID int64) (models.Server, error) {
	var server models.Server
	err := s.db.QueryRowContext(ctx, "SELECT id, owner_id, name FROM servers WHERE id = ?", serverID).Scan(&server.ID, &server.OwnerID, &server.Name)
	if err != nil {
		return models.Server{}, notFoundOr(err, "server", serverID)
	}
	return server, nil
}

// AddServerMember reports false when the user already was a member.
func (s *Store) AddServerMember(ctx context.Context, serverID int64, userID int64, since int64) (bool, error) {
	var added bool

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var isMember bool
		err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)", serverID, userID).Scan(&isMember)
		if err != nil {
			return errs.Storage(err)
		}
		if isMember {
			return nil
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO server_members (server_id, user_id, since) VALUES (?, ?, ?)", serverID, userID, since)
		if err != nil {
			return errs.Storage(err)
		}

		added = true
		return nil
	})

	return added, err
}

// RemoveServerMember reports false when the user wasn't a member.
func (s *Store) RemoveServerMember(ctx context.Context, serverID int64, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM server_members WHERE server_id = ? AND user_id = ?", serverID, userID)
	if err != nil {
		return false, errs.Storage(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, errs.Storage(err)
	}
	return affected > 0, nil
}

func (s *Store) CreateChannel(ctx context.Context, channel models.Channel) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO channels (id, server_id, name, last_seq) VALUES (?, ?, ?, 0)", channel.ID, channel.ServerID, channel.Name)
	return errs.Storage(err)
}

// CreateDirectChannel stores a channel without a server together with the
// users allowed to see it.
func (s *Store) CreateDirectChannel(ctx context.Context, channel models.Channel, recipients []int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO channels (id, server_id, name, last_seq) VALUES (?, NULL, ?, 0)", channel.ID, channel.Name)
		if err != nil {
			return errs.Storage(err)
		}

		for _, userID := range recipients {
			_, err = tx.ExecContext(ctx, "INSERT INTO channel_recipients (channel_id, user_id) VALUES (?, ?)", channel.ID, userID)
			if err != nil {
				return errs.Storage(err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteChannel(ctx context.Context, channelID int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", channelID)
	if err != nil {
		return errs.Storage(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errs.Storage(err)
	}
	if affected == 0 {
		return errs.Wrap(errs.ErrNotFound, "channel [%d] doesn't exist", channelID)
	}
	return nil
}
