package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
	"fmt"
)

func (s *Store) ChannelByID(ctx context.Context, channelID int64) (models.Channel, error) {
	var channel models.Channel
	var serverID sql.NullInt64

	err := s.db.QueryRowContext(ctx, "SELECT id, server_id, name FROM channels WHERE id = ?", channelID).Scan(&channel.ID, &serverID, &channel.Name)
	if err != nil {
		return models.Channel{}, notFoundOr(err, "channel", channelID)
	}
	channel.ServerID = serverID.Int64

	return channel, nil
}

func (s *Store) isServerMember(ctx context.Context, userID int64, serverID int64) (bool, error) {
	var isMember bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)", serverID, userID).Scan(&isMember)
	if err != nil {
		return false, errs.Storage(err)
	}
	return isMember, nil
}

func (s *Store) isRecipient(ctx context.Context, userID int64, channelID int64) (bool, error) {
	var isRecipient bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM channel_recipients WHERE channel_id = ? AND user_id = ?)", channelID, userID).Scan(&isRecipient)
	if err != nil {
		return false, errs.Storage(err)
	}
	return isRecipient, nil
}

func (s *Store) IsServerOwner(ctx context.Context, userID int64, serverID int64) (bool, error) {
	var ownsServer bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM servers WHERE id = ? AND owner_id = ?)", serverID, userID).Scan(&ownsServer)
	if err != nil {
		return false, errs.Storage(err)
	}
	return ownsServer, nil
}

// CanViewChannel reports whether the user is a member of the channel's
// server, or a recipient when it is a direct channel.
func (s *Store) CanViewChannel(ctx context.Context, userID int64, channelID int64) (bool, error) {
	channel, err := s.ChannelByID(ctx, channelID)
	if err != nil {
		return false, err
	}

	if channel.IsDirect() {
		return s.isRecipient(ctx, userID, channelID)
	}
	return s.isServerMember(ctx, userID, channel.ServerID)
}

func (s *Store) CanView(ctx context.Context, userID int64, room models.RoomID) (bool, error) {
	switch room.Kind {
	case models.RoomChannel:
		return s.CanViewChannel(ctx, userID, room.ID)
	case models.RoomServer:
		return s.isServerMember(ctx, userID, room.ID)
	default:
		return false, errs.Wrap(errs.ErrInvalid, "unknown room kind %d", room.Kind)
	}
}

// CanSend has no finer permissions than visibility yet.
func (s *Store) CanSend(ctx context.Context, userID int64, channelID int64) (bool, error) {
	return s.CanViewChannel(ctx, userID, channelID)
}

// IsModerator is true for the owner of the channel's server. Direct
// channels have no moderators.
func (s *Store) IsModerator(ctx context.Context, userID int64, channelID int64) (bool, error) {
	channel, err := s.ChannelByID(ctx, channelID)
	if err != nil {
		return false, err
	}

	if channel.IsDirect() {
		return false, nil
	}
	return s.IsServerOwner(ctx, userID, channel.ServerID)
}

func (s *Store) ServersOf(ctx context.Context, userID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT server_id FROM server_members WHERE user_id = ? ORDER BY server_id", userID)
}

func (s *Store) DirectChannelsOf(ctx context.Context, userID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT channel_id FROM channel_recipients WHERE user_id = ? ORDER BY channel_id", userID)
}

func (s *Store) ChannelsOfServer(ctx context.Context, serverID int64) ([]int64, error) {
	return s.queryIDs(ctx, "SELECT id FROM channels WHERE server_id = ? ORDER BY id", serverID)
}

// Scope lists the rooms where the user's presence is visible: the rooms of
// the servers they are in and of their direct channels.
func (s *Store) Scope(ctx context.Context, userID int64) ([]models.RoomID, error) {
	servers, err := s.ServersOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	directs, err := s.DirectChannelsOf(ctx, userID)
	if err != nil {
		return nil, err
	}

	rooms := make([]models.RoomID, 0, len(servers)+len(directs))
	for _, serverID := range servers {
		rooms = append(rooms, models.ServerRoom(serverID))
	}
	for _, channelID := range directs {
		rooms = append(rooms, models.ChannelRoom(channelID))
	}

	return rooms, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage(fmt.Errorf("querying IDs: %w", err))
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err)
	}

	return ids, nil
}
