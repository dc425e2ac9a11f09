package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
)

// ReactionChange describes the outcome of a reaction write. When Changed is
// false nothing was written and Seq/Version are the message's current ones.
type ReactionChange struct {
	Changed   bool
	ChannelID int64
	Seq       int64
	Version   int64
	Reaction  models.ReactionAggregate
}

func (s *Store) AddReaction(ctx context.Context, messageID int64, userID int64, emoji string, createdAt int64) (ReactionChange, error) {
	return s.writeReaction(ctx, messageID, userID, emoji, true, createdAt)
}

func (s *Store) RemoveReaction(ctx context.Context, messageID int64, userID int64, emoji string) (ReactionChange, error) {
	return s.writeReaction(ctx, messageID, userID, emoji, false, 0)
}

func (s *Store) writeReaction(ctx context.Context, messageID int64, userID int64, emoji string, add bool, createdAt int64) (ReactionChange, error) {
	var change ReactionChange

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var deleted bool
		err := tx.QueryRowContext(ctx, "SELECT channel_id, deleted, version, seq FROM messages WHERE id = ?", messageID).
			Scan(&change.ChannelID, &deleted, &change.Version, &change.Seq)
		if err != nil {
			return notFoundOr(err, "message", messageID)
		}
		if deleted {
			return errs.Wrap(errs.ErrNotFound, "message [%d] doesn't exist", messageID)
		}

		var exists bool
		err = tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?)", messageID, userID, emoji).Scan(&exists)
		if err != nil {
			return errs.Storage(err)
		}

		if exists != add {
			seq, err := nextSequence(ctx, tx, change.ChannelID)
			if err != nil {
				return err
			}

			if add {
				_, err = tx.ExecContext(ctx, "INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)", messageID, userID, emoji, createdAt)
			} else {
				_, err = tx.ExecContext(ctx, "DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji)
			}
			if err != nil {
				return errs.Storage(err)
			}

			_, err = tx.ExecContext(ctx, "UPDATE messages SET version = version + 1, seq = ? WHERE id = ?", seq, messageID)
			if err != nil {
				return errs.Storage(err)
			}

			change.Changed = true
			change.Seq = seq
			change.Version++
		}

		change.Reaction, err = loadAggregate(ctx, tx, messageID, emoji)
		return err
	})
	if err != nil {
		return ReactionChange{}, err
	}

	return change, nil
}

func loadAggregate(ctx context.Context, q querier, messageID int64, emoji string) (models.ReactionAggregate, error) {
	agg := models.ReactionAggregate{Emoji: emoji, Users: []int64{}}

	rows, err := q.QueryContext(ctx, "SELECT user_id FROM reactions WHERE message_id = ? AND emoji = ? ORDER BY created_at, user_id", messageID, emoji)
	if err != nil {
		return agg, errs.Storage(err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return agg, errs.Storage(err)
		}
		agg.Users = append(agg.Users, userID)
	}
	if err := rows.Err(); err != nil {
		return agg, errs.Storage(err)
	}

	agg.Count = len(agg.Users)
	return agg, nil
}

// loadReactions groups the reactions of the given messages by message and emoji.
func loadReactions(ctx context.Context, q querier, messageIDs []int64) (map[int64]map[string]models.ReactionAggregate, error) {
	result := make(map[int64]map[string]models.ReactionAggregate)
	if len(messageIDs) == 0 {
		return result, nil
	}

	query := "SELECT message_id, emoji, user_id FROM reactions WHERE message_id IN (" + placeholders(len(messageIDs)) + ") ORDER BY created_at, user_id"
	rows, err := q.QueryContext(ctx, query, int64Args(messageIDs)...)
	if err != nil {
		return nil, errs.Storage(err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, userID int64
		var emoji string
		if err := rows.Scan(&messageID, &emoji, &userID); err != nil {
			return nil, errs.Storage(err)
		}

		msg := models.Message{Reactions: result[messageID]}
		msg.AddReactionUser(emoji, userID)
		result[messageID] = msg.Reactions
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err)
	}

	return result, nil
}
