package database

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const messageColumns = "id, channel_id, user_id, message, attachments, created_at, edited_at, deleted, version, seq"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (models.Message, error) {
	var msg models.Message
	var attachments string

	err := row.Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &attachments, &msg.CreatedAt, &msg.EditedAt, &msg.Deleted, &msg.Version, &msg.Seq)
	if err != nil {
		return models.Message{}, err
	}

	msg.Attachments = []models.Attachment{}
	if attachments != "" {
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return models.Message{}, fmt.Errorf("decoding attachments of message [%d]: %w", msg.ID, err)
		}
	}
	msg.Reactions = make(map[string]models.ReactionAggregate)

	return msg, nil
}

// InsertMessage stores a new message, numbering it with the channel's next
// sequence value. Seq and Version are filled in on success.
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message) error {
	if msg.Attachments == nil {
		msg.Attachments = []models.Attachment{}
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		seq, err := nextSequence(ctx, tx, msg.ChannelID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "INSERT INTO messages ("+messageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			msg.ID, msg.ChannelID, msg.AuthorID, msg.Content, string(attachments), msg.CreatedAt, msg.EditedAt, false, 1, seq)
		if err != nil {
			return errs.Storage(err)
		}

		msg.Seq = seq
		msg.Version = 1
		if msg.Reactions == nil {
			msg.Reactions = make(map[string]models.ReactionAggregate)
		}
		return nil
	})
}

// GetMessage returns the message with its reactions, including soft deleted
// ones so callers can tell deleted from missing.
func (s *Store) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	return loadMessage(ctx, s.db, messageID)
}

func loadMessage(ctx context.Context, q querier, messageID int64) (models.Message, error) {
	row := q.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = ?", messageID)
	msg, err := scanMessage(row)
	if err != nil {
		return models.Message{}, notFoundOr(err, "message", messageID)
	}

	reactions, err := loadReactions(ctx, q, []int64{messageID})
	if err != nil {
		return models.Message{}, err
	}
	if r, ok := reactions[messageID]; ok {
		msg.Reactions = r
	}

	return msg, nil
}

// ListMessages returns up to limit live messages older than beforeID (all
// when beforeID is 0), oldest first.
func (s *Store) ListMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE channel_id = ? AND deleted = FALSE"
	args := []any{channelID}
	if beforeID > 0 {
		query += " AND id < ?"
		args = append(args, beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage(err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errs.Storage(err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage(err)
	}

	// newest were selected first, reverse for display order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}

	reactions, err := loadReactions(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if r, ok := reactions[messages[i].ID]; ok {
			messages[i].Reactions = r
		}
	}

	return messages, nil
}

// UpdateMessageContent replaces the content of a live message. Editing a
// deleted message is a conflict.
func (s *Store) UpdateMessageContent(ctx context.Context, messageID int64, content string, editedAt int64) (models.Message, error) {
	var updated models.Message

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var channelID int64
		var deleted bool
		err := tx.QueryRowContext(ctx, "SELECT channel_id, deleted FROM messages WHERE id = ?", messageID).Scan(&channelID, &deleted)
		if err != nil {
			return notFoundOr(err, "message", messageID)
		}
		if deleted {
			return errs.Wrap(errs.ErrConflict, "message [%d] was deleted", messageID)
		}

		seq, err := nextSequence(ctx, tx, channelID)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, "UPDATE messages SET message = ?, edited_at = ?, version = version + 1, seq = ? WHERE id = ? AND deleted = FALSE",
			content, editedAt, seq, messageID)
		if err != nil {
			return errs.Storage(err)
		}
		if affected, err := result.RowsAffected(); err != nil {
			return errs.Storage(err)
		} else if affected == 0 {
			return errs.Wrap(errs.ErrConflict, "message [%d] was deleted", messageID)
		}

		updated, err = loadMessage(ctx, tx, messageID)
		return err
	})
	if err != nil {
		return models.Message{}, err
	}

	return updated, nil
}

// SoftDeleteMessage marks a message deleted and keeps the row. Deleting a
// missing or already deleted message reports ErrNotFound.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID int64) (models.MessageDeletePayload, error) {
	payload := models.MessageDeletePayload{MessageID: messageID}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var deleted bool
		err := tx.QueryRowContext(ctx, "SELECT channel_id, deleted, version FROM messages WHERE id = ?", messageID).Scan(&payload.ChannelID, &deleted, &payload.Version)
		if err != nil {
			return notFoundOr(err, "message", messageID)
		}
		if deleted {
			return errs.Wrap(errs.ErrNotFound, "message [%d] doesn't exist", messageID)
		}

		seq, err := nextSequence(ctx, tx, payload.ChannelID)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE messages SET deleted = TRUE, version = version + 1, seq = ? WHERE id = ?", seq, messageID)
		if err != nil {
			return errs.Storage(err)
		}

		payload.Seq = seq
		payload.Version++
		return nil
	})
	if err != nil {
		return models.MessageDeletePayload{}, err
	}

	return payload, nil
}
