package messaging

import (
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/keyValue"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/ratelimit"
	"chatrelay-backend/internal/validator"
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	maxNonceLength = 64
	nonceLifetime  = 10 * time.Minute
)

type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListMessages(ctx context.Context, channelID int64, beforeID int64, limit int) ([]models.Message, error)
	UpdateMessageContent(ctx context.Context, messageID int64, content string, editedAt int64) (models.Message, error)
	SoftDeleteMessage(ctx context.Context, messageID int64) (models.MessageDeletePayload, error)
	AddReaction(ctx context.Context, messageID int64, userID int64, emoji string, createdAt int64) (database.ReactionChange, error)
	RemoveReaction(ctx context.Context, messageID int64, userID int64, emoji string) (database.ReactionChange, error)
}

type Permissions interface {
	CanViewChannel(ctx context.Context, userID int64, channelID int64) (bool, error)
	CanSend(ctx context.Context, userID int64, channelID int64) (bool, error)
	IsModerator(ctx context.Context, userID int64, channelID int64) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type TypingStopper interface {
	Stop(ctx context.Context, userID int64, channelID int64) (bool, error)
}

type IDGenerator interface {
	Generate() (int64, error)
}

type Deps struct {
	Store       Store
	Permissions Permissions
	Publisher   Publisher
	Typing      TypingStopper
	IDs         IDGenerator
	Nonces      keyValue.Store
	Limiter     *ratelimit.Keyed
	Sugar       *zap.SugaredLogger
}

// Service persists every message write before broadcasting it. Writes to
// one channel are serialized from sequence assignment through publishing,
// so subscribers see a channel's events in sequence order.
type Service struct {
	store     Store
	perms     Permissions
	publisher Publisher
	typing    TypingStopper
	ids       IDGenerator
	nonces    keyValue.Store
	limiter   *ratelimit.Keyed
	sugar     *zap.SugaredLogger
	locks     stripedLock
	now       func() time.Time
}

func New(deps Deps) *Service {
	return &Service{
		store:     deps.Store,
		perms:     deps.Permissions,
		publisher: deps.Publisher,
		typing:    deps.Typing,
		ids:       deps.IDs,
		nonces:    deps.Nonces,
		limiter:   deps.Limiter,
		sugar:     deps.Sugar,
		now:       time.Now,
	}
}

// ReactionResult is the outcome of a reaction change. Nothing was broadcast
// when Changed is false.
type ReactionResult struct {
	Changed  bool                     `json:"changed"`
	Event    models.ReactionPayload   `json:"event"`
	Reaction models.ReactionAggregate `json:"reaction"`
}

func (s *Service) publish(ctx context.Context, kind models.EventKind, channelID int64, payload any) {
	event := models.Event{Kind: kind, Room: models.ChannelRoom(channelID), Payload: payload}

	// the write is already durable, clients catch up through history reads
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.sugar.Errorf("Couldn't publish %s to channel ID [%d]: %v", kind, channelID, err)
	}
}

func (s *Service) requireView(ctx context.Context, userID int64, channelID int64) error {
	allowed, err := s.perms.CanViewChannel(ctx, userID, channelID)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.Wrap(errs.ErrForbidden, "no access to channel [%d]", channelID)
	}
	return nil
}

// liveMessage loads a message that hasn't been deleted.
func (s *Service) liveMessage(ctx context.Context, messageID int64) (models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return models.Message{}, errs.Wrap(errs.ErrNotFound, "message [%d] doesn't exist", messageID)
	}
	return msg, nil
}

func nonceKey(authorID int64, channelID int64, nonce string) string {
	return fmt.Sprintf("nonce:%d:%d:%s", authorID, channelID, nonce)
}

// CreateMessage validates, stores and broadcasts a new message. A repeated
// nonce from the same author in the same channel returns the stored message
// without broadcasting again.
func (s *Service) CreateMessage(ctx context.Context, authorID int64, channelID int64, content string, attachments []models.Attachment, nonce string) (models.Message, error) {
	if err := validator.MessageContent(content, len(attachments)); err != nil {
		return models.Message{}, err
	}
	for i := range attachments {
		if err := validator.Struct(attachments[i]); err != nil {
			return models.Message{}, err
		}
	}
	if len(nonce) > maxNonceLength {
		return models.Message{}, errs.Wrap(errs.ErrInvalid, "long_nonce")
	}

	if !s.limiter.Allow(authorID) {
		return models.Message{}, errs.Wrap(errs.ErrRateLimited, "sending messages too fast")
	}

	allowed, err := s.perms.CanSend(ctx, authorID, channelID)
	if err != nil {
		return models.Message{}, err
	}
	if !allowed {
		return models.Message{}, errs.Wrap(errs.ErrForbidden, "can't send to channel [%d]", channelID)
	}

	messageID, err := s.ids.Generate()
	if err != nil {
		return models.Message{}, err
	}

	var key string
	if nonce != "" {
		key = nonceKey(authorID, channelID, nonce)

		claimed, err := s.nonces.SetNX(ctx, key, strconv.FormatInt(messageID, 10), nonceLifetime)
		if err != nil {
			return models.Message{}, errs.Storage(err)
		}
		if !claimed {
			return s.replay(ctx, key)
		}
	}

	msg := models.Message{
		ID:          messageID,
		ChannelID:   channelID,
		AuthorID:    authorID,
		Content:     content,
		CreatedAt:   s.now().UnixMilli(),
		Attachments: attachments,
	}

	unlock := s.locks.lock(channelID)
	err = s.store.InsertMessage(ctx, &msg)
	if err != nil {
		unlock()
		s.releaseNonce(key)
		s.sugar.Errorf("Couldn't store message from user ID [%d] in channel ID [%d]: %v", authorID, channelID, err)
		return models.Message{}, err
	}
	s.publish(ctx, models.EventMessageCreate, channelID, msg)
	unlock()

	s.sugar.Debugf("User ID [%d] sent message ID [%d] to channel ID [%d] at seq %d", authorID, msg.ID, channelID, msg.Seq)

	if s.typing != nil {
		if _, err := s.typing.Stop(ctx, authorID, channelID); err != nil {
			s.sugar.Warnf("Couldn't stop typing of user ID [%d]: %v", authorID, err)
		}
	}

	return msg, nil
}

func (s *Service) replay(ctx context.Context, key string) (models.Message, error) {
	value, err := s.nonces.Get(ctx, key)
	if err != nil {
		return models.Message{}, errs.Storage(err)
	}

	messageID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return models.Message{}, errs.Wrap(errs.ErrConflict, "message with this nonce is still being sent")
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		// the first attempt hasn't been stored yet
		return models.Message{}, errs.Wrap(errs.ErrConflict, "message with this nonce is still being sent")
	}

	s.sugar.Debugf("Replayed message ID [%d] for repeated nonce", messageID)
	return msg, nil
}

func (s *Service) releaseNonce(key string) {
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.nonces.GetDel(ctx, key); err != nil {
		s.sugar.Warnf("Couldn't release nonce [%s]: %v", key, err)
	}
}

// EditMessage replaces the content of the editor's own message.
func (s *Service) EditMessage(ctx context.Context, editorID int64, messageID int64, content string) (models.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Deleted {
		return models.Message{}, errs.Wrap(errs.ErrConflict, "message [%d] was deleted", messageID)
	}
	if msg.AuthorID != editorID {
		return models.Message{}, errs.Wrap(errs.ErrForbidden, "only the author can edit message [%d]", messageID)
	}

	if err := validator.MessageContent(content, len(msg.Attachments)); err != nil {
		return models.Message{}, err
	}
	if err := s.requireView(ctx, editorID, msg.ChannelID); err != nil {
		return models.Message{}, err
	}

	unlock := s.locks.lock(msg.ChannelID)
	defer unlock()

	updated, err := s.store.UpdateMessageContent(ctx, messageID, content, s.now().UnixMilli())
	if err != nil {
		return models.Message{}, err
	}
	s.publish(ctx, models.EventMessageUpdate, updated.ChannelID, updated)

	return updated, nil
}

// DeleteMessage soft deletes a message. Authors may delete their own
// messages, moderators anyone's.
func (s *Service) DeleteMessage(ctx context.Context, actorID int64, messageID int64) (models.MessageDeletePayload, error) {
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return models.MessageDeletePayload{}, err
	}

	if msg.AuthorID != actorID {
		isModerator, err := s.perms.IsModerator(ctx, actorID, msg.ChannelID)
		if err != nil {
			return models.MessageDeletePayload{}, err
		}
		if !isModerator {
			return models.MessageDeletePayload{}, errs.Wrap(errs.ErrForbidden, "can't delete message [%d]", messageID)
		}
	}

	unlock := s.locks.lock(msg.ChannelID)
	defer unlock()

	payload, err := s.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return models.MessageDeletePayload{}, err
	}
	s.publish(ctx, models.EventMessageDelete, payload.ChannelID, payload)

	s.sugar.Debugf("User ID [%d] deleted message ID [%d]", actorID, messageID)
	return payload, nil
}

func (s *Service) AddReaction(ctx context.Context, actorID int64, messageID int64, emoji string) (ReactionResult, error) {
	if err := validator.Emoji(emoji); err != nil {
		return ReactionResult{}, err
	}

	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return ReactionResult{}, err
	}
	if err := s.requireView(ctx, actorID, msg.ChannelID); err != nil {
		return ReactionResult{}, err
	}

	unlock := s.locks.lock(msg.ChannelID)
	defer unlock()

	change, err := s.store.AddReaction(ctx, messageID, actorID, emoji, s.now().UnixMilli())
	if err != nil {
		return ReactionResult{}, err
	}

	return s.reactionResult(ctx, models.EventReactionAdd, messageID, actorID, emoji, change), nil
}

// RemoveReaction removes targetUserID's reaction, the actor's own when
// targetUserID is 0. Removing someone else's takes a moderator.
func (s *Service) RemoveReaction(ctx context.Context, actorID int64, messageID int64, emoji string, targetUserID int64) (ReactionResult, error) {
	if err := validator.Emoji(emoji); err != nil {
		return ReactionResult{}, err
	}
	if targetUserID == 0 {
		targetUserID = actorID
	}

	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return ReactionResult{}, err
	}
	if err := s.requireView(ctx, actorID, msg.ChannelID); err != nil {
		return ReactionResult{}, err
	}

	if targetUserID != actorID {
		isModerator, err := s.perms.IsModerator(ctx, actorID, msg.ChannelID)
		if err != nil {
			return ReactionResult{}, err
		}
		if !isModerator {
			return ReactionResult{}, errs.Wrap(errs.ErrForbidden, "can't remove reactions of user ID [%d]", targetUserID)
		}
	}

	unlock := s.locks.lock(msg.ChannelID)
	defer unlock()

	change, err := s.store.RemoveReaction(ctx, messageID, targetUserID, emoji)
	if err != nil {
		return ReactionResult{}, err
	}

	return s.reactionResult(ctx, models.EventReactionRemove, messageID, targetUserID, emoji, change), nil
}

// reactionResult publishes the delta if anything changed. Caller holds the
// channel lock.
func (s *Service) reactionResult(ctx context.Context, kind models.EventKind, messageID int64, userID int64, emoji string, change database.ReactionChange) ReactionResult {
	result := ReactionResult{
		Changed: change.Changed,
		Event: models.ReactionPayload{
			ChannelID: change.ChannelID,
			MessageID: messageID,
			Emoji:     emoji,
			UserID:    userID,
			Seq:       change.Seq,
			Version:   change.Version,
		},
		Reaction: change.Reaction,
	}

	if change.Changed {
		s.publish(ctx, kind, change.ChannelID, result.Event)
	}
	return result
}

func (s *Service) GetMessage(ctx context.Context, userID int64, messageID int64) (models.Message, error) {
	msg, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if err := s.requireView(ctx, userID, msg.ChannelID); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages pages backwards through a channel's live messages.
func (s *Service) ListMessages(ctx context.Context, userID int64, channelID int64, beforeID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if err := s.requireView(ctx, userID, channelID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, channelID, beforeID, limit)
}
