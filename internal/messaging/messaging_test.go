package messaging

import (
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/keyValue"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/ratelimit"
	"chatrelay-backend/internal/snowflake"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	alice int64 = 1 // server owner
	bob   int64 = 2 // member
	carol int64 = 3 // not a member

	serverID  int64 = 10
	channelID int64 = 100
	otherID   int64 = 101
)

type recordingPublisher struct {
	mutex  sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) error {
	if _, err := event.Frame(); err != nil {
		return err
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) snapshot() []models.Event {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]models.Event(nil), p.events...)
}

func (p *recordingPublisher) count(kind models.EventKind) int {
	n := 0
	for _, event := range p.snapshot() {
		if event.Kind == kind {
			n++
		}
	}
	return n
}

type typingCall struct {
	userID    int64
	channelID int64
}

type recordingTyping struct {
	mutex sync.Mutex
	calls []typingCall
}

func (r *recordingTyping) Stop(_ context.Context, userID int64, channelID int64) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.calls = append(r.calls, typingCall{userID, channelID})
	return true, nil
}

// failingStore refuses every write.
type failingStore struct {
	*database.Store
}

func (failingStore) InsertMessage(context.Context, *models.Message) error {
	return errs.Wrap(errs.ErrTransient, "database is down")
}

func (failingStore) AddReaction(context.Context, int64, int64, string, int64) (database.ReactionChange, error) {
	return database.ReactionChange{}, errs.Wrap(errs.ErrTransient, "database is down")
}

type fixture struct {
	store     *database.Store
	publisher *recordingPublisher
	typing    *recordingTyping
	nonces    *keyValue.Local
	service   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sugar := zaptest.NewLogger(t).Sugar()
	store, err := database.OpenSqlite(":memory:", sugar)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, id := range []int64{alice, bob, carol} {
		require.NoError(t, store.EnsureUser(ctx, models.User{ID: id, UserName: fmt.Sprintf("user%d", id)}))
	}
	require.NoError(t, store.CreateServer(ctx, models.Server{ID: serverID, OwnerID: alice, Name: "server"}, 0))
	_, err = store.AddServerMember(ctx, serverID, bob, 0)
	require.NoError(t, err)
	require.NoError(t, store.CreateChannel(ctx, models.Channel{ID: channelID, ServerID: serverID, Name: "general"}))
	require.NoError(t, store.CreateChannel(ctx, models.Channel{ID: otherID, ServerID: serverID, Name: "random"}))

	f := &fixture{
		store:     store,
		publisher: &recordingPublisher{},
		typing:    &recordingTyping{},
		nonces:    keyValue.NewLocal(sugar),
	}
	f.service = f.newService(t, store, nil)
	return f
}

func (f *fixture) newService(t *testing.T, store Store, limiter *ratelimit.Keyed) *Service {
	t.Helper()

	ids, err := snowflake.New(1)
	require.NoError(t, err)

	return New(Deps{
		Store:       store,
		Permissions: f.store,
		Publisher:   f.publisher,
		Typing:      f.typing,
		IDs:         ids,
		Nonces:      f.nonces,
		Limiter:     limiter,
		Sugar:       zaptest.NewLogger(t).Sugar(),
	})
}

func TestHelloThenThumbsUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.CreateMessage(ctx, alice, channelID, "hello", nil, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Seq)
	assert.Equal(t, int64(1), msg.Version)

	result, err := f.service.AddReaction(ctx, bob, msg.ID, "👍")
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, models.ReactionAggregate{Emoji: "👍", Count: 1, Users: []int64{bob}}, result.Reaction)

	result, err = f.service.AddReaction(ctx, bob, msg.ID, "👍")
	require.NoError(t, err)
	assert.False(t, result.Changed, "adding the same reaction twice changes nothing")

	events := f.publisher.snapshot()
	require.Len(t, events, 2)

	assert.Equal(t, models.EventMessageCreate, events[0].Kind)
	assert.Equal(t, models.ChannelRoom(channelID), events[0].Room)
	assert.Equal(t, "hello", events[0].Payload.(models.Message).Content)

	assert.Equal(t, models.EventReactionAdd, events[1].Kind)
	assert.Equal(t, models.ReactionPayload{ChannelID: channelID, MessageID: msg.ID, Emoji: "👍", UserID: bob, Seq: 2, Version: 2}, events[1].Payload)

	stored, err := f.service.GetMessage(ctx, bob, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Reactions["👍"].Count)
	assert.Equal(t, []int64{bob}, stored.Reactions["👍"].Users)
}

func TestPublishOrderMatchesSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		author := alice
		if w%2 == 1 {
			author = bob
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := f.service.CreateMessage(ctx, author, channelID, "spam", nil, "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events := f.publisher.snapshot()
	require.Len(t, events, 80)

	for i, event := range events {
		assert.Equal(t, int64(i+1), event.Payload.(models.Message).Seq)
	}
}

func TestSequenceIsPerChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateMessage(ctx, alice, channelID, "a", nil, "")
	require.NoError(t, err)
	other, err := f.service.CreateMessage(ctx, alice, otherID, "b", nil, "")
	require.NoError(t, err)
	second, err := f.service.CreateMessage(ctx, alice, channelID, "c", nil, "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(1), other.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.Less(t, first.ID, second.ID)
}

func TestFailedWriteIsNotBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.CreateMessage(ctx, alice, channelID, "hello", nil, "")
	require.NoError(t, err)
	before := len(f.publisher.snapshot())

	broken := f.newService(t, failingStore{f.store}, nil)

	_, err = broken.CreateMessage(ctx, alice, channelID, "lost", nil, "retry-me")
	assert.ErrorIs(t, err, errs.ErrTransient)

	_, err = broken.AddReaction(ctx, bob, msg.ID, "👍")
	assert.ErrorIs(t, err, errs.ErrTransient)

	assert.Len(t, f.publisher.snapshot(), before)
	assert.Empty(t, f.typing.calls[1:], "typing isn't stopped for a failed send")

	// the nonce of the failed attempt can be used again
	retried, err := f.service.CreateMessage(ctx, alice, channelID, "lost", nil, "retry-me")
	require.NoError(t, err)
	assert.Equal(t, "lost", retried.Content)
}

func TestConcurrentReactionsKeepCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const reactors = 20
	for i := int64(0); i < reactors; i++ {
		userID := 1000 + i
		require.NoError(t, f.store.EnsureUser(ctx, models.User{ID: userID, UserName: "reactor"}))
		_, err := f.store.AddServerMember(ctx, serverID, userID, 0)
		require.NoError(t, err)
	}

	msg, err := f.service.CreateMessage(ctx, alice, channelID, "react to me", nil, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := int64(0); i < reactors; i++ {
		for attempt := 0; attempt < 2; attempt++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				_, err := f.service.AddReaction(ctx, userID, msg.ID, "🔥")
				assert.NoError(t, err)
			}(1000 + i)
		}
	}
	wg.Wait()

	stored, err := f.service.GetMessage(ctx, alice, msg.ID)
	require.NoError(t, err)

	agg := stored.Reactions["🔥"]
	assert.Equal(t, reactors, agg.Count)
	assert.Len(t, agg.Users, reactors)
	assert.Equal(t, reactors, f.publisher.count(models.EventReactionAdd))

	wg = sync.WaitGroup{}
	for i := int64(0); i < reactors; i += 2 {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := f.service.RemoveReaction(ctx, userID, msg.ID, "🔥", 0)
			assert.NoError(t, err)
		}(1000 + i)
	}
	wg.Wait()

	stored, err = f.service.GetMessage(ctx, alice, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, reactors/2, stored.Reactions["🔥"].Count)
	assert.Len(t, stored.Reactions["🔥"].Users, reactors/2)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.CreateMessage(ctx, bob, channelID, "helo", nil, "")
	require.NoError(t, err)

	_, err = f.service.EditMessage(ctx, alice, msg.ID, "hijacked")
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.service.EditMessage(ctx, bob, msg.ID, "")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	edited, err := f.service.EditMessage(ctx, bob, msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.Equal(t, int64(2), edited.Version)
	assert.NotZero(t, edited.EditedAt)

	events := f.publisher.snapshot()
	assert.Equal(t, models.EventMessageUpdate, events[len(events)-1].Kind)

	_, err = f.service.DeleteMessage(ctx, bob, msg.ID)
	require.NoError(t, err)

	_, err = f.service.EditMessage(ctx, bob, msg.ID, "too late")
	assert.ErrorIs(t, err, errs.ErrConflict)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	byAlice, err := f.service.CreateMessage(ctx, alice, channelID, "mine", nil, "")
	require.NoError(t, err)
	byBob, err := f.service.CreateMessage(ctx, bob, channelID, "rude", nil, "")
	require.NoError(t, err)

	_, err = f.service.DeleteMessage(ctx, bob, byAlice.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	payload, err := f.service.DeleteMessage(ctx, alice, byBob.ID)
	require.NoError(t, err, "the server owner moderates")
	assert.Equal(t, models.MessageDeletePayload{ChannelID: channelID, MessageID: byBob.ID, Seq: 3, Version: 2}, payload)

	events := f.publisher.snapshot()
	last := events[len(events)-1]
	assert.Equal(t, models.EventMessageDelete, last.Kind)
	assert.Equal(t, payload, last.Payload)

	_, err = f.service.DeleteMessage(ctx, alice, byBob.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.service.GetMessage(ctx, alice, byBob.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	messages, err := f.service.ListMessages(ctx, bob, channelID, 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, byAlice.ID, messages[0].ID)
}

func TestRemoveOthersReactionRequiresModerator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.CreateMessage(ctx, bob, channelID, "hi", nil, "")
	require.NoError(t, err)
	_, err = f.service.AddReaction(ctx, alice, msg.ID, "🎉")
	require.NoError(t, err)
	_, err = f.service.AddReaction(ctx, bob, msg.ID, "🎉")
	require.NoError(t, err)

	_, err = f.service.RemoveReaction(ctx, bob, msg.ID, "🎉", alice)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	result, err := f.service.RemoveReaction(ctx, alice, msg.ID, "🎉", bob)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, bob, result.Event.UserID)
	assert.Equal(t, []int64{alice}, result.Reaction.Users)

	result, err = f.service.RemoveReaction(ctx, alice, msg.ID, "🎉", bob)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 1, f.publisher.count(models.EventReactionRemove))
}

func TestNonceReplayDoesNotBroadcastTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateMessage(ctx, alice, channelID, "once", nil, "abc")
	require.NoError(t, err)
	second, err := f.service.CreateMessage(ctx, alice, channelID, "once", nil, "abc")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.publisher.count(models.EventMessageCreate))

	// nonces are scoped per author and channel
	other, err := f.service.CreateMessage(ctx, bob, channelID, "once", nil, "abc")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestCreateMessageChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		author      int64
		channel     int64
		content     string
		attachments []models.Attachment
		want        error
	}{
		{"empty", alice, channelID, "", nil, errs.ErrInvalid},
		{"bad attachment", alice, channelID, "", []models.Attachment{{URL: "not a url"}}, errs.ErrInvalid},
		{"not a member", carol, channelID, "hi", nil, errs.ErrForbidden},
		{"unknown channel", alice, 999, "hi", nil, errs.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateMessage(ctx, tt.author, tt.channel, tt.content, tt.attachments, "")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Empty(t, f.publisher.snapshot())
}

func TestCreateMessageRateLimited(t *testing.T) {
	f := newFixture(t)
	limited := f.newService(t, f.store, ratelimit.New(ratelimit.Config{PerSecond: 0.001, Burst: 1}))
	ctx := context.Background()

	_, err := limited.CreateMessage(ctx, alice, channelID, "one", nil, "")
	require.NoError(t, err)

	_, err = limited.CreateMessage(ctx, alice, channelID, "two", nil, "")
	assert.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestCreateMessageStopsTyping(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateMessage(context.Background(), bob, channelID, "done typing", nil, "")
	require.NoError(t, err)

	assert.Equal(t, []typingCall{{bob, channelID}}, f.typing.calls)
}

func TestReadsRequireAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.service.CreateMessage(ctx, alice, channelID, "private", nil, "")
	require.NoError(t, err)

	_, err = f.service.GetMessage(ctx, carol, msg.ID)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.service.ListMessages(ctx, carol, channelID, 0, 10)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	_, err = f.service.AddReaction(ctx, carol, msg.ID, "👍")
	assert.ErrorIs(t, err, errs.ErrForbidden)
}
