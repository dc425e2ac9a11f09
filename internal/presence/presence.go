package presence

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/validator"
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	MaxCustomStatusLength = 128

	storeTimeout = 10 * time.Second
)

type StatusStore interface {
	LoadStatus(ctx context.Context, userID int64) (models.Status, string, error)
	SaveStatus(ctx context.Context, userID int64, status models.Status, customStatus string) error
}

// Scoper lists the rooms whose members may see the user's status.
type Scoper interface {
	Scope(ctx context.Context, userID int64) ([]models.RoomID, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// record is one user's presence. Its mutex is held across recomputing and
// broadcasting so updates for the same user go out in order.
type record struct {
	mutex    sync.Mutex
	sessions map[string]int // session ID -> live connections
	explicit models.Status
	custom   string
	loaded   bool

	// grace is non-nil while the last connection's removal is pending
	grace      func() bool
	graceToken int

	visible models.StatusPayload
}

func (r *record) connections() int {
	total := 0
	for _, n := range r.sessions {
		total += n
	}
	return total
}

// effective is offline until the chosen status is known, an invisible user
// must never show up as online because storage was unreachable.
func (r *record) effective() models.Status {
	if r.connections() == 0 && r.grace == nil {
		return models.StatusOffline
	}
	if !r.loaded || r.explicit == models.StatusInvisible {
		return models.StatusOffline
	}
	return r.explicit
}

// Coordinator tracks connections per user and session and decides what
// status everyone else sees.
type Coordinator struct {
	mutex   sync.Mutex
	records map[int64]*record

	store     StatusStore
	scope     Scoper
	publisher Publisher
	grace     time.Duration
	sugar     *zap.SugaredLogger

	// schedule runs f after d and returns a function that cancels it
	schedule func(d time.Duration, f func()) func() bool
}

func New(store StatusStore, scope Scoper, publisher Publisher, grace time.Duration, sugar *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		records:   make(map[int64]*record),
		store:     store,
		scope:     scope,
		publisher: publisher,
		grace:     grace,
		sugar:     sugar,
		schedule: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

func (c *Coordinator) record(userID int64) *record {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	rec, exists := c.records[userID]
	if !exists {
		rec = &record{
			sessions: make(map[string]int),
			explicit: models.StatusOnline,
			visible:  models.StatusPayload{UserID: userID, Status: models.StatusOffline},
		}
		c.records[userID] = rec
	}
	return rec
}

// load reads the persisted explicit status once. A failed read is retried on
// the next call. Caller holds rec.mutex.
func (c *Coordinator) load(ctx context.Context, userID int64, rec *record) {
	if rec.loaded {
		return
	}

	status, custom, err := c.store.LoadStatus(ctx, userID)
	if err != nil {
		c.sugar.Errorf("Couldn't load status of user ID [%d]: %v", userID, err)
		return
	}

	rec.explicit = status
	rec.custom = custom
	rec.loaded = true
}

func (c *Coordinator) OnConnectionAdded(userID int64, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	rec := c.record(userID)
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	c.load(ctx, userID, rec)

	if rec.grace != nil {
		rec.grace()
		rec.grace = nil
		rec.graceToken++
		c.sugar.Debugf("User ID [%d] reconnected within grace period", userID)
	}

	rec.sessions[sessionID]++
	c.sugar.Debugf("User ID [%d] session [%s] now has %d connections", userID, sessionID, rec.sessions[sessionID])

	c.broadcastIfChanged(ctx, userID, rec)
}

// OnConnectionRemoved delays going offline by the grace period, a
// reconnect before it ends cancels the change.
func (c *Coordinator) OnConnectionRemoved(userID int64, sessionID string) {
	rec := c.record(userID)
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	if rec.sessions[sessionID] == 0 {
		c.sugar.Warnf("User ID [%d] session [%s] removed more connections than it added", userID, sessionID)
		return
	}

	rec.sessions[sessionID]--
	if rec.sessions[sessionID] == 0 {
		delete(rec.sessions, sessionID)
	}

	if rec.connections() > 0 {
		return
	}

	if c.grace <= 0 {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		c.broadcastIfChanged(ctx, userID, rec)
		return
	}

	rec.graceToken++
	token := rec.graceToken
	rec.grace = c.schedule(c.grace, func() {
		c.graceExpired(userID, rec, token)
	})
}

func (c *Coordinator) graceExpired(userID int64, rec *record, token int) {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	// cancelled by a reconnect or superseded by a later disconnect
	if rec.graceToken != token || rec.grace == nil {
		return
	}
	rec.grace = nil

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	c.broadcastIfChanged(ctx, userID, rec)
}

// SetExplicitStatus persists the user's chosen status and broadcasts what
// others now see, if that changed.
func (c *Coordinator) SetExplicitStatus(ctx context.Context, userID int64, status models.Status, customStatus string) (models.StatusPayload, error) {
	if err := validator.Status(status); err != nil {
		return models.StatusPayload{}, err
	}
	if utf8.RuneCountInString(customStatus) > MaxCustomStatusLength {
		return models.StatusPayload{}, errs.Wrap(errs.ErrInvalid, "long_custom_status")
	}

	rec := c.record(userID)
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	if err := c.store.SaveStatus(ctx, userID, status, customStatus); err != nil {
		return models.StatusPayload{}, err
	}

	rec.explicit = status
	rec.custom = customStatus
	rec.loaded = true

	c.broadcastIfChanged(ctx, userID, rec)

	return models.StatusPayload{UserID: userID, Status: status, CustomStatus: customStatus}, nil
}

// broadcastIfChanged sends userStatusUpdate to the user's scope when the
// status others see has changed. Caller holds rec.mutex.
func (c *Coordinator) broadcastIfChanged(ctx context.Context, userID int64, rec *record) {
	next := models.StatusPayload{UserID: userID, Status: rec.effective()}
	if next.Status != models.StatusOffline {
		next.CustomStatus = rec.custom
	}

	if next == rec.visible {
		return
	}

	// queries answer from visible even when the broadcast below fails
	rec.visible = next

	rooms, err := c.scope.Scope(ctx, userID)
	if err != nil {
		c.sugar.Errorf("Couldn't list rooms to send status of user ID [%d]: %v", userID, err)
		return
	}
	c.sugar.Debugf("User ID [%d] is now [%s] to others, sending to %d rooms", userID, next.Status, len(rooms))

	for _, room := range rooms {
		event := models.Event{Kind: models.EventUserStatusUpdate, Room: room, Payload: next}
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.sugar.Errorf("Couldn't publish status of user ID [%d] to room [%s]: %v", userID, room, err)
		}
	}
}

// EffectiveStatusOf is the status other users see.
func (c *Coordinator) EffectiveStatusOf(userID int64) models.StatusPayload {
	c.mutex.Lock()
	rec, exists := c.records[userID]
	c.mutex.Unlock()

	if !exists {
		return models.StatusPayload{UserID: userID, Status: models.StatusOffline}
	}

	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return rec.visible
}

func (c *Coordinator) StatusesOf(userIDs []int64) []models.StatusPayload {
	statuses := make([]models.StatusPayload, len(userIDs))
	for i, userID := range userIDs {
		statuses[i] = c.EffectiveStatusOf(userID)
	}
	return statuses
}

// OwnStatus is what the user chose, shown only to themselves.
func (c *Coordinator) OwnStatus(ctx context.Context, userID int64) models.StatusPayload {
	rec := c.record(userID)
	rec.mutex.Lock()
	defer rec.mutex.Unlock()

	if !rec.loaded {
		c.load(ctx, userID, rec)
		// a connection may be waiting on this load to be shown
		c.broadcastIfChanged(ctx, userID, rec)
	}
	return models.StatusPayload{UserID: userID, Status: rec.explicit, CustomStatus: rec.custom}
}
