package typing

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"chatrelay-backend/internal/ratelimit"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultPublishTimeout = 5 * time.Second

type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type Permissions interface {
	CanSend(ctx context.Context, userID int64, channelID int64) (bool, error)
}

type entry struct {
	username  string
	expiresAt time.Time
}

// Aggregator keeps one expiring entry per typing user per channel. Events
// are published while the lock is held so a channel's typing and stopTyping
// frames go out in the order the entries changed.
type Aggregator struct {
	mutex   sync.Mutex
	entries map[int64]map[int64]entry // channel ID -> user ID -> entry

	ttl           time.Duration
	sweepInterval time.Duration
	perms         Permissions
	limiter       *ratelimit.Keyed
	publisher     Publisher
	sugar         *zap.SugaredLogger
	now           func() time.Time

	// bounds each publish, the lock is held meanwhile
	publishTimeout time.Duration
}

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

func New(cfg Config, perms Permissions, limiter *ratelimit.Keyed, publisher Publisher, sugar *zap.SugaredLogger) *Aggregator {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 || cfg.SweepInterval > cfg.TTL {
		cfg.SweepInterval = time.Second
	}

	return &Aggregator{
		entries:       make(map[int64]map[int64]entry),
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		perms:         perms,
		limiter:       limiter,
		publisher:     publisher,
		sugar:         sugar,
		now:           time.Now,

		publishTimeout: defaultPublishTimeout,
	}
}

// Signal marks the user as typing in the channel for another TTL. Only the
// signal that starts a typing session is broadcast.
func (a *Aggregator) Signal(ctx context.Context, userID int64, username string, channelID int64) error {
	if !a.limiter.Allow(userID) {
		return errs.Wrap(errs.ErrRateLimited, "typing too often")
	}

	if a.perms != nil {
		allowed, err := a.perms.CanSend(ctx, userID, channelID)
		if err != nil {
			return err
		}
		if !allowed {
			return errs.Wrap(errs.ErrForbidden, "can't type in channel [%d]", channelID)
		}
	}

	now := a.now()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	channel, exists := a.entries[channelID]
	if !exists {
		channel = make(map[int64]entry)
		a.entries[channelID] = channel
	}

	previous, exists := channel[userID]
	isNew := !exists || !previous.expiresAt.After(now)
	channel[userID] = entry{username: username, expiresAt: now.Add(a.ttl)}

	if isNew {
		a.publish(ctx, models.EventTyping, channelID, userID, username)
	}
	return nil
}

// Stop ends the user's typing session and reports whether there was one.
func (a *Aggregator) Stop(ctx context.Context, userID int64, channelID int64) (bool, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	e, exists := a.entries[channelID][userID]
	if !exists {
		return false, nil
	}

	a.delete(channelID, userID)
	a.publish(ctx, models.EventStopTyping, channelID, userID, e.username)
	return true, nil
}

// Sweep evicts every entry expired at now and returns how many it removed.
func (a *Aggregator) Sweep(now time.Time) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	ctx := context.Background()
	evicted := 0
	for channelID, channel := range a.entries {
		for userID, e := range channel {
			if e.expiresAt.After(now) {
				continue
			}
			a.delete(channelID, userID)
			a.publish(ctx, models.EventStopTyping, channelID, userID, e.username)
			evicted++
		}
	}

	if evicted > 0 {
		a.sugar.Debugf("Swept %d expired typing entries", evicted)
	}
	return evicted
}

func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(a.now())
		}
	}
}

// Typers lists the users typing in the channel right now, expired entries
// that haven't been swept yet are left out.
func (a *Aggregator) Typers(channelID int64) []models.TypingPayload {
	now := a.now()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	typers := []models.TypingPayload{}
	for userID, e := range a.entries[channelID] {
		if e.expiresAt.After(now) {
			typers = append(typers, models.TypingPayload{ChannelID: channelID, UserID: userID, Username: e.username})
		}
	}

	sort.Slice(typers, func(i, j int) bool { return typers[i].UserID < typers[j].UserID })
	return typers
}

func (a *Aggregator) delete(channelID int64, userID int64) {
	channel := a.entries[channelID]
	delete(channel, userID)
	if len(channel) == 0 {
		delete(a.entries, channelID)
	}
}

func (a *Aggregator) publish(ctx context.Context, kind models.EventKind, channelID int64, userID int64, username string) {
	event := models.Event{
		Kind:    kind,
		Room:    models.ChannelRoom(channelID),
		Payload: models.TypingPayload{ChannelID: channelID, UserID: userID, Username: username},
	}

	ctx, cancel := context.WithTimeout(ctx, a.publishTimeout)
	defer cancel()

	if err := a.publisher.Publish(ctx, event); err != nil {
		a.sugar.Errorf("Couldn't publish %s for user ID [%d] in channel ID [%d]: %v", kind, userID, channelID, err)
	}
}
