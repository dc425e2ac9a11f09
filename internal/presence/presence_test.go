package presence

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStore struct {
	mutex    sync.Mutex
	statuses map[int64]models.StatusPayload
	loadErr  error
}

func (s *fakeStore) failLoads(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.loadErr = err
}

func (s *fakeStore) LoadStatus(_ context.Context, userID int64) (models.Status, string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.loadErr != nil {
		return "", "", s.loadErr
	}

	if status, exists := s.statuses[userID]; exists {
		return status.Status, status.CustomStatus, nil
	}
	return models.StatusOnline, "", nil
}

func (s *fakeStore) SaveStatus(_ context.Context, userID int64, status models.Status, customStatus string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.statuses[userID] = models.StatusPayload{UserID: userID, Status: status, CustomStatus: customStatus}
	return nil
}

type fixedScope []models.RoomID

func (s fixedScope) Scope(context.Context, int64) ([]models.RoomID, error) {
	return s, nil
}

// flakyScope fails while broken is set.
type flakyScope struct {
	mutex  sync.Mutex
	broken bool
}

func (s *flakyScope) setBroken(broken bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.broken = broken
}

func (s *flakyScope) Scope(context.Context, int64) ([]models.RoomID, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.broken {
		return nil, errs.Wrap(errs.ErrTransient, "database is down")
	}
	return []models.RoomID{models.ServerRoom(1)}, nil
}

type recordingPublisher struct {
	mutex  sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) statuses() []models.Status {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	statuses := []models.Status{}
	for _, event := range p.events {
		statuses = append(statuses, event.Payload.(models.StatusPayload).Status)
	}
	return statuses
}

type scheduled struct {
	f         func()
	cancelled bool
	fired     bool
}

// manualScheduler runs grace timers only when the test says so.
type manualScheduler struct {
	mutex   sync.Mutex
	pending []*scheduled
}

func (s *manualScheduler) schedule(_ time.Duration, f func()) func() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	task := &scheduled{f: f}
	s.pending = append(s.pending, task)
	return func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		task.cancelled = true
		return !task.fired
	}
}

func (s *manualScheduler) fireAll() {
	s.mutex.Lock()
	var due []func()
	for _, task := range s.pending {
		if !task.cancelled && !task.fired {
			task.fired = true
			due = append(due, task.f)
		}
	}
	s.mutex.Unlock()

	for _, f := range due {
		f()
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeStore, *recordingPublisher, *manualScheduler) {
	t.Helper()

	store := &fakeStore{statuses: make(map[int64]models.StatusPayload)}
	publisher := &recordingPublisher{}
	scheduler := &manualScheduler{}

	c := New(store, fixedScope{models.ServerRoom(1)}, publisher, 5*time.Second, zaptest.NewLogger(t).Sugar())
	c.schedule = scheduler.schedule
	return c, store, publisher, scheduler
}

func TestMultipleDevicesStayOnline(t *testing.T) {
	c, _, publisher, scheduler := newTestCoordinator(t)

	c.OnConnectionAdded(1, "phone")
	c.OnConnectionAdded(1, "laptop")
	assert.Equal(t, []models.Status{models.StatusOnline}, publisher.statuses())

	c.OnConnectionRemoved(1, "phone")
	scheduler.fireAll()
	assert.Equal(t, models.StatusOnline, c.EffectiveStatusOf(1).Status)

	c.OnConnectionRemoved(1, "laptop")
	assert.Equal(t, models.StatusOnline, c.EffectiveStatusOf(1).Status, "still online during grace")
	assert.Equal(t, []models.Status{models.StatusOnline}, publisher.statuses())

	scheduler.fireAll()
	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(1).Status)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOffline}, publisher.statuses())

	require.Len(t, publisher.events, 2)
	assert.Equal(t, models.ServerRoom(1), publisher.events[1].Room)
	assert.Equal(t, models.EventUserStatusUpdate, publisher.events[1].Kind)
}

func TestReconnectWithinGraceCancelsOffline(t *testing.T) {
	c, _, publisher, scheduler := newTestCoordinator(t)

	c.OnConnectionAdded(1, "tab")
	c.OnConnectionRemoved(1, "tab")
	c.OnConnectionAdded(1, "tab")
	scheduler.fireAll()

	assert.Equal(t, models.StatusOnline, c.EffectiveStatusOf(1).Status)
	assert.Equal(t, []models.Status{models.StatusOnline}, publisher.statuses())
}

func TestSameSessionCountsConnections(t *testing.T) {
	c, _, publisher, scheduler := newTestCoordinator(t)

	c.OnConnectionAdded(1, "tab")
	c.OnConnectionAdded(1, "tab")
	c.OnConnectionRemoved(1, "tab")
	scheduler.fireAll()

	assert.Equal(t, models.StatusOnline, c.EffectiveStatusOf(1).Status)
	assert.Equal(t, []models.Status{models.StatusOnline}, publisher.statuses())
}

func TestInvisibleLooksOffline(t *testing.T) {
	c, store, publisher, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.OnConnectionAdded(1, "tab")

	own, err := c.SetExplicitStatus(ctx, 1, models.StatusInvisible, "secret")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvisible, own.Status)

	assert.Equal(t, models.StatusPayload{UserID: 1, Status: models.StatusOffline}, c.EffectiveStatusOf(1))
	assert.Equal(t, models.StatusInvisible, c.OwnStatus(ctx, 1).Status)
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOffline}, publisher.statuses())
	assert.Equal(t, models.StatusInvisible, store.statuses[1].Status)
}

func TestSetExplicitStatusBroadcastsOnlyChanges(t *testing.T) {
	c, _, publisher, _ := newTestCoordinator(t)
	ctx := context.Background()

	c.OnConnectionAdded(1, "tab")

	_, err := c.SetExplicitStatus(ctx, 1, models.StatusDND, "focus")
	require.NoError(t, err)
	_, err = c.SetExplicitStatus(ctx, 1, models.StatusDND, "focus")
	require.NoError(t, err)
	_, err = c.SetExplicitStatus(ctx, 1, models.StatusDND, "lunch")
	require.NoError(t, err)

	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusDND, models.StatusDND}, publisher.statuses())
	assert.Equal(t, models.StatusPayload{UserID: 1, Status: models.StatusDND, CustomStatus: "lunch"}, c.EffectiveStatusOf(1))
}

func TestSetStatusWhileOfflineIsSilent(t *testing.T) {
	c, _, publisher, _ := newTestCoordinator(t)

	_, err := c.SetExplicitStatus(context.Background(), 1, models.StatusIdle, "")
	require.NoError(t, err)

	assert.Empty(t, publisher.statuses())
	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(1).Status)

	c.OnConnectionAdded(1, "tab")
	assert.Equal(t, []models.Status{models.StatusIdle}, publisher.statuses())
}

func TestPersistedStatusIsLoadedOnConnect(t *testing.T) {
	c, store, publisher, _ := newTestCoordinator(t)
	store.statuses[1] = models.StatusPayload{UserID: 1, Status: models.StatusDND, CustomStatus: "busy"}

	c.OnConnectionAdded(1, "tab")

	assert.Equal(t, []models.Status{models.StatusDND}, publisher.statuses())
	assert.Equal(t, "busy", c.EffectiveStatusOf(1).CustomStatus)
}

func TestSetExplicitStatusValidates(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.SetExplicitStatus(ctx, 1, models.StatusOffline, "")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = c.SetExplicitStatus(ctx, 1, "away", "")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	_, err = c.SetExplicitStatus(ctx, 1, models.StatusOnline, strings.Repeat("a", MaxCustomStatusLength+1))
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestZeroGraceGoesOfflineImmediately(t *testing.T) {
	c, _, publisher, _ := newTestCoordinator(t)
	c.grace = 0

	c.OnConnectionAdded(1, "tab")
	c.OnConnectionRemoved(1, "tab")

	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOffline}, publisher.statuses())
}

func TestUnknownUserIsOffline(t *testing.T) {
	c, _, _, _ := newTestCoordinator(t)

	statuses := c.StatusesOf([]int64{5, 6})
	assert.Equal(t, []models.StatusPayload{{UserID: 5, Status: models.StatusOffline}, {UserID: 6, Status: models.StatusOffline}}, statuses)
}

func TestUnmatchedRemovalIsIgnored(t *testing.T) {
	c, _, publisher, scheduler := newTestCoordinator(t)

	c.OnConnectionRemoved(1, "tab")
	scheduler.fireAll()

	assert.Empty(t, publisher.statuses())
}

func TestGraceWithRealTimer(t *testing.T) {
	publisher := &recordingPublisher{}
	store := &fakeStore{statuses: make(map[int64]models.StatusPayload)}
	c := New(store, fixedScope{models.ServerRoom(1)}, publisher, 20*time.Millisecond, zaptest.NewLogger(t).Sugar())

	c.OnConnectionAdded(1, "tab")
	c.OnConnectionRemoved(1, "tab")

	require.Eventually(t, func() bool {
		return c.EffectiveStatusOf(1).Status == models.StatusOffline
	}, time.Second, 5*time.Millisecond)
}

func TestUnreadableStatusNeverShowsOnline(t *testing.T) {
	c, store, publisher, _ := newTestCoordinator(t)
	ctx := context.Background()
	store.statuses[1] = models.StatusPayload{UserID: 1, Status: models.StatusInvisible}
	store.statuses[2] = models.StatusPayload{UserID: 2, Status: models.StatusDND}
	store.failLoads(errs.Wrap(errs.ErrTransient, "database is down"))

	c.OnConnectionAdded(1, "tab")
	c.OnConnectionAdded(2, "tab")

	assert.Empty(t, publisher.statuses())
	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(1).Status)
	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(2).Status)

	store.failLoads(nil)

	// the next connection retries the load
	c.OnConnectionAdded(1, "phone")
	assert.Empty(t, publisher.statuses())
	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(1).Status)

	assert.Equal(t, models.StatusDND, c.OwnStatus(ctx, 2).Status)
	assert.Equal(t, []models.Status{models.StatusDND}, publisher.statuses())
	assert.Equal(t, models.StatusDND, c.EffectiveStatusOf(2).Status)
}

func TestScopeFailureStillUpdatesStatus(t *testing.T) {
	store := &fakeStore{statuses: make(map[int64]models.StatusPayload)}
	scope := &flakyScope{}
	publisher := &recordingPublisher{}
	c := New(store, scope, publisher, 0, zaptest.NewLogger(t).Sugar())

	c.OnConnectionAdded(7, "tab")
	assert.Equal(t, models.StatusOnline, c.EffectiveStatusOf(7).Status)

	scope.setBroken(true)
	c.OnConnectionRemoved(7, "tab")

	assert.Equal(t, models.StatusOffline, c.EffectiveStatusOf(7).Status)
	assert.Equal(t, []models.Status{models.StatusOnline}, publisher.statuses())

	scope.setBroken(false)
	c.OnConnectionAdded(7, "tab")
	assert.Equal(t, []models.Status{models.StatusOnline, models.StatusOnline}, publisher.statuses())
}
