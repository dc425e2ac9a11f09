package hub

import (
	"chatrelay-backend/internal/errs"
	"chatrelay-backend/internal/models"
	"context"
	"sync"

	"go.uber.org/zap"
)

// Authorizer decides whether a user may receive a room's events.
type Authorizer interface {
	CanView(ctx context.Context, userID int64, room models.RoomID) (bool, error)
}

// Rooms tracks which connections receive which room's events. Both
// directions are kept under one lock so a snapshot never sees a half
// applied join, leave or eviction.
type Rooms struct {
	mutex   sync.RWMutex
	members map[models.RoomID]map[string]*Connection
	joined  map[string]map[models.RoomID]struct{}

	// bumped whenever access is taken away, a join that saw an older value
	// before asking the authorizer has to ask again
	userEpochs map[int64]uint64
	roomEpochs map[models.RoomID]uint64

	auth  Authorizer
	sugar *zap.SugaredLogger
}

const maxJoinAttempts = 3

func NewRooms(auth Authorizer, sugar *zap.SugaredLogger) *Rooms {
	return &Rooms{
		members:    make(map[models.RoomID]map[string]*Connection),
		joined:     make(map[string]map[models.RoomID]struct{}),
		userEpochs: make(map[int64]uint64),
		roomEpochs: make(map[models.RoomID]uint64),
		auth:       auth,
		sugar:      sugar,
	}
}

type epoch struct {
	user uint64
	room uint64
}

func (r *Rooms) epochOf(userID int64, room models.RoomID) epoch {
	return epoch{user: r.userEpochs[userID], room: r.roomEpochs[room]}
}

// Join subscribes the connection to the room. Joining twice is a no-op. If
// the user loses access while the authorizer is being asked, the answer is
// stale and the authorizer is asked again.
func (r *Rooms) Join(ctx context.Context, conn *Connection, room models.RoomID) error {
	if !room.Valid() {
		return errs.Wrap(errs.ErrInvalid, "invalid room [%s]", room)
	}

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		if conn.Closed() {
			return errs.Wrap(errs.ErrNotFound, "connection [%s] is closed", conn.ID)
		}

		r.mutex.RLock()
		before := r.epochOf(conn.UserID, room)
		r.mutex.RUnlock()

		allowed, err := r.auth.CanView(ctx, conn.UserID, room)
		if err != nil {
			return err
		}
		if !allowed {
			r.sugar.Warnf("User ID [%d] isn't allowed to join room [%s]", conn.UserID, room)
			return errs.Wrap(errs.ErrForbidden, "can't join room [%s]", room)
		}

		joined, err := r.addIfCurrent(conn, room, before)
		if err != nil || joined {
			return err
		}
		r.sugar.Debugf("Access of user ID [%d] changed while joining room [%s], checking again", conn.UserID, room)
	}

	return errs.Wrap(errs.ErrTransient, "access to room [%s] keeps changing", room)
}

// addIfCurrent adds the connection unless access was revoked after before
// was read.
func (r *Rooms) addIfCurrent(conn *Connection, room models.RoomID, before epoch) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// checked again under the lock, eviction happens after the flag is set
	if conn.Closed() {
		return false, errs.Wrap(errs.ErrNotFound, "connection [%s] is closed", conn.ID)
	}

	if r.epochOf(conn.UserID, room) != before {
		return false, nil
	}

	r.add(conn, room)
	return true, nil
}

// JoinTrusted subscribes without asking the authorizer, for rooms the caller
// already knows the user belongs to.
func (r *Rooms) JoinTrusted(conn *Connection, room models.RoomID) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if conn.Closed() || !room.Valid() {
		return false
	}

	r.add(conn, room)
	return true
}

func (r *Rooms) add(conn *Connection, room models.RoomID) {
	conns, exists := r.members[room]
	if !exists {
		conns = make(map[string]*Connection)
		r.members[room] = conns
	}
	conns[conn.ID] = conn

	rooms, exists := r.joined[conn.ID]
	if !exists {
		rooms = make(map[models.RoomID]struct{})
		r.joined[conn.ID] = rooms
	}
	rooms[room] = struct{}{}

	r.sugar.Debugf("Connection [%s] of user ID [%d] joined room [%s]", conn.ID, conn.UserID, room)
}

func (r *Rooms) remove(connectionID string, room models.RoomID) {
	if conns, exists := r.members[room]; exists {
		delete(conns, connectionID)
		// delete room from map if no connection is subscribed to it
		if len(conns) == 0 {
			delete(r.members, room)
		}
	}

	if rooms, exists := r.joined[connectionID]; exists {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, connectionID)
		}
	}
}

// Leave is a no-op when the connection isn't in the room.
func (r *Rooms) Leave(connectionID string, room models.RoomID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.remove(connectionID, room)
	r.sugar.Debugf("Connection [%s] left room [%s]", connectionID, room)
}

// LeaveUser removes every connection of the user from the given rooms and
// returns how many subscriptions were dropped.
func (r *Rooms) LeaveUser(userID int64, rooms ...models.RoomID) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.userEpochs[userID]++

	dropped := 0
	for _, room := range rooms {
		for id, conn := range r.members[room] {
			if conn.UserID == userID {
				r.remove(id, room)
				dropped++
			}
		}
	}
	return dropped
}

// Clear unsubscribes everyone from a room that no longer exists.
func (r *Rooms) Clear(room models.RoomID) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.roomEpochs[room]++

	conns := r.members[room]
	for id := range conns {
		if rooms, exists := r.joined[id]; exists {
			delete(rooms, room)
			if len(rooms) == 0 {
				delete(r.joined, id)
			}
		}
	}
	delete(r.members, room)

	return len(conns)
}

// EvictAll removes the connection from every room in one step.
func (r *Rooms) EvictAll(connectionID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for room := range r.joined[connectionID] {
		if conns, exists := r.members[room]; exists {
			delete(conns, connectionID)
			if len(conns) == 0 {
				delete(r.members, room)
			}
		}
	}
	delete(r.joined, connectionID)

	r.sugar.Debugf("Connection [%s] was evicted from all rooms", connectionID)
}

// MembersOf returns a snapshot, safe to iterate without holding any lock.
func (r *Rooms) MembersOf(room models.RoomID) []*Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conns := make([]*Connection, 0, len(r.members[room]))
	for _, conn := range r.members[room] {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Rooms) RoomsOf(connectionID string) []models.RoomID {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rooms := make([]models.RoomID, 0, len(r.joined[connectionID]))
	for room := range r.joined[connectionID] {
		rooms = append(rooms, room)
	}
	return rooms
}

func (r *Rooms) IsMember(connectionID string, room models.RoomID) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.joined[connectionID][room]
	return exists
}
