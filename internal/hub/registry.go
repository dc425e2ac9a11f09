package hub

import (
	"chatrelay-backend/internal/jwt"
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TokenVerifier interface {
	VerifyToken(token string) (jwt.UserToken, error)
}

// PresenceNotifier is told about every connection that comes and goes.
type PresenceNotifier interface {
	OnConnectionAdded(userID int64, sessionID string)
	OnConnectionRemoved(userID int64, sessionID string)
}

// Registry owns the live connections of this process.
type Registry struct {
	mutex       sync.RWMutex
	connections map[string]*Connection
	byUser      map[int64]map[string]*Connection

	tokens     TokenVerifier
	rooms      *Rooms
	presence   PresenceNotifier
	sendBuffer int
	sugar      *zap.SugaredLogger
}

func NewRegistry(tokens TokenVerifier, rooms *Rooms, presence PresenceNotifier, sendBuffer int, sugar *zap.SugaredLogger) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}

	return &Registry{
		connections: make(map[string]*Connection),
		byUser:      make(map[int64]map[string]*Connection),
		tokens:      tokens,
		rooms:       rooms,
		presence:    presence,
		sendBuffer:  sendBuffer,
		sugar:       sugar,
	}
}

// Register verifies the bearer token and records a new connection for the
// user inside it. Nothing is recorded when the token is rejected. An empty
// sessionID gets a generated one.
func (r *Registry) Register(_ context.Context, token string, sessionID string) (*Connection, error) {
	userToken, err := r.tokens.VerifyToken(token)
	if err != nil {
		r.sugar.Debugf("Rejected websocket token: %v", err)
		return nil, err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn := newConnection(uuid.NewString(), userToken.UserID, sessionID, userToken.Username, r.sendBuffer)
	conn.evict = func() {
		r.sugar.Warnf("Connection [%s] of user ID [%d] can't keep up, evicting", conn.ID, conn.UserID)
		r.Deregister(conn.ID)
	}

	r.mutex.Lock()
	r.connections[conn.ID] = conn
	userConns, exists := r.byUser[conn.UserID]
	if !exists {
		userConns = make(map[string]*Connection)
		r.byUser[conn.UserID] = userConns
	}
	userConns[conn.ID] = conn
	r.mutex.Unlock()

	r.sugar.Debugf("Registered connection [%s] for user ID [%d] session [%s]", conn.ID, conn.UserID, sessionID)

	if r.presence != nil {
		r.presence.OnConnectionAdded(conn.UserID, conn.SessionID)
	}

	return conn, nil
}

// Deregister is safe to call any number of times from any goroutine. It
// reports whether this call removed the connection.
func (r *Registry) Deregister(connectionID string) bool {
	r.mutex.Lock()
	conn, exists := r.connections[connectionID]
	if exists {
		delete(r.connections, connectionID)
		if userConns := r.byUser[conn.UserID]; userConns != nil {
			delete(userConns, connectionID)
			if len(userConns) == 0 {
				delete(r.byUser, conn.UserID)
			}
		}
	}
	r.mutex.Unlock()

	if !exists {
		return false
	}

	// closed before eviction so no join can slip in afterwards
	conn.markClosed()
	r.rooms.EvictAll(conn.ID)

	r.sugar.Debugf("Deregistered connection [%s] of user ID [%d]", conn.ID, conn.UserID)

	if r.presence != nil {
		r.presence.OnConnectionRemoved(conn.UserID, conn.SessionID)
	}

	return true
}

func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conn, exists := r.connections[connectionID]
	return conn, exists
}

func (r *Registry) ConnectionsForUser(userID int64) []*Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.connections)
}

// CloseAll deregisters every connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mutex.RLock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mutex.RUnlock()

	for _, id := range ids {
		r.Deregister(id)
	}
}
