package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/auxroom/go-auxroom/internal/types"
	"github.com/google/uuid"
)

var (
	ErrConnNotFound = errors.New("connection not found")
	ErrAuthFailed   = errors.New("authentication failed")
)

// Transport is the outbound handle of a live connection. The websocket
// adapter implements it; Send must not block indefinitely.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// TokenValidator is the external credential collaborator. The registry
// treats validation as opaque: a token either maps to a user or it doesn't.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (types.User, error)
}

type Connection struct {
	Id            string
	UserId        int
	Authenticated bool
	RoomId        string
	LastActivity  time.Time
	transport     Transport
}

// RemovedConn describes a connection removed by the stale sweep so the
// caller can run disconnect handling for its user.
type RemovedConn struct {
	ConnId string
	UserId int
}

type ConnectionRegistry struct {
	log         *log.Logger
	validator   TokenValidator
	authTimeout time.Duration

	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[int]string
	byRoom map[string]map[string]struct{}
}

func NewConnectionRegistry(logger *log.Logger, validator TokenValidator, authTimeout time.Duration) *ConnectionRegistry {
	return &ConnectionRegistry{
		log:         logger,
		validator:   validator,
		authTimeout: authTimeout,
		conns:       make(map[string]*Connection),
		byUser:      make(map[int]string),
		byRoom:      make(map[string]map[string]struct{}),
	}
}

// Register adds an unauthenticated connection and returns its id.
func (cr *ConnectionRegistry) Register(t Transport) string {
	conn := &Connection{
		Id:           uuid.NewString(),
		LastActivity: time.Now(),
		transport:    t,
	}

	cr.mu.Lock()
	cr.conns[conn.Id] = conn
	cr.mu.Unlock()

	cr.log.Printf("registered connection %q", conn.Id)
	return conn.Id
}

// Authenticate validates the token and binds the resulting user to the
// connection. A user holds at most one live connection: an existing
// connection for the same user is superseded and closed. On validation
// failure, the connection is closed and removed.
func (cr *ConnectionRegistry) Authenticate(ctx context.Context, connId, token string) (types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, cr.authTimeout)
	defer cancel()

	user, err := cr.validator.ValidateToken(ctx, token)
	if err != nil {
		cr.log.Printf("token validation failed for connection %q: %v", connId, err)
		if t, ok := cr.remove(connId); ok {
			t.Close()
		}
		return types.User{}, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	cr.mu.Lock()
	conn, ok := cr.conns[connId]
	if !ok {
		cr.mu.Unlock()
		return types.User{}, ErrConnNotFound
	}

	var superseded Transport
	if prevId, ok := cr.byUser[user.Id]; ok && prevId != connId {
		if prev, ok := cr.conns[prevId]; ok {
			superseded = prev.transport
			cr.removeLocked(prev)
		}
	}

	conn.UserId = user.Id
	conn.Authenticated = true
	conn.LastActivity = time.Now()
	cr.byUser[user.Id] = connId
	cr.mu.Unlock()

	if superseded != nil {
		cr.log.Printf("superseding previous connection for user %d", user.Id)
		superseded.Close()
	}

	cr.log.Printf("authenticated connection %q as user %d", connId, user.Id)
	return user, nil
}

// JoinRoom binds the connection to a room, replacing any previous binding.
// A connection belongs to at most one room at a time.
func (cr *ConnectionRegistry) JoinRoom(connId, roomId string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	conn, ok := cr.conns[connId]
	if !ok {
		return ErrConnNotFound
	}

	if conn.RoomId != "" {
		cr.removeFromRoomLocked(conn)
	}

	conn.RoomId = roomId
	if cr.byRoom[roomId] == nil {
		cr.byRoom[roomId] = make(map[string]struct{})
	}
	cr.byRoom[roomId][connId] = struct{}{}

	return nil
}

// LeaveRoom clears the connection's room binding. Leaving while in no room
// is a no-op.
func (cr *ConnectionRegistry) LeaveRoom(connId string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	conn, ok := cr.conns[connId]
	if !ok || conn.RoomId == "" {
		return
	}

	cr.removeFromRoomLocked(conn)
}

// ConnectionsForRoom returns a snapshot of the connection ids bound to a room.
func (cr *ConnectionRegistry) ConnectionsForRoom(roomId string) []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	ids := make([]string, 0, len(cr.byRoom[roomId]))
	for id := range cr.byRoom[roomId] {
		ids = append(ids, id)
	}

	return ids
}

// ConnectionForUser returns the user's live connection id, if any.
func (cr *ConnectionRegistry) ConnectionForUser(userId int) (string, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	id, ok := cr.byUser[userId]
	return id, ok
}

// AllConnections returns a snapshot of every registered connection id.
func (cr *ConnectionRegistry) AllConnections() []string {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	ids := make([]string, 0, len(cr.conns))
	for id := range cr.conns {
		ids = append(ids, id)
	}

	return ids
}

// UserForConnection returns the authenticated user id bound to a connection.
func (cr *ConnectionRegistry) UserForConnection(connId string) (int, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	conn, ok := cr.conns[connId]
	if !ok || !conn.Authenticated {
		return 0, false
	}

	return conn.UserId, true
}

// Touch refreshes the connection's last-activity timestamp.
func (cr *ConnectionRegistry) Touch(connId string) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if conn, ok := cr.conns[connId]; ok {
		conn.LastActivity = time.Now()
	}
}

// Send delivers raw bytes to a connection. The transport handle is captured
// under the read lock but the send itself happens outside it.
func (cr *ConnectionRegistry) Send(connId string, data []byte) error {
	cr.mu.RLock()
	conn, ok := cr.conns[connId]
	var t Transport
	if ok {
		t = conn.transport
	}
	cr.mu.RUnlock()

	if !ok {
		return ErrConnNotFound
	}

	return t.Send(data)
}

// Unregister removes the connection from all indices. Idempotent: it
// reports whether the connection was still registered, so a superseded
// connection's teardown can tell it no longer speaks for the user.
func (cr *ConnectionRegistry) Unregister(connId string) bool {
	_, ok := cr.remove(connId)
	return ok
}

// SweepStale removes and closes every connection whose last activity
// predates now minus timeout, returning the removed set.
func (cr *ConnectionRegistry) SweepStale(timeout time.Duration) []RemovedConn {
	cutoff := time.Now().Add(-timeout)

	cr.mu.Lock()
	var removed []RemovedConn
	var transports []Transport
	for _, conn := range cr.conns {
		if conn.LastActivity.Before(cutoff) {
			removed = append(removed, RemovedConn{ConnId: conn.Id, UserId: conn.UserId})
			transports = append(transports, conn.transport)
			cr.removeLocked(conn)
		}
	}
	cr.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}

	if len(removed) > 0 {
		cr.log.Printf("swept %d stale connections", len(removed))
	}

	return removed
}

// TotalConnections returns the number of live connections.
func (cr *ConnectionRegistry) TotalConnections() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	return len(cr.conns)
}

func (cr *ConnectionRegistry) remove(connId string) (Transport, bool) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	conn, ok := cr.conns[connId]
	if !ok {
		return nil, false
	}

	cr.removeLocked(conn)
	return conn.transport, true
}

func (cr *ConnectionRegistry) removeLocked(conn *Connection) {
	cr.removeFromRoomLocked(conn)
	if conn.Authenticated && cr.byUser[conn.UserId] == conn.Id {
		delete(cr.byUser, conn.UserId)
	}
	delete(cr.conns, conn.Id)
}

func (cr *ConnectionRegistry) removeFromRoomLocked(conn *Connection) {
	if conn.RoomId == "" {
		return
	}

	if conns, ok := cr.byRoom[conn.RoomId]; ok {
		delete(conns, conn.Id)
		if len(conns) == 0 {
			delete(cr.byRoom, conn.RoomId)
		}
	}
	conn.RoomId = ""
}
