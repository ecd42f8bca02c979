package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/auxroom/go-auxroom/internal/broadcast"
	"github.com/auxroom/go-auxroom/internal/registry"
	"github.com/auxroom/go-auxroom/internal/rooms"
	"github.com/auxroom/go-auxroom/internal/types"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var errSendBufferFull = errors.New("send buffer full")

// wsConn is the subset of *websocket.Conn the client uses, extracted so
// tests can swap in a fake peer.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client pumps one websocket connection. It implements registry.Transport:
// the broadcaster's sends land in the outbound queue drained by Write.
type Client struct {
	conn        wsConn
	log         *log.Logger
	registry    *registry.ConnectionRegistry
	rooms       *rooms.RoomManager
	broadcaster *broadcast.EventBroadcaster

	connId string
	user   types.User
	authed bool

	send      chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	authTimer *time.Timer
}

func NewClient(conn wsConn, cr *registry.ConnectionRegistry, rm *rooms.RoomManager, eb *broadcast.EventBroadcaster, authTimeout time.Duration, l *log.Logger) *Client {
	c := &Client{
		conn:        conn,
		log:         l,
		registry:    cr,
		rooms:       rm,
		broadcaster: eb,
		send:        make(chan []byte, 256),
		stop:        make(chan struct{}),
	}

	c.connId = cr.Register(c)
	// an unauthenticated connection is closed once the auth window elapses
	c.authTimer = time.AfterFunc(authTimeout, func() {
		c.log.Printf("connection %q failed to authenticate in time", c.connId)
		c.Close()
	})

	return c
}

// Send queues raw bytes for the write pump. A full queue is a transient
// delivery failure, not a terminal one.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	case <-c.stop:
		return errors.New("connection closed")
	default:
		return errSendBufferFull
	}
}

func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	return c.conn.Close()
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}

			if !c.writeMessage(websocket.TextMessage, data) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.registry.Touch(c.connId)

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	if msg.Auth != nil {
		c.handleAuth(msg)
		return
	}

	if !c.authed {
		c.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	switch {
	case msg.Join != nil:
		c.handleJoin(msg)
	case msg.Leave != nil:
		c.handleLeave(msg)
	case msg.AddTrack != nil:
		c.handleAddTrack(msg)
	case msg.Vote != nil:
		c.handleVote(msg)
	case msg.Playback != nil:
		c.handlePlayback(msg)
	case msg.Confirm != nil:
		c.broadcaster.ConfirmDelivery(msg.Confirm.EventId, c.user.Id)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (c *Client) handleAuth(msg *ClientMessage) {
	user, err := c.registry.Authenticate(context.Background(), c.connId, msg.Auth.Token)
	if err != nil {
		c.log.Printf("authentication failed for connection %q: %v", c.connId, err)
		c.queueMessage(ErrUnauthorized(msg.Id))
		c.Close()
		return
	}

	c.user = user
	c.authed = true
	c.authTimer.Stop()

	c.queueMessage(NoErrOK(msg.Id, user))
	c.broadcaster.BroadcastToUser(user.Id, broadcast.EventUserConnected, map[string]any{
		"user_id":  user.Id,
		"username": user.Username,
	}, broadcast.PriorityNormal)
}

func (c *Client) handleJoin(msg *ClientMessage) {
	// broadcast membership to existing participants before indexing this
	// connection, so the joiner doesn't receive its own user_joined
	if err := c.rooms.JoinRoom(msg.Join.RoomId, c.user); err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	if err := c.registry.JoinRoom(c.connId, msg.Join.RoomId); err != nil {
		c.log.Printf("failed to index connection %q in room %q: %v", c.connId, msg.Join.RoomId, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	snap, err := c.rooms.GetRoomState(msg.Join.RoomId)
	if err != nil {
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, snap))
}

func (c *Client) handleLeave(msg *ClientMessage) {
	roomId, ok := c.rooms.RoomForUser(c.user.Id)
	if !ok {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	c.registry.LeaveRoom(c.connId)
	if err := c.rooms.LeaveRoom(roomId, c.user); err != nil {
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleAddTrack(msg *ClientMessage) {
	roomId, ok := c.rooms.RoomForUser(c.user.Id)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	track, err := c.rooms.AddTrack(roomId, c.user, rooms.AddTrackParams{
		Title:      msg.AddTrack.Title,
		Artist:     msg.AddTrack.Artist,
		DurationMs: msg.AddTrack.DurationMs,
	})
	if err != nil {
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, track))
}

func (c *Client) handleVote(msg *ClientMessage) {
	roomId, ok := c.rooms.RoomForUser(c.user.Id)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	track, err := c.rooms.VoteTrack(roomId, msg.Vote.TrackId, c.user, msg.Vote.Up)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrTrackNotFound):
			c.queueMessage(ErrTrackNotFound(msg.Id))
		case errors.Is(err, rooms.ErrRoomNotFound):
			c.queueMessage(ErrRoomNotFound(msg.Id))
		default:
			c.queueMessage(ErrInternalError(msg.Id))
		}
		return
	}

	c.queueMessage(NoErrOK(msg.Id, track))
}

func (c *Client) handlePlayback(msg *ClientMessage) {
	roomId, ok := c.rooms.RoomForUser(c.user.Id)
	if !ok {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	state, err := c.rooms.UpdatePlayback(roomId, c.user, msg.Playback.Action, msg.Playback.TrackId, msg.Playback.PositionMs)
	if err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, state))
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return false
	}

	if err := c.Send(data); err != nil {
		c.log.Println("failed to queue message:", err)
		return false
	}

	return true
}

func (c *Client) writeMessage(msgType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) cleanup() {
	c.authTimer.Stop()
	// a superseded connection was already de-indexed by the registry; its
	// user lives on through the newer connection, so no disconnect handling
	registered := c.registry.Unregister(c.connId)
	if registered && c.authed {
		c.rooms.HandleUserDisconnect(c.user)
	}
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}
