package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CUknot/chat_relay/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is where a connection is in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAdmitted
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAdmitted:
		return "admitted"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Client is one relay connection. Its read goroutine owns the state machine
// and the room set; other goroutines only queue frames or ask it to close.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	state    atomic.Int32
	identity atomic.Pointer[models.Identity]

	// rooms is only touched by the goroutine driving the client.
	rooms map[string]*Membership

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	cause     error
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendQueueSize),
		rooms:  make(map[string]*Membership),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() models.Identity {
	if id := c.identity.Load(); id != nil {
		return *id
	}
	return models.Identity{}
}

func (c *Client) State() State { return State(c.state.Load()) }

// Deliver queues frame without blocking. A full queue or a closed
// connection is reported to the caller, which drops the client.
func (c *Client) Deliver(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close moves the client to Closed. Queued frames are flushed by the write
// goroutine, then the socket is closed, which ends the read goroutine and
// removes the client from its rooms. Only the first cause is kept.
func (c *Client) Close(cause error) {
	c.closeOnce.Do(func() {
		c.cause = cause
		c.state.Store(int32(StateClosed))
		c.cancel()
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// rooms in which the client currently holds a membership
func (c *Client) joinedRooms() []string {
	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// admit runs the token through the gate and binds the identity.
func (c *Client) admit(ctx context.Context, token string) error {
	if c.State() != StateConnecting {
		return invalid(ReasonBadRequest, "connection already admitted")
	}
	identity, err := c.hub.gate.Admit(ctx, token)
	if err != nil {
		return err
	}
	c.admitted(identity)
	return nil
}

func (c *Client) admitted(identity models.Identity) {
	c.identity.Store(&identity)
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateAdmitted)) {
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	log.Printf("[client %s] admitted as user %s", c.id, identity.UserID)

	c.deliverOwn(EventAdmitted, AdmittedPayload{User: identity})
	if room := c.hub.cfg.DefaultRoom; room != "" {
		if err := c.join(room); err != nil {
			log.Printf("[client %s] error joining default room %s: %v", c.id, room, err)
		}
	}
}

// join adds the client to roomID and replays the room history to it.
// Joining a room twice is a no-op.
func (c *Client) join(roomID string) error {
	if err := c.requireAdmitted(); err != nil {
		return err
	}
	if _, ok := c.rooms[roomID]; ok {
		return nil
	}
	if c.hub.cfg.SingleRoom {
		for _, other := range c.joinedRooms() {
			c.leave(other)
		}
	}

	handle, _ := c.hub.join(roomID, c, func(messages []models.Message) {
		c.deliverOwn(EventHistory, HistoryPayload{RoomID: roomID, Messages: messages})
	})
	c.rooms[roomID] = handle
	c.state.CompareAndSwap(int32(StateAdmitted), int32(StateJoined))
	return nil
}

// leave removes the client from roomID. Leaving a room it is not in is a no-op.
func (c *Client) leave(roomID string) {
	handle, ok := c.rooms[roomID]
	if !ok {
		return
	}
	delete(c.rooms, roomID)
	c.hub.leave(handle)
	if len(c.rooms) == 0 {
		c.state.CompareAndSwap(int32(StateJoined), int32(StateAdmitted))
	}
}

// sendMessage validates an inbound send and publishes it.
func (c *Client) sendMessage(ctx context.Context, p SendPayload) error {
	if err := c.requireAdmitted(); err != nil {
		return err
	}
	if err := c.hub.checkPayload(p); err != nil {
		return err
	}
	if _, ok := c.rooms[p.RoomID]; !ok {
		return fmt.Errorf("room %s: %w", p.RoomID, ErrNotAMember)
	}
	msg, err := c.hub.compose(ctx, c.Identity(), p)
	if err != nil {
		return err
	}
	c.hub.Publish(p.RoomID, msg)
	return nil
}

func (c *Client) requireAdmitted() error {
	switch c.State() {
	case StateAdmitted, StateJoined:
		return nil
	case StateClosed:
		return ErrConnectionClosed
	default:
		return &AuthError{Reason: ReasonNotAdmitted}
	}
}

// reject tells the client, and only the client, why an event was refused.
func (c *Client) reject(err error, roomID string) {
	reason := reasonOf(err)
	msg := err.Error()
	if reason == ReasonInternal {
		msg = "internal error"
	}
	c.deliverOwn(EventError, ErrorPayload{Reason: reason, Message: msg, RoomID: roomID})
}

// deliverOwn queues a frame addressed to this client alone.
func (c *Client) deliverOwn(eventType string, payload any) {
	frame, err := encode(eventType, payload)
	if err != nil {
		log.Printf("[client %s] error marshaling %s: %v", c.id, eventType, err)
		return
	}
	if err := c.Deliver(frame); err != nil {
		log.Printf("[client %s] dropping %s frame: %v", c.id, eventType, err)
	}
}

// shutdown runs once the read goroutine is done with the socket: the client
// leaves every room it was in, each exactly once.
func (c *Client) shutdown() {
	c.Close(ErrConnectionClosed)
	for _, roomID := range c.joinedRooms() {
		handle := c.rooms[roomID]
		delete(c.rooms, roomID)
		c.hub.leave(handle)
	}
	c.hub.unregister(c)
	log.Printf("[client %s] closed: %v", c.id, c.cause)
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer c.shutdown()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxFrameBytes)
	if c.State() == StateConnecting {
		c.conn.SetReadDeadline(time.Now().Add(cfg.AuthTimeout))
	} else {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.State() != StateConnecting {
			c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		}
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if c.State() == StateConnecting && errors.As(err, &netErr) && netErr.Timeout() {
				err = unauthenticated(errors.New("no credentials before timeout"))
				c.reject(err, "")
				c.Close(err)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[client %s] read error: %v", c.id, err)
			}
			c.Close(fmt.Errorf("transport: %w", err))
			return
		}
		if c.closed() {
			return
		}

		if roomID, err := c.handleFrame(c.ctx, frame); err != nil {
			c.reject(err, roomID)
			var authErr *AuthError
			if errors.As(err, &authErr) {
				c.Close(err)
				return
			}
		}
		if c.closed() {
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(fmt.Errorf("transport: %w", err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(fmt.Errorf("transport: %w", err))
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued and a close frame, all within one write deadline.
func (c *Client) flush() {
	deadline := time.Now().Add(c.hub.cfg.WriteWait)
	c.conn.SetWriteDeadline(deadline)
	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			code, text := closeCode(c.cause)
			c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
			return
		}
	}
}

func closeCode(cause error) (int, string) {
	var authErr *AuthError
	switch {
	case errors.As(cause, &authErr):
		return websocket.ClosePolicyViolation, string(authErr.Reason)
	case errors.Is(cause, ErrServerShutdown):
		return websocket.CloseGoingAway, "server shutting down"
	case errors.Is(cause, ErrLoggedOut):
		return websocket.CloseNormalClosure, "logged out"
	case errors.Is(cause, ErrQueueFull), errors.Is(cause, ErrConnectionClosed):
		return websocket.CloseTryAgainLater, "connection dropped"
	default:
		return websocket.CloseNormalClosure, ""
	}
}
