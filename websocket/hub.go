package websocket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/CUknot/chat_relay/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrLoggedOut      = errors.New("logged out")
	ErrServerShutdown = errors.New("server shutting down")
)

// Config tunes the relay. Zero values fall back to the defaults below.
type Config struct {
	HistorySize   int
	MaxBodyLength int
	SendQueueSize int
	WriteWait     time.Duration
	PongWait      time.Duration
	AuthTimeout   time.Duration
	MaxFrameBytes int64
	// DefaultRoom is joined automatically right after admission. Empty disables it.
	DefaultRoom string
	// SingleRoom makes a join leave every other room of the connection first.
	SingleRoom bool
}

const (
	defaultHistorySize   = 200
	defaultMaxBodyLength = 4000
	defaultSendQueueSize = 256
	defaultWriteWait     = 10 * time.Second
	defaultPongWait      = 60 * time.Second
	defaultAuthTimeout   = 10 * time.Second
	defaultMaxFrameBytes = 16384
)

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MaxBodyLength <= 0 {
		c.MaxBodyLength = defaultMaxBodyLength
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultAuthTimeout
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = defaultMaxFrameBytes
	}
	return c
}

// Send pings to peer with this period
func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Archiver receives every appended message for durable storage. Archive must not block.
type Archiver interface {
	Archive(msg models.Message)
}

// MediaResolver turns an uploaded media reference into the URL clients fetch.
type MediaResolver interface {
	ResolveMedia(ctx context.Context, ref string) (string, error)
}

type Option func(*Hub)

func WithArchiver(a Archiver) Option {
	return func(h *Hub) { h.archive = a }
}

func WithMediaResolver(r MediaResolver) Option {
	return func(h *Hub) { h.media = r }
}

// Hub routes messages between connections. It owns the room registry and the
// presence tracker and keeps track of live clients for logout and shutdown.
type Hub struct {
	cfg      Config
	gate     *Gate
	rooms    *Registry
	presence *Presence
	archive  Archiver
	media    MediaResolver
	validate *validator.Validate
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[string]*Client
	closing  bool
	inflight sync.WaitGroup
}

func NewHub(cfg Config, auth Authenticator, opts ...Option) *Hub {
	cfg = cfg.withDefaults()
	rooms := NewRegistry(cfg.HistorySize)
	h := &Hub{
		cfg:      cfg,
		gate:     NewGate(auth),
		rooms:    rooms,
		presence: NewPresence(rooms),
		validate: validator.New(),
		upgrader: newUpgrader(),
		clients:  make(map[string]*Client),
	}
	h.presence.failed = h.drop
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Rooms() *Registry { return h.rooms }

func (h *Hub) Presence() *Presence { return h.presence }

func (h *Hub) Config() Config { return h.cfg }

// Publish appends msg to the room's history and delivers it to every member
// present at that moment. It returns the stored message and how many members
// it was queued for. Members that cannot take it are dropped, not retried.
func (h *Hub) Publish(roomID string, msg models.Message) (models.Message, int) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}

	var (
		delivered int
		failed    []delivery
	)
	stored := h.rooms.AppendAndFanout(roomID, msg, func(stored models.Message, members []Member) {
		frame, err := encode(EventMessage, MessagePayload{RoomID: roomID, Message: stored})
		if err != nil {
			log.Printf("[hub] error marshaling message %s: %v", stored.ID, err)
			return
		}
		delivered, failed = deliverAll(members, frame, nil)
	})

	for _, d := range failed {
		h.drop(roomID, d.member, d.err)
	}
	if h.archive != nil {
		h.archive.Archive(stored)
	}
	return stored, delivered
}

// PublishAs validates and publishes a message on behalf of an identity that is
// not a relay connection, such as an integration posting over HTTP.
func (h *Hub) PublishAs(ctx context.Context, author models.Identity, p SendPayload) (models.Message, int, error) {
	if !author.Valid() {
		return models.Message{}, 0, unauthenticated(errors.New("empty identity"))
	}
	if err := h.checkPayload(p); err != nil {
		return models.Message{}, 0, err
	}
	msg, err := h.compose(ctx, author, p)
	if err != nil {
		return models.Message{}, 0, err
	}
	stored, n := h.Publish(p.RoomID, msg)
	return stored, n, nil
}

func (h *Hub) checkPayload(p SendPayload) error {
	if err := h.validate.Struct(p); err != nil {
		return invalid(ReasonBadRequest, "invalid send payload: %v", err)
	}
	return nil
}

// compose validates the body and builds the message to publish. Media bodies
// are resolved to their URL here, before any room lock is taken.
func (h *Hub) compose(ctx context.Context, author models.Identity, p SendPayload) (models.Message, error) {
	kind := p.Kind
	if kind == "" {
		kind = models.KindText
	}

	body := p.Body
	if strings.TrimSpace(body) == "" {
		return models.Message{}, invalid(ReasonEmptyBody, "message body is empty")
	}
	if n := utf8.RuneCountInString(body); n > h.cfg.MaxBodyLength {
		return models.Message{}, invalid(ReasonBodyTooLong, "message body has %d characters, limit is %d", n, h.cfg.MaxBodyLength)
	}

	if kind == models.KindMedia {
		if h.media == nil {
			return models.Message{}, invalid(ReasonMediaUnavailable, "media messages are not enabled")
		}
		url, err := h.media.ResolveMedia(ctx, body)
		if err != nil {
			return models.Message{}, invalid(ReasonMediaUnavailable, "%v", err)
		}
		body = url
	}

	var clientTime *time.Time
	if p.ClientTimestamp != nil {
		t := p.ClientTimestamp.UTC()
		clientTime = &t
	}

	return models.Message{
		ID:         uuid.NewString(),
		Author:     author,
		Kind:       kind,
		Body:       body,
		ClientTime: clientTime,
	}, nil
}

// join adds m to the room and announces it. replay runs under the room lock.
func (h *Hub) join(roomID string, m Member, replay func([]models.Message)) (*Membership, bool) {
	handle, joined := h.rooms.Join(roomID, m, replay)
	if joined {
		h.presence.OnJoin(roomID, m)
		// a failed delivery may have dropped m before it was marked online
		if !h.rooms.IsMember(roomID, m.ID()) {
			h.presence.OnLeave(roomID, m)
		}
	}
	return handle, joined
}

// leave removes the membership and announces it. Safe to call more than once.
// Presence is settled even when the membership was already dropped.
func (h *Hub) leave(handle *Membership) bool {
	left := h.rooms.Leave(handle)
	h.presence.OnLeave(handle.RoomID, handle.Member)
	return left
}

// drop handles a failed delivery: the recipient leaves the room at once and
// is scheduled for disconnect.
func (h *Hub) drop(roomID string, m Member, err error) {
	log.Printf("[hub] dropping %s from room %s: %v", m.ID(), roomID, err)
	if h.rooms.Remove(roomID, m.ID()) {
		h.presence.OnLeave(roomID, m)
	}
	m.Close(fmt.Errorf("delivery to room %s failed: %w", roomID, err))
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.clients[c.id] = c
	h.inflight.Add(1)
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.inflight.Done()
	}
}

// Clients returns the number of live connections.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// DisconnectUser closes every connection admitted as userID and reports how many there were.
func (h *Hub) DisconnectUser(userID string) int {
	h.mu.Lock()
	var targets []*Client
	for _, c := range h.clients {
		if c.Identity().UserID == userID {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.Close(ErrLoggedOut)
	}
	return len(targets)
}

// Shutdown refuses new connections, closes the live ones and waits until they
// have left their rooms or ctx is done.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	log.Printf("[hub] shutting down, closing %d connections", len(targets))
	for _, c := range targets {
		c.Close(ErrServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type delivery struct {
	member Member
	err    error
}

// deliverAll queues frame for every member not skipped and returns how many
// took it along with the ones that failed.
func deliverAll(members []Member, frame []byte, skip func(Member) bool) (int, []delivery) {
	var (
		delivered int
		failed    []delivery
	)
	for _, m := range members {
		if skip != nil && skip(m) {
			continue
		}
		if err := m.Deliver(frame); err != nil {
			failed = append(failed, delivery{member: m, err: err})
			continue
		}
		delivered++
	}
	return delivered, failed
}
