package websocket

import (
	"sync"
	"time"

	"github.com/CUknot/chat_relay/models"
)

// Member is anything that can sit in a room and receive frames.
type Member interface {
	ID() string
	Identity() models.Identity
	// Deliver queues a frame for the member. It must not block.
	Deliver(frame []byte) error
	// Close schedules the member's disconnect handling.
	Close(cause error)
}

// Membership is the handle returned by Join and consumed by Leave.
type Membership struct {
	RoomID string
	Member Member
}

type room struct {
	id string

	mu      sync.Mutex
	members map[string]*Membership
	history *history
	lastSeq uint64
	lastAt  time.Time
}

// Registry maps room ids to rooms. Each room has its own lock guarding its
// membership set and history; the registry lock only guards the map itself.
type Registry struct {
	capacity int
	now      func() time.Time

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewRegistry(historySize int) *Registry {
	return &Registry{
		capacity: historySize,
		now:      time.Now,
		rooms:    make(map[string]*room),
	}
}

func (r *Registry) lookup(roomID string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *Registry) getOrCreate(roomID string) *room {
	if rm := r.lookup(roomID); rm != nil {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}
	rm := &room{
		id:      roomID,
		members: make(map[string]*Membership),
		history: newHistory(r.capacity),
	}
	r.rooms[roomID] = rm
	return rm
}

// Join registers m in the room, creating the room on first use. Joining twice
// returns the existing handle and joined=false. replay, if not nil, runs under
// the room lock with the history snapshot, so nothing published after the
// snapshot can reach m ahead of it. replay must not block.
func (r *Registry) Join(roomID string, m Member, replay func([]models.Message)) (handle *Membership, joined bool) {
	rm := r.getOrCreate(roomID)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if existing, ok := rm.members[m.ID()]; ok {
		return existing, false
	}
	handle = &Membership{RoomID: roomID, Member: m}
	rm.members[m.ID()] = handle
	if replay != nil {
		replay(rm.history.snapshot())
	}
	return handle, true
}

// Leave removes the membership. It reports false when it was already gone.
func (r *Registry) Leave(h *Membership) bool {
	if h == nil {
		return false
	}
	rm := r.lookup(h.RoomID)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	current, ok := rm.members[h.Member.ID()]
	if !ok || current != h {
		return false
	}
	delete(rm.members, h.Member.ID())
	return true
}

// Remove drops the member from the room regardless of which handle it joined
// with. It reports false when the member was not there.
func (r *Registry) Remove(roomID, memberID string) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[memberID]; !ok {
		return false
	}
	delete(rm.members, memberID)
	return true
}

// IsMember reports whether the member id currently belongs to the room.
func (r *Registry) IsMember(roomID, memberID string) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, ok := rm.members[memberID]
	return ok
}

// History returns a copy of the room's recent messages, oldest first.
func (r *Registry) History(roomID string) []models.Message {
	rm := r.lookup(roomID)
	if rm == nil {
		return []models.Message{}
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.history.snapshot()
}

// Append stores msg in the room's history and returns it with its sequence
// number and server time filled in.
func (r *Registry) Append(roomID string, msg models.Message) models.Message {
	return r.AppendAndFanout(roomID, msg, nil)
}

// AppendAndFanout appends msg and, still holding the room lock, hands the
// stored message and the current members to fanout. Holding the lock across
// both gives every member the same relative order of messages. fanout must
// not block.
func (r *Registry) AppendAndFanout(roomID string, msg models.Message, fanout func(models.Message, []Member)) models.Message {
	rm := r.getOrCreate(roomID)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	now := r.now().UTC()
	if now.Before(rm.lastAt) {
		now = rm.lastAt
	}
	rm.lastAt = now
	rm.lastSeq++

	msg.RoomID = roomID
	msg.Seq = rm.lastSeq
	msg.SentAt = now
	rm.history.push(msg)

	if fanout != nil {
		fanout(msg, rm.membersLocked())
	}
	return msg
}

// Fanout hands the current members of the room to fn under the room lock.
// Unknown rooms have no members and fn is not called. fn must not block.
func (r *Registry) Fanout(roomID string, fn func([]Member)) {
	rm := r.lookup(roomID)
	if rm == nil {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	fn(rm.membersLocked())
}

// Members returns a snapshot of the room's members.
func (r *Registry) Members(roomID string) []Member {
	var out []Member
	r.Fanout(roomID, func(members []Member) { out = members })
	return out
}

func (rm *room) membersLocked() []Member {
	out := make([]Member, 0, len(rm.members))
	for _, h := range rm.members {
		out = append(out, h.Member)
	}
	return out
}
