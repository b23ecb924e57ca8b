package websocket

import (
	"log"
	"sync"

	"github.com/CUknot/chat_relay/models"
)

// Presence derives per-room online/offline state from membership changes.
// A user is online in a room while at least one of their connections is a
// member. Transitions are broadcast to the other members of the room, never
// to the user whose state changed.
type Presence struct {
	rooms *Registry
	// failed receives recipients whose delivery failed, after all locks are released.
	failed func(roomID string, m Member, err error)

	mu     sync.Mutex
	shards map[string]*presenceRoom
}

type presenceRoom struct {
	mu     sync.Mutex
	online map[string]map[string]struct{} // user id -> connection ids
}

func NewPresence(rooms *Registry) *Presence {
	return &Presence{rooms: rooms, shards: make(map[string]*presenceRoom)}
}

func (p *Presence) shard(roomID string) *presenceRoom {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.shards[roomID]
	if !ok {
		s = &presenceRoom{online: make(map[string]map[string]struct{})}
		p.shards[roomID] = s
	}
	return s
}

// OnJoin records m as present in the room. It reports whether the user came
// online, in which case the other members were told.
func (p *Presence) OnJoin(roomID string, m Member) bool {
	id := m.Identity()
	s := p.shard(roomID)

	s.mu.Lock()
	conns, ok := s.online[id.UserID]
	if !ok {
		conns = make(map[string]struct{})
		s.online[id.UserID] = conns
	}
	if _, dup := conns[m.ID()]; dup {
		s.mu.Unlock()
		return false
	}
	conns[m.ID()] = struct{}{}
	cameOnline := len(conns) == 1
	var failed []delivery
	if cameOnline {
		failed = p.broadcastLocked(roomID, id, true)
	}
	s.mu.Unlock()

	p.report(roomID, failed)
	return cameOnline
}

// OnLeave removes m from the room's presence. It reports whether the user
// went offline, in which case the remaining members were told.
func (p *Presence) OnLeave(roomID string, m Member) bool {
	id := m.Identity()
	s := p.shard(roomID)

	s.mu.Lock()
	conns, ok := s.online[id.UserID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if _, present := conns[m.ID()]; !present {
		s.mu.Unlock()
		return false
	}
	delete(conns, m.ID())
	wentOffline := len(conns) == 0
	var failed []delivery
	if wentOffline {
		delete(s.online, id.UserID)
		failed = p.broadcastLocked(roomID, id, false)
	}
	s.mu.Unlock()

	p.report(roomID, failed)
	return wentOffline
}

// Online lists the users currently present in the room.
func (p *Presence) Online(roomID string) []string {
	s := p.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.online))
	for userID := range s.online {
		out = append(out, userID)
	}
	return out
}

// broadcastLocked sends the presence frame while the shard lock is held so
// transitions of one room reach members in the order they happened.
// Lock order is presence shard, then room.
func (p *Presence) broadcastLocked(roomID string, id models.Identity, online bool) []delivery {
	frame, err := encode(EventPresence, PresencePayload{RoomID: roomID, User: id, Online: online})
	if err != nil {
		log.Printf("[presence] error marshaling presence for room %s: %v", roomID, err)
		return nil
	}

	var failed []delivery
	p.rooms.Fanout(roomID, func(members []Member) {
		_, failed = deliverAll(members, frame, func(m Member) bool {
			return m.Identity().UserID == id.UserID
		})
	})
	return failed
}

func (p *Presence) report(roomID string, failed []delivery) {
	if p.failed == nil {
		return
	}
	for _, d := range failed {
		p.failed(roomID, d.member, d.err)
	}
}
