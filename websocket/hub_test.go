package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/CUknot/chat_relay/models"
	"github.com/stretchr/testify/require"
)

type stubArchive struct {
	mu       sync.Mutex
	messages []models.Message
}

func (a *stubArchive) Archive(msg models.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
}

type stubMedia struct{}

func (stubMedia) ResolveMedia(_ context.Context, ref string) (string, error) {
	if ref != "upload-1" {
		return "", errors.New("no such upload")
	}
	return "https://cdn.example.com/upload-1", nil
}

func newTestHub(t *testing.T, cfg Config, opts ...Option) *Hub {
	t.Helper()
	return NewHub(cfg, fakeAuth{}, opts...)
}

func TestHub_PublishDeliversToEveryMember(t *testing.T) {
	req := require.New(t)
	archive := &stubArchive{}
	hub := newTestHub(t, Config{}, WithArchiver(archive))
	c1 := newFakeMember("c1", "u1")
	c2 := newFakeMember("c2", "u2")
	hub.join("R", c1, nil)
	hub.join("R", c2, nil)

	stored, delivered := hub.Publish("R", textMessage("hello"))

	req.Equal(2, delivered)
	req.NotEmpty(stored.ID)
	req.Equal(uint64(1), stored.Seq)
	req.Equal([]string{"hello"}, bodies(c1.messages(t)))
	req.Equal([]string{"hello"}, bodies(c2.messages(t)))
	req.Equal([]string{"hello"}, bodies(hub.Rooms().History("R")))
	req.Len(archive.messages, 1)
	req.Equal(stored.ID, archive.messages[0].ID)
}

func TestHub_PublishToEmptyRoomStillAppends(t *testing.T) {
	hub := newTestHub(t, Config{})

	_, delivered := hub.Publish("quiet", textMessage("anyone?"))

	require.Zero(t, delivered)
	require.Len(t, hub.Rooms().History("quiet"), 1)
}

// A recipient failing mid-delivery is dropped from the room; the others still
// get the message, and later ones.
func TestHub_FailedRecipientIsDropped(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, Config{})
	c1 := newFakeMember("c1", "u1")
	c2 := newFakeMember("c2", "u2")
	c3 := newFakeMember("c3", "u3")
	for _, m := range []*fakeMember{c1, c2, c3} {
		hub.join("R", m, nil)
	}

	hub.Publish("R", textMessage("m"))
	req.Equal([]string{"m"}, bodies(c2.messages(t)))

	c2.fail(ErrConnectionClosed)
	_, delivered := hub.Publish("R", textMessage("later"))

	req.Equal(2, delivered)
	req.Equal([]string{"m", "later"}, bodies(c1.messages(t)))
	req.Equal([]string{"m", "later"}, bodies(c3.messages(t)))
	req.False(hub.Rooms().IsMember("R", "c2"))
	req.Equal(1, c2.closes)
	req.ErrorIs(c2.closeCause, ErrConnectionClosed)

	// remaining members learn that u2 went offline
	last := c1.presence(t)
	req.Equal("u2", last[len(last)-1].User.UserID)
	req.False(last[len(last)-1].Online)

	// the message is not retracted
	req.Equal([]string{"m", "later"}, bodies(hub.Rooms().History("R")))
}

func TestHub_OrderingIsConsistentAcrossMembers(t *testing.T) {
	const publishers, perPublisher = 6, 40
	hub := newTestHub(t, Config{HistorySize: publishers * perPublisher, SendQueueSize: publishers * perPublisher})
	members := []*fakeMember{newFakeMember("a", "ua"), newFakeMember("b", "ub"), newFakeMember("c", "uc")}
	for _, m := range members {
		hub.join("R", m, nil)
	}

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				hub.Publish("R", textMessage(fmt.Sprintf("p%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	reference := members[0].messages(t)
	require.Len(t, reference, publishers*perPublisher)
	for i := 1; i < len(reference); i++ {
		require.Greater(t, reference[i].Seq, reference[i-1].Seq)
	}
	for _, m := range members[1:] {
		require.Equal(t, bodies(reference), bodies(m.messages(t)))
	}
	require.Equal(t, bodies(reference), bodies(hub.Rooms().History("R")))
}

func TestHub_NoOrderingAcrossRoomsButIsolation(t *testing.T) {
	hub := newTestHub(t, Config{})
	inR := newFakeMember("r", "ur")
	inS := newFakeMember("s", "us")
	hub.join("R", inR, nil)
	hub.join("S", inS, nil)

	hub.Publish("R", textMessage("for R"))
	hub.Publish("S", textMessage("for S"))

	require.Equal(t, []string{"for R"}, bodies(inR.messages(t)))
	require.Equal(t, []string{"for S"}, bodies(inS.messages(t)))
}

func TestHub_Compose(t *testing.T) {
	hub := newTestHub(t, Config{MaxBodyLength: 5}, WithMediaResolver(stubMedia{}))
	author := models.Identity{UserID: "1", DisplayName: "alice"}

	tests := []struct {
		name   string
		p      SendPayload
		reason Reason
		body   string
	}{
		{name: "plain text", p: SendPayload{RoomID: "R", Body: "hi"}, body: "hi"},
		{name: "limit counts characters", p: SendPayload{RoomID: "R", Body: "héllo"}, body: "héllo"},
		{name: "empty", p: SendPayload{RoomID: "R", Body: ""}, reason: ReasonEmptyBody},
		{name: "whitespace only", p: SendPayload{RoomID: "R", Body: " \n\t"}, reason: ReasonEmptyBody},
		{name: "too long", p: SendPayload{RoomID: "R", Body: strings.Repeat("x", 6)}, reason: ReasonBodyTooLong},
		{name: "media resolved", p: SendPayload{RoomID: "R", Body: "upload-1", Kind: models.KindMedia}, body: "https://cdn.example.com/upload-1"},
		{name: "unknown media", p: SendPayload{RoomID: "R", Body: "upload-2", Kind: models.KindMedia}, reason: ReasonMediaUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := hub.compose(context.Background(), author, tt.p)
			if tt.reason != "" {
				var validationErr *ValidationError
				require.ErrorAs(t, err, &validationErr)
				require.Equal(t, tt.reason, validationErr.Reason)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.body, msg.Body)
			require.Equal(t, author, msg.Author)
		})
	}
}

func TestHub_MediaDisabled(t *testing.T) {
	hub := newTestHub(t, Config{})
	_, err := hub.compose(context.Background(), models.Identity{UserID: "1"}, SendPayload{RoomID: "R", Body: "upload-1", Kind: models.KindMedia})
	require.Equal(t, ReasonMediaUnavailable, reasonOf(err))
}

func TestHub_PublishAs(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, Config{})
	listener := newFakeMember("c1", "u1")
	hub.join("R", listener, nil)
	bot := models.Identity{UserID: "bot", DisplayName: "Bot"}

	stored, delivered, err := hub.PublishAs(context.Background(), bot, SendPayload{RoomID: "R", Body: "beep"})
	req.NoError(err)
	req.Equal(1, delivered)
	req.Equal(bot, stored.Author)
	req.Equal([]string{"beep"}, bodies(listener.messages(t)))

	_, _, err = hub.PublishAs(context.Background(), bot, SendPayload{RoomID: "", Body: "beep"})
	req.Equal(ReasonBadRequest, reasonOf(err))

	_, _, err = hub.PublishAs(context.Background(), models.Identity{}, SendPayload{RoomID: "R", Body: "beep"})
	req.Equal(ReasonUnauthenticated, reasonOf(err))
	req.Len(hub.Rooms().History("R"), 1)
}

func TestReasonOf(t *testing.T) {
	require.Equal(t, ReasonNotAMember, reasonOf(fmt.Errorf("room x: %w", ErrNotAMember)))
	require.Equal(t, ReasonNotAdmitted, reasonOf(&AuthError{Reason: ReasonNotAdmitted}))
	require.Equal(t, ReasonBodyTooLong, reasonOf(invalid(ReasonBodyTooLong, "too long")))
	require.Equal(t, ReasonInternal, reasonOf(errors.New("boom")))
}

// A member dropped between joining the room and being marked online must not
// stay online once its connection leaves.
func TestHub_PresenceSettlesAfterDropDuringJoin(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, Config{})
	observer := newFakeMember("c-observer", "u-observer")
	hub.join("R", observer, nil)

	m := newFakeMember("c1", "u1")
	handle, joined := hub.rooms.Join("R", m, nil)
	req.True(joined)
	hub.drop("R", m, ErrQueueFull)
	hub.presence.OnJoin("R", m)
	req.Contains(hub.Presence().Online("R"), "u1")

	req.False(hub.leave(handle))
	req.Equal([]string{"u-observer"}, hub.Presence().Online("R"))

	events := observer.presence(t)
	req.Len(events, 2)
	req.True(events[0].Online)
	req.False(events[1].Online)
	req.Equal("u1", events[1].User.UserID)
}
