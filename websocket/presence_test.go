package websocket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresence_BroadcastsToOthersOnly(t *testing.T) {
	req := require.New(t)
	rooms := NewRegistry(10)
	p := NewPresence(rooms)

	alice := newFakeMember("c-alice", "alice")
	bob := newFakeMember("c-bob", "bob")

	rooms.Join("R", alice, nil)
	req.True(p.OnJoin("R", alice))
	rooms.Join("R", bob, nil)
	req.True(p.OnJoin("R", bob))

	req.Empty(bob.presence(t), "no self echo")
	got := alice.presence(t)
	req.Len(got, 1)
	req.Equal("bob", got[0].User.UserID)
	req.True(got[0].Online)

	rooms.Remove("R", bob.ID())
	req.True(p.OnLeave("R", bob))
	got = alice.presence(t)
	req.Len(got, 2)
	req.Equal("bob", got[1].User.UserID)
	req.False(got[1].Online)
	req.Equal([]string{"alice"}, p.Online("R"))
}

func TestPresence_Idempotent(t *testing.T) {
	req := require.New(t)
	rooms := NewRegistry(10)
	p := NewPresence(rooms)
	alice := newFakeMember("c-alice", "alice")
	bob := newFakeMember("c-bob", "bob")
	rooms.Join("R", alice, nil)
	rooms.Join("R", bob, nil)
	p.OnJoin("R", alice)

	req.True(p.OnJoin("R", bob))
	req.False(p.OnJoin("R", bob))
	req.Len(alice.presence(t), 1)

	req.True(p.OnLeave("R", bob))
	req.False(p.OnLeave("R", bob))
	req.False(p.OnLeave("elsewhere", bob))
	req.Len(alice.presence(t), 2)
}

func TestPresence_PerUserAcrossConnections(t *testing.T) {
	req := require.New(t)
	rooms := NewRegistry(10)
	p := NewPresence(rooms)
	observer := newFakeMember("c-obs", "observer")
	phone := newFakeMember("c-phone", "bob")
	laptop := newFakeMember("c-laptop", "bob")
	rooms.Join("R", observer, nil)
	p.OnJoin("R", observer)

	req.True(p.OnJoin("R", phone))
	req.False(p.OnJoin("R", laptop), "second device of an online user")
	req.False(p.OnLeave("R", phone), "laptop still connected")
	req.True(p.OnLeave("R", laptop))

	got := observer.presence(t)
	req.Len(got, 2)
	req.True(got[0].Online)
	req.False(got[1].Online)
}

func TestPresence_ReportsFailedRecipients(t *testing.T) {
	rooms := NewRegistry(10)
	p := NewPresence(rooms)
	broken := newFakeMember("c-broken", "broken")
	broken.fail(ErrQueueFull)
	rooms.Join("R", broken, nil)

	var failed []string
	p.failed = func(roomID string, m Member, err error) {
		require.ErrorIs(t, err, ErrQueueFull)
		failed = append(failed, roomID+"/"+m.ID())
	}
	p.OnJoin("R", newFakeMember("c-new", "new"))

	require.Equal(t, []string{"R/c-broken"}, failed)
}
