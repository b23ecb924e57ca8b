package websocket

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CUknot/chat_relay/models"
	"github.com/stretchr/testify/require"
)

func TestHistory_Ring(t *testing.T) {
	req := require.New(t)
	h := newHistory(3)

	for i := 1; i <= 3; i++ {
		h.push(textMessage(fmt.Sprintf("m%d", i)))
	}
	req.Equal([]string{"m1", "m2", "m3"}, bodies(h.snapshot()))

	h.push(textMessage("m4"))
	req.Equal(3, h.len())
	req.Equal([]string{"m2", "m3", "m4"}, bodies(h.snapshot()))

	for i := 5; i <= 10; i++ {
		h.push(textMessage(fmt.Sprintf("m%d", i)))
		req.LessOrEqual(h.len(), 3)
	}
	req.Equal([]string{"m8", "m9", "m10"}, bodies(h.snapshot()))
}

// room R with H=2: publishing m1, m2, m3 leaves [m2, m3]
func TestRegistry_AppendEvictsOldest(t *testing.T) {
	r := NewRegistry(2)

	r.Append("R", textMessage("m1"))
	r.Append("R", textMessage("m2"))
	r.Append("R", textMessage("m3"))

	got := r.History("R")
	require.Equal(t, []string{"m2", "m3"}, bodies(got))
	require.Equal(t, uint64(2), got[0].Seq)
	require.Equal(t, uint64(3), got[1].Seq)
}

func TestRegistry_AppendAssignsServerOrder(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(10)
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	first := r.Append("R", textMessage("a"))
	clock = clock.Add(-time.Minute) // wall clock stepped back
	second := r.Append("R", textMessage("b"))

	req.Equal("R", first.RoomID)
	req.Equal(uint64(1), first.Seq)
	req.Equal(uint64(2), second.Seq)
	req.False(second.SentAt.Before(first.SentAt), "server time must not go backwards within a room")

	other := r.Append("other", textMessage("c"))
	req.Equal(uint64(1), other.Seq, "sequence numbers are per room")
}

func TestRegistry_AppendIgnoresClientTime(t *testing.T) {
	r := NewRegistry(10)
	skewed := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := textMessage("late")
	msg.ClientTime = &skewed

	stored := r.Append("R", msg)

	require.True(t, stored.SentAt.After(skewed))
	require.Equal(t, skewed, *stored.ClientTime)
}

func TestRegistry_HistoryIsSnapshot(t *testing.T) {
	r := NewRegistry(5)
	r.Append("R", textMessage("m1"))

	snapshot := r.History("R")
	snapshot[0].Body = "tampered"
	r.Append("R", textMessage("m2"))

	require.Len(t, snapshot, 1)
	require.Equal(t, []string{"m1", "m2"}, bodies(r.History("R")))
	require.Empty(t, r.History("unknown"))
}

func TestRegistry_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(5)
	m := newFakeMember("c1", "u1")

	first, joined := r.Join("R", m, nil)
	req.True(joined)
	second, joined := r.Join("R", m, nil)
	req.False(joined)
	req.Same(first, second)
	req.Len(r.Members("R"), 1)
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry(5)
	m := newFakeMember("c1", "u1")

	handle, _ := r.Join("R", m, nil)
	req.True(r.Leave(handle))
	req.False(r.Leave(handle))
	req.False(r.Leave(nil))
	req.False(r.IsMember("R", "c1"))
	req.Empty(r.Members("R"))

	// a stale handle does not remove a later membership
	fresh, _ := r.Join("R", m, nil)
	req.False(r.Leave(handle))
	req.True(r.IsMember("R", "c1"))
	req.True(r.Leave(fresh))
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry(5)
	m := newFakeMember("c1", "u1")
	handle, _ := r.Join("R", m, nil)

	require.True(t, r.Remove("R", "c1"))
	require.False(t, r.Remove("R", "c1"))
	require.False(t, r.Remove("nowhere", "c1"))
	require.False(t, r.Leave(handle))
}

func TestRegistry_JoinReplaysHistory(t *testing.T) {
	r := NewRegistry(2)
	r.Append("R", textMessage("m1"))
	r.Append("R", textMessage("m2"))
	r.Append("R", textMessage("m3"))

	var replayed []models.Message
	r.Join("R", newFakeMember("c1", "u1"), func(messages []models.Message) {
		replayed = messages
	})
	require.Equal(t, []string{"m2", "m3"}, bodies(replayed))

	calls := 0
	r.Join("R", newFakeMember("c1", "u1"), func([]models.Message) { calls++ })
	require.Zero(t, calls, "a repeated join does not replay again")
}

func TestRegistry_ConcurrentAppends(t *testing.T) {
	const writers, perWriter, capacity = 8, 50, 1000
	r := NewRegistry(capacity)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r.Append("R", textMessage(fmt.Sprintf("w%d-%d", w, i)))
			}
		}(w)
	}
	wg.Wait()

	got := r.History("R")
	require.Len(t, got, writers*perWriter)
	for i, m := range got {
		require.Equal(t, uint64(i+1), m.Seq)
		if i > 0 {
			require.False(t, m.SentAt.Before(got[i-1].SentAt))
		}
	}
}

func TestRegistry_BoundedUnderLoad(t *testing.T) {
	const capacity = 16
	r := NewRegistry(capacity)
	for i := 0; i < 5*capacity; i++ {
		r.Append("R", textMessage(fmt.Sprintf("m%d", i)))
		require.LessOrEqual(t, len(r.History("R")), capacity)
	}
	got := r.History("R")
	require.Equal(t, "m64", got[0].Body)
	require.Equal(t, "m79", got[capacity-1].Body)
}
