package websocket

import "github.com/CUknot/chat_relay/models"

// history is a fixed capacity FIFO ring of the most recent messages of a room.
// It is not safe for concurrent use; the owning room serializes access.
type history struct {
	buf  []models.Message
	head int // index of the oldest entry
	size int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]models.Message, capacity)}
}

// push appends msg, evicting the oldest entry once the ring is full.
func (h *history) push(msg models.Message) {
	if len(h.buf) == 0 {
		return
	}
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.head] = msg
	h.head = (h.head + 1) % len(h.buf)
}

// snapshot copies the entries oldest first.
func (h *history) snapshot() []models.Message {
	out := make([]models.Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head+i)%len(h.buf)]
	}
	return out
}

func (h *history) len() int { return h.size }
