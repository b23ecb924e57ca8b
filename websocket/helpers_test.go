package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/CUknot/chat_relay/models"
	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id       string
	identity models.Identity

	mu         sync.Mutex
	frames     [][]byte
	failWith   error
	closeCause error
	closes     int
}

func newFakeMember(id, userID string) *fakeMember {
	return &fakeMember{id: id, identity: models.Identity{UserID: userID, DisplayName: "user " + userID}}
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Identity() models.Identity { return f.identity }

func (f *fakeMember) Deliver(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeMember) Close(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.closeCause == nil {
		f.closeCause = cause
	}
}

func (f *fakeMember) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeMember) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeMember) messages(t *testing.T) []models.Message {
	t.Helper()
	var out []models.Message
	for _, env := range f.envelopes(t) {
		if env.Type != EventMessage {
			continue
		}
		var p MessagePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		out = append(out, p.Message)
	}
	return out
}

func (f *fakeMember) presence(t *testing.T) []PresencePayload {
	t.Helper()
	var out []PresencePayload
	for _, env := range f.envelopes(t) {
		if env.Type != EventPresence {
			continue
		}
		var p PresencePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		out = append(out, p)
	}
	return out
}

type fakeAuth map[string]models.Identity

func (a fakeAuth) ValidateToken(_ context.Context, token string) (models.Identity, error) {
	id, ok := a[token]
	if !ok {
		return models.Identity{}, errors.New("unknown token")
	}
	return id, nil
}

func textMessage(body string) models.Message {
	return models.Message{
		Author: models.Identity{UserID: "author", DisplayName: "Author"},
		Kind:   models.KindText,
		Body:   body,
	}
}

func bodies(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Body
	}
	return out
}
