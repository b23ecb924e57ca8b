package websocket

import (
	"context"
	"encoding/json"
)

// handleFrame decodes one inbound frame and applies it. It returns the room
// the event targeted, if any, so a rejection can name it.
func (c *Client) handleFrame(ctx context.Context, frame []byte) (string, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)

	// Nothing but a well-formed auth is accepted before admission.
	if c.State() == StateConnecting {
		if err != nil || env.Type != EventAuth {
			return "", &AuthError{Reason: ReasonNotAdmitted}
		}
		var payload AuthPayload
		if err := c.decode(env, &payload); err != nil {
			return "", unauthenticated(err)
		}
		return "", c.admit(ctx, payload.Token)
	}
	if err != nil {
		return "", invalid(ReasonBadRequest, "malformed frame")
	}

	switch env.Type {
	case EventAuth:
		return "", invalid(ReasonBadRequest, "connection already admitted")
	case EventJoin:
		var payload RoomPayload
		if err := c.decode(env, &payload); err != nil {
			return payload.RoomID, err
		}
		return payload.RoomID, c.join(payload.RoomID)
	case EventLeave:
		var payload RoomPayload
		if err := c.decode(env, &payload); err != nil {
			return payload.RoomID, err
		}
		c.leave(payload.RoomID)
		return payload.RoomID, nil
	case EventSend:
		var payload SendPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return "", invalid(ReasonBadRequest, "malformed %s payload", env.Type)
		}
		return payload.RoomID, c.sendMessage(ctx, payload)
	default:
		return "", invalid(ReasonBadRequest, "unknown event type %q", env.Type)
	}
}

func (c *Client) decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return invalid(ReasonBadRequest, "malformed %s payload", env.Type)
	}
	if err := c.hub.validate.Struct(v); err != nil {
		return invalid(ReasonBadRequest, "invalid %s payload: %v", env.Type, err)
	}
	return nil
}
