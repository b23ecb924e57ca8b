package websocket

import (
	"context"
	"errors"
	"strings"

	"github.com/CUknot/chat_relay/models"
)

// Authenticator validates a credential token and returns who it belongs to.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (models.Identity, error)
}

// Gate admits connections. Anything short of a clean, non-empty identity from
// the authenticator is treated as unauthenticated.
type Gate struct {
	auth Authenticator
}

func NewGate(auth Authenticator) *Gate {
	return &Gate{auth: auth}
}

// Admit validates token. It never touches room state, so it is safe to call
// before any room lock is taken.
func (g *Gate) Admit(ctx context.Context, token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, unauthenticated(errors.New("missing token"))
	}
	if g == nil || g.auth == nil {
		return models.Identity{}, unauthenticated(errors.New("no authenticator configured"))
	}

	identity, err := g.auth.ValidateToken(ctx, token)
	if err != nil {
		return models.Identity{}, unauthenticated(err)
	}
	if !identity.Valid() {
		return models.Identity{}, unauthenticated(errors.New("authenticator returned an empty identity"))
	}
	return identity, nil
}
