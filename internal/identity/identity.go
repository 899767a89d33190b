// Package identity supplies the stable anonymous player id. The id is absent
// until sign-in completes; challenge operations treat that as a hard
// precondition failure.
package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Provider yields the local player's id. UserID reports ok=false before
// sign-in has completed.
type Provider interface {
	UserID() (string, bool)
}

// IDStore is what the anonymous provider needs from local persistence.
type IDStore interface {
	PlayerID(ctx context.Context) (string, error)
	SavePlayerID(ctx context.Context, id string) error
}

// Anonymous is an identity provider that mints a random id on first sign-in
// and reuses it forever after.
type Anonymous struct {
	store IDStore
	id    string
}

var _ Provider = (*Anonymous)(nil)

// NewAnonymous creates a provider in the signed-out state.
func NewAnonymous(store IDStore) *Anonymous {
	return &Anonymous{store: store}
}

// SignIn loads the persisted id, generating and storing one on first run.
func (a *Anonymous) SignIn(ctx context.Context) error {
	id, err := a.store.PlayerID(ctx)
	if err != nil {
		return fmt.Errorf("load player id: %w", err)
	}
	if id == "" {
		id = uuid.New().String()
		if err := a.store.SavePlayerID(ctx, id); err != nil {
			return fmt.Errorf("persist player id: %w", err)
		}
		log.Info().Str("player_id", id).Msg("created anonymous identity")
	}
	a.id = id
	return nil
}

// UserID returns the id once signed in.
func (a *Anonymous) UserID() (string, bool) {
	return a.id, a.id != ""
}

// Static is a fixed identity, used by tests and tooling.
type Static string

// UserID implements Provider. An empty Static behaves as signed-out.
func (s Static) UserID() (string, bool) {
	return string(s), s != ""
}
