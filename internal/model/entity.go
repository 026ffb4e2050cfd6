package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// EntityKind distinguishes the two canonical entity namespaces.
type EntityKind string

const (
	KindPlayer EntityKind = "player"
	KindClub   EntityKind = "club"
)

// Entity is a canonical, deduplicated identity for a player or club,
// resolved from possibly many textual mentions.
type Entity struct {
	ID        string     `json:"id"`
	Kind      EntityKind `json:"kind"`
	Name      string     `json:"name"`
	Aliases   []string   `json:"aliases,omitempty"`
	Club      string     `json:"club,omitempty"` // players: last known club name
	Confirmed bool       `json:"confirmed"`      // players start unconfirmed, require manual confirmation
	CreatedAt time.Time  `json:"created_at"`
}

// Validate checks entity invariants before insertion into the canon.
func (e *Entity) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return eris.Wrap(ErrInvalidInput, "entity: empty id")
	}
	if e.Kind != KindPlayer && e.Kind != KindClub {
		return eris.Wrapf(ErrInvalidInput, "entity %s: unknown kind %q", e.ID, e.Kind)
	}
	if strings.TrimSpace(e.Name) == "" {
		return eris.Wrapf(ErrInvalidInput, "entity %s: empty name", e.ID)
	}
	return nil
}
