package store

import (
	"context"
	"time"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

// NewsFilter specifies criteria for listing news items.
type NewsFilter struct {
	Source   model.SourceKind `json:"source,omitempty"`
	Unlinked bool             `json:"unlinked,omitempty"`
	Since    time.Time        `json:"since,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

// LinkFilter specifies criteria for listing player links.
type LinkFilter struct {
	Statuses      []model.Status `json:"statuses,omitempty"`
	UpdatedBefore time.Time      `json:"updated_before,omitempty"`
	Limit         int            `json:"limit,omitempty"`
}

// Store defines the persistence contract for the aggregation engine.
// News items are immutable after insertion and removed only by explicit
// purge; player links are replaced atomically as a whole record.
type Store interface {
	// News items
	PutNewsItem(ctx context.Context, item model.NewsItem) (created bool, err error)
	GetNewsItem(ctx context.Context, id string) (*model.NewsItem, error)
	ListNewsItems(ctx context.Context, filter NewsFilter) ([]model.NewsItem, error)
	MarkNewsLinked(ctx context.Context, id string, linked bool) error
	PurgeNewsItems(ctx context.Context, before time.Time) (int, error)

	// Player links
	GetPlayerLink(ctx context.Context, playerID string) (*model.PlayerLink, error)
	PutPlayerLink(ctx context.Context, link *model.PlayerLink) error
	ListPlayerLinks(ctx context.Context, filter LinkFilter) ([]model.PlayerLink, error)

	// Canonical entities
	GetEntity(ctx context.Context, id string) (*model.Entity, error)
	ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error)
	CreateEntity(ctx context.Context, e model.Entity) error
	ConfirmEntity(ctx context.Context, id string) error
	AddAlias(ctx context.Context, entityID, alias string) error

	// Manual review queue
	EnqueueReview(ctx context.Context, entry resilience.ReviewEntry) error
	ListReview(ctx context.Context, limit int) ([]resilience.ReviewEntry, error)
	RemoveReview(ctx context.Context, id string) error
	CountReview(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
