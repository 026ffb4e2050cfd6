// Package watcher polls external sources for new transfer reports and feeds
// them into the engine. Each source runs on its own schedule; the engine's
// per-player locks make concurrent ingestion safe.
package watcher

import (
	"context"
	"time"

	"github.com/n17-labs/transferwatch/internal/model"
)

// Watcher fetches recent items from one external source.
type Watcher interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]model.NewsItem, error)
}

// SourceConfig describes one polled source.
type SourceConfig struct {
	Name            string `yaml:"name" mapstructure:"name"`
	Kind            string `yaml:"kind" mapstructure:"kind"` // "rss" or "reddit"
	URL             string `yaml:"url" mapstructure:"url"`
	Tier            int    `yaml:"tier" mapstructure:"tier"`
	IntervalMinutes int    `yaml:"interval_minutes" mapstructure:"interval_minutes"`
	// FlairTiers overrides the source tier per reddit link flair, so an
	// "Official" flair on a fan subreddit can outrank the subreddit itself.
	FlairTiers map[string]int `yaml:"flair_tiers" mapstructure:"flair_tiers"`
}

func (c SourceConfig) interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}
