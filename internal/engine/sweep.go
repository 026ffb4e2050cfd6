package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/status"
	"github.com/n17-labs/transferwatch/internal/store"
)

// SweepPolicy sets the per-status staleness thresholds. Later stages decay
// faster: an agreed deal going quiet is more telling than a rumor going quiet.
type SweepPolicy struct {
	RumorAfter      time.Duration
	DevelopingAfter time.Duration
	HereWeGoAfter   time.Duration
}

func DefaultSweepPolicy() SweepPolicy {
	return SweepPolicy{
		RumorAfter:      30 * 24 * time.Hour,
		DevelopingAfter: 30 * 24 * time.Hour,
		HereWeGoAfter:   7 * 24 * time.Hour,
	}
}

func (p SweepPolicy) thresholdFor(s model.Status) (time.Duration, bool) {
	switch s {
	case model.StatusRumor:
		return p.RumorAfter, true
	case model.StatusDeveloping:
		return p.DevelopingAfter, true
	case model.StatusHereWeGo:
		return p.HereWeGoAfter, true
	}
	return 0, false
}

// Sweep archives every non-terminal link whose last update has aged past the
// policy threshold, appending a synthetic zero-confidence entry so the record
// shows why it closed. Returns the archived player ids. Safe to interrupt
// between players; each player's archive is atomic under its lock.
func (e *Engine) Sweep(ctx context.Context, policy SweepPolicy) ([]string, error) {
	links, err := e.store.ListPlayerLinks(ctx, store.LinkFilter{
		Statuses: []model.Status{model.StatusRumor, model.StatusDeveloping, model.StatusHereWeGo},
		Limit:    10000,
	})
	if err != nil {
		return nil, err
	}

	var archived []string
	for _, link := range links {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		ok, err := e.archiveIfStale(ctx, link.PlayerID, policy)
		if err != nil {
			return archived, err
		}
		if ok {
			archived = append(archived, link.PlayerID)
		}
	}
	e.log.Info("sweep complete",
		zap.Int("examined", len(links)),
		zap.Int("archived", len(archived)))
	return archived, nil
}

// archiveIfStale re-reads the link under its lock before deciding, so a merge
// that just revived the player wins over the sweep.
func (e *Engine) archiveIfStale(ctx context.Context, playerID string, policy SweepPolicy) (bool, error) {
	release, err := e.locks.acquire(ctx, playerID, e.cfg.lockTimeout())
	if err != nil {
		return false, err
	}
	defer release()

	link, err := e.store.GetPlayerLink(ctx, playerID)
	if err != nil {
		return false, err
	}

	threshold, ok := policy.thresholdFor(link.Status)
	if !ok {
		return false, nil
	}
	now := e.now()
	idle := now.Sub(link.LastUpdated)
	if idle <= threshold {
		return false, nil
	}

	// Archival is a synthetic full-strength denial, pushed through the same
	// state machine as real events so its transition rules stay authoritative.
	tr, err := status.Apply(e.stCfg, link.Status, link.Confidence, model.EventDenial, 100)
	if err != nil {
		return false, err
	}
	link.Status = tr.To
	link.Timeline = append(link.Timeline, model.TimelineEntry{
		ID:         uuid.New().String(),
		Type:       model.EventManual,
		Detail:     "archived: stale",
		Confidence: 0,
		OccurredAt: now,
	})
	link.LastUpdated = now

	if err := e.store.PutPlayerLink(ctx, link); err != nil {
		return false, err
	}
	e.log.Info("archived stale link",
		zap.String("player_id", playerID),
		zap.Duration("idle", idle))
	return true, nil
}

// ReprocessUnlinked re-runs ingestion for stored news items that never linked
// to a player, honoring the same dedup rules. Returns how many items linked
// this time.
func (e *Engine) ReprocessUnlinked(ctx context.Context) (int, error) {
	items, err := e.store.ListNewsItems(ctx, store.NewsFilter{Unlinked: true, Limit: 1000})
	if err != nil {
		return 0, err
	}

	workers := e.cfg.ReprocessWorkers
	if workers <= 0 {
		workers = DefaultConfig().ReprocessWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	linked := make(chan int, len(items))
	for _, item := range items {
		g.Go(func() error {
			results, err := e.Ingest(gctx, item)
			if err != nil {
				e.log.Warn("reprocess failed",
					zap.String("news_id", item.ID),
					zap.Error(err))
				return nil
			}
			if len(results) > 0 {
				linked <- 1
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	close(linked)

	var n int
	for range linked {
		n++
	}
	e.log.Info("reprocess complete", zap.Int("examined", len(items)), zap.Int("linked", n))
	return n, nil
}
