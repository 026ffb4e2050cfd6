package watcher

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/n17-labs/transferwatch/internal/engine"
	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

// Runner polls a set of watchers on their own schedules and pushes every new
// item through the engine. Classifier outages are retried with backoff per
// item; the engine itself stays retry-free.
type Runner struct {
	engine   *engine.Engine
	watchers []Watcher
	configs  []SourceConfig
	retry    resilience.RetryConfig
	log      *zap.Logger
}

// NewRunner builds watchers from the source configs. Unknown kinds are
// rejected up front rather than discovered at poll time.
func NewRunner(e *engine.Engine, sources []SourceConfig, log *zap.Logger) (*Runner, error) {
	if log == nil {
		log = zap.L()
	}
	r := &Runner{
		engine: e,
		retry:  resilience.DefaultRetryConfig(),
		log:    log,
	}
	for _, cfg := range sources {
		var w Watcher
		switch cfg.Kind {
		case "rss":
			w = NewRSS(cfg)
		case "reddit":
			w = NewReddit(cfg)
		default:
			return nil, eris.Errorf("watcher: unknown source kind %q for %s", cfg.Kind, cfg.Name)
		}
		r.watchers = append(r.watchers, w)
		r.configs = append(r.configs, cfg)
	}
	return r, nil
}

// Run polls every source until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range r.watchers {
		cfg := r.configs[i]
		g.Go(func() error {
			r.poll(gctx, w, cfg)
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) poll(ctx context.Context, w Watcher, cfg SourceConfig) {
	log := r.log.With(zap.String("source", w.Name()))
	log.Info("starting watcher", zap.Duration("interval", cfg.interval()))

	// First poll looks back one interval so a restart does not skip items.
	since := time.Now().UTC().Add(-cfg.interval())

	ticker := time.NewTicker(cfg.interval())
	defer ticker.Stop()

	// Poll immediately, then on the ticker.
	since = r.pollOnce(ctx, w, since, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("watcher stopped")
			return
		case <-ticker.C:
			since = r.pollOnce(ctx, w, since, log)
		}
	}
}

// pollOnce fetches and ingests, returning the new high-water mark. A fetch
// or ingest failure leaves the mark unchanged so the items are retried on
// the next cycle.
func (r *Runner) pollOnce(ctx context.Context, w Watcher, since time.Time, log *zap.Logger) time.Time {
	items, err := w.Fetch(ctx, since)
	if err != nil {
		log.Warn("fetch failed", zap.Error(err))
		return since
	}
	if len(items) == 0 {
		log.Debug("no new items")
		return since
	}

	mark := since
	for _, item := range items {
		if ctx.Err() != nil {
			return mark
		}
		if err := r.ingestWithRetry(ctx, item); err != nil {
			log.Warn("ingest failed", zap.String("news_id", item.ID), zap.Error(err))
			continue
		}
		if item.PublishedAt.After(mark) {
			mark = item.PublishedAt
		}
	}
	log.Info("poll complete", zap.Int("items", len(items)))
	return mark
}

func (r *Runner) ingestWithRetry(ctx context.Context, item model.NewsItem) error {
	results, err := resilience.DoVal(ctx, r.retry, func(ctx context.Context) ([]model.MergeResult, error) {
		return r.engine.Ingest(ctx, item)
	})
	if err != nil {
		return err
	}
	for _, res := range results {
		r.log.Info("item linked",
			zap.String("news_id", item.ID),
			zap.String("player_id", res.PlayerID),
			zap.String("status", string(res.Status)),
			zap.Float64("confidence", res.Confidence))
	}
	return nil
}
