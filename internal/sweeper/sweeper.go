// Package sweeper runs the staleness sweep on a schedule.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/engine"
)

// Config holds sweep scheduling and staleness thresholds.
type Config struct {
	IntervalHours       int `yaml:"interval_hours" mapstructure:"interval_hours"`
	RumorAfterDays      int `yaml:"rumor_after_days" mapstructure:"rumor_after_days"`
	DevelopingAfterDays int `yaml:"developing_after_days" mapstructure:"developing_after_days"`
	HereWeGoAfterDays   int `yaml:"here_we_go_after_days" mapstructure:"here_we_go_after_days"`
}

func DefaultConfig() Config {
	return Config{
		IntervalHours:       24,
		RumorAfterDays:      30,
		DevelopingAfterDays: 30,
		HereWeGoAfterDays:   7,
	}
}

// Policy converts the day-based config into an engine sweep policy.
func (c Config) Policy() engine.SweepPolicy {
	p := engine.DefaultSweepPolicy()
	if c.RumorAfterDays > 0 {
		p.RumorAfter = time.Duration(c.RumorAfterDays) * 24 * time.Hour
	}
	if c.DevelopingAfterDays > 0 {
		p.DevelopingAfter = time.Duration(c.DevelopingAfterDays) * 24 * time.Hour
	}
	if c.HereWeGoAfterDays > 0 {
		p.HereWeGoAfter = time.Duration(c.HereWeGoAfterDays) * 24 * time.Hour
	}
	return p
}

// Sweeper periodically archives stale player links.
type Sweeper struct {
	engine *engine.Engine
	cfg    Config
}

func New(e *engine.Engine, cfg Config) *Sweeper {
	return &Sweeper{engine: e, cfg: cfg}
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled. The
// first sweep fires after one full interval, not at startup, so a restart
// loop cannot hammer the store.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log := zap.L().With(zap.String("component", "sweeper"))
	log.Info("starting staleness sweeper", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("staleness sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, log)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, log *zap.Logger) {
	archived, err := s.engine.Sweep(ctx, s.cfg.Policy())
	if err != nil {
		log.Error("sweep failed", zap.Error(err))
		return
	}
	if len(archived) > 0 {
		log.Info("sweep archived stale links", zap.Strings("player_ids", archived))
	}
}
