// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/n17-labs/transferwatch/internal/engine"
	"github.com/n17-labs/transferwatch/internal/reliability"
	"github.com/n17-labs/transferwatch/internal/resolve"
	"github.com/n17-labs/transferwatch/internal/status"
	"github.com/n17-labs/transferwatch/internal/store"
	"github.com/n17-labs/transferwatch/internal/sweeper"
	"github.com/n17-labs/transferwatch/internal/watcher"
	"github.com/n17-labs/transferwatch/pkg/classifier"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig            `yaml:"store" mapstructure:"store"`
	Log         LogConfig              `yaml:"log" mapstructure:"log"`
	Server      ServerConfig           `yaml:"server" mapstructure:"server"`
	Reliability reliability.Config     `yaml:"reliability" mapstructure:"reliability"`
	Status      status.Config          `yaml:"status" mapstructure:"status"`
	Merge       engine.Config          `yaml:"merge" mapstructure:"merge"`
	Sweep       sweeper.Config         `yaml:"sweep" mapstructure:"sweep"`
	Resolve     resolve.Config         `yaml:"resolve" mapstructure:"resolve"`
	Classifier  classifier.Config      `yaml:"classifier" mapstructure:"classifier"`
	Watchers    []watcher.SourceConfig `yaml:"watchers" mapstructure:"watchers"`
	// Mappings seed the entity canon at startup: curated players and clubs
	// with known aliases, so common misspellings resolve without fuzzing.
	Mappings []EntityMapping `yaml:"mappings" mapstructure:"mappings"`
}

// EntityMapping is one config-seeded canonical entity.
type EntityMapping struct {
	ID      string   `yaml:"id" mapstructure:"id"`
	Kind    string   `yaml:"kind" mapstructure:"kind"` // "player" or "club"
	Name    string   `yaml:"name" mapstructure:"name"`
	Club    string   `yaml:"club" mapstructure:"club"`
	Aliases []string `yaml:"aliases" mapstructure:"aliases"`
}

// StoreConfig configures the storage backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string           `yaml:"backend" mapstructure:"backend"`
	DSN     string           `yaml:"dsn" mapstructure:"dsn"`
	Pool    store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRANSFERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.dsn", "transferwatch.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	rel := reliability.DefaultConfig()
	v.SetDefault("reliability.official_floor", rel.OfficialFloor)

	st := status.DefaultConfig()
	v.SetDefault("status.min_advance_delta", st.MinAdvanceDelta)
	v.SetDefault("status.denial_threshold", st.DenialThreshold)

	mrg := engine.DefaultConfig()
	v.SetDefault("merge.dedup_window_hours", mrg.DedupWindowHours)
	v.SetDefault("merge.lock_timeout_seconds", mrg.LockTimeoutSeconds)
	v.SetDefault("merge.reprocess_workers", mrg.ReprocessWorkers)

	sw := sweeper.DefaultConfig()
	v.SetDefault("sweep.interval_hours", sw.IntervalHours)
	v.SetDefault("sweep.rumor_after_days", sw.RumorAfterDays)
	v.SetDefault("sweep.developing_after_days", sw.DevelopingAfterDays)
	v.SetDefault("sweep.here_we_go_after_days", sw.HereWeGoAfterDays)

	res := resolve.DefaultConfig()
	v.SetDefault("resolve.min_similarity", res.MinSimilarity)
	v.SetDefault("resolve.ambiguity_margin", res.AmbiguityMargin)

	cls := classifier.DefaultConfig()
	v.SetDefault("classifier.model", cls.Model)
	v.SetDefault("classifier.max_tokens", cls.MaxTokens)
	v.SetDefault("classifier.excluded_journalists", cls.ExcludedJournalists)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Viper cannot default an int-keyed map, so the tier base table falls
	// back here when the file does not set one.
	if len(cfg.Reliability.Bases) == 0 {
		cfg.Reliability.Bases = rel.Bases
	}

	return &cfg, nil
}

// Validate checks the fields required for the given run mode. Bound checks
// apply in every mode so a bad threshold fails fast regardless of entrypoint.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Backend != "sqlite" && c.Store.Backend != "postgres" {
		problems = append(problems, "store.backend must be sqlite or postgres")
	}
	if c.Store.DSN == "" {
		problems = append(problems, "store.dsn is required")
	}
	if c.Status.DenialThreshold < 0 || c.Status.DenialThreshold > 100 {
		problems = append(problems, "status.denial_threshold must be in [0,100]")
	}
	if c.Status.MinAdvanceDelta < 0 {
		problems = append(problems, "status.min_advance_delta must be >= 0")
	}
	if c.Merge.DedupWindowHours < 1 {
		problems = append(problems, "merge.dedup_window_hours must be >= 1")
	}
	if c.Resolve.MinSimilarity < 0 || c.Resolve.MinSimilarity > 1 {
		problems = append(problems, "resolve.min_similarity must be in [0,1]")
	}
	for _, m := range c.Mappings {
		if m.ID == "" || m.Name == "" {
			problems = append(problems, "mappings entries need id and name")
			break
		}
		if m.Kind != "player" && m.Kind != "club" {
			problems = append(problems, "mapping "+m.ID+": kind must be player or club")
		}
	}

	switch mode {
	case "watch":
		if c.Classifier.APIKey == "" {
			problems = append(problems, "classifier.api_key is required")
		}
		if len(c.Watchers) == 0 {
			problems = append(problems, "at least one watcher is required")
		}
		for _, w := range c.Watchers {
			if w.Kind != "rss" && w.Kind != "reddit" {
				problems = append(problems, "watcher "+w.Name+": kind must be rss or reddit")
			}
		}
	case "ingest", "reprocess":
		if c.Classifier.APIKey == "" {
			problems = append(problems, "classifier.api_key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "sweep", "migrate", "player", "import":
		// Store checks above are enough.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s mode: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
