package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/n17-labs/transferwatch/internal/engine"
	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resolve"
	"github.com/n17-labs/transferwatch/internal/store"
	"github.com/n17-labs/transferwatch/pkg/classifier"
)

// appEnv holds the initialized store and engine shared by all commands.
type appEnv struct {
	Store  store.Store
	Engine *engine.Engine
}

func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DSN)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DSN, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// initEnv validates config for the given mode, opens the store, runs
// migrations, and wires the engine. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var cls classifier.Client
	if cfg.Classifier.APIKey != "" {
		cls = classifier.New(cfg.Classifier, nil)
	} else {
		// Modes that never ingest run without an API key. Any accidental
		// classify call surfaces as an outage rather than a panic.
		cls = classifier.Func(func(ctx context.Context, item model.NewsItem) (*model.ClassifiedEvent, error) {
			return nil, eris.Wrap(model.ErrClassificationUnavailable, "classifier: no api key configured")
		})
	}

	if err := seedMappings(ctx, st); err != nil {
		_ = st.Close()
		return nil, err
	}

	resolver := resolve.New(st, cfg.Resolve, nil)
	eng := engine.New(st, resolver, cls, cfg.Reliability, cfg.Status, cfg.Merge, nil)

	return &appEnv{Store: st, Engine: eng}, nil
}

// seedMappings loads config-curated entities into the canon. Existing
// entities only gain missing aliases; names and confirmation are untouched.
func seedMappings(ctx context.Context, st store.Store) error {
	for _, m := range cfg.Mappings {
		_, err := st.GetEntity(ctx, m.ID)
		switch {
		case err == nil:
			// already present
		case eris.Is(err, model.ErrNotFound):
			e := model.Entity{
				ID:        m.ID,
				Kind:      model.EntityKind(m.Kind),
				Name:      m.Name,
				Club:      m.Club,
				Confirmed: true,
				CreatedAt: time.Now().UTC(),
			}
			if err := st.CreateEntity(ctx, e); err != nil {
				return eris.Wrapf(err, "seed mapping %s", m.ID)
			}
		default:
			return eris.Wrapf(err, "seed mapping %s", m.ID)
		}
		for _, alias := range m.Aliases {
			if err := st.AddAlias(ctx, m.ID, alias); err != nil {
				return eris.Wrapf(err, "seed mapping %s: alias %q", m.ID, alias)
			}
		}
	}
	return nil
}
