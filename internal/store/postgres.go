package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/n17-labs/transferwatch/internal/db"
	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection. These are
// the hot path during a live ingest run.
var preparedStatements = map[string]string{
	"get_news_item":    `SELECT id, source, published_at, tier, url, title, body, sentiment, keywords FROM news_items WHERE id = $1`,
	"mark_news_linked": `UPDATE news_items SET linked = $1 WHERE id = $2`,
	"get_player_link":  `SELECT data FROM player_links WHERE player_id = $1`,
	"put_player_link": `INSERT INTO player_links (player_id, status, data, last_updated) VALUES ($1, $2, $3, $4)
		ON CONFLICT (player_id) DO UPDATE SET status = $2, data = $3, last_updated = $4`,
	"get_entity": `SELECT id, kind, name, club, confirmed, aliases, created_at FROM entities WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Tests use this with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (bulk import, entity seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS news_items (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	tier         INTEGER NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	sentiment    JSONB,
	keywords     JSONB,
	linked       BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_news_items_url ON news_items(url) WHERE url != '';
CREATE INDEX IF NOT EXISTS idx_news_items_linked ON news_items(linked);
CREATE INDEX IF NOT EXISTS idx_news_items_published_at ON news_items(published_at);

CREATE TABLE IF NOT EXISTS player_links (
	player_id    TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	data         JSONB NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_player_links_status ON player_links(status);
CREATE INDEX IF NOT EXISTS idx_player_links_last_updated ON player_links(last_updated);

CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	club       TEXT NOT NULL DEFAULT '',
	confirmed  BOOLEAN NOT NULL DEFAULT false,
	aliases    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);

CREATE TABLE IF NOT EXISTS review_queue (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	news_id    TEXT NOT NULL,
	mention    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL DEFAULT 'permanent',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_review_queue_created_at ON review_queue(created_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) PutNewsItem(ctx context.Context, item model.NewsItem) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, err
	}

	var sentimentJSON, keywordsJSON []byte
	var err error
	if item.Sentiment != nil {
		if sentimentJSON, err = json.Marshal(item.Sentiment); err != nil {
			return false, eris.Wrap(err, "postgres: marshal sentiment")
		}
	}
	if len(item.Keywords) > 0 {
		if keywordsJSON, err = json.Marshal(item.Keywords); err != nil {
			return false, eris.Wrap(err, "postgres: marshal keywords")
		}
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO news_items (id, source, published_at, tier, url, title, body, sentiment, keywords)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT DO NOTHING`,
		item.ID, string(item.Source), item.PublishedAt.UTC(), item.Tier,
		item.URL, item.Title, item.Body, sentimentJSON, keywordsJSON,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert news item %s", item.ID)
	}
	return tag.RowsAffected() > 0, nil
}

// BulkImportNews loads a batch of already-validated news items via COPY.
// Items are inserted as unlinked; dedup against existing rows is the
// caller's responsibility (the importer targets an empty or fresh table).
func (s *PostgresStore) BulkImportNews(ctx context.Context, items []model.NewsItem) (int64, error) {
	columns := []string{"id", "source", "published_at", "tier", "url", "title", "body"}
	rows := make([][]any, 0, len(items))
	for i := range items {
		if err := items[i].Validate(); err != nil {
			return 0, err
		}
		rows = append(rows, []any{
			items[i].ID, string(items[i].Source), items[i].PublishedAt.UTC(),
			items[i].Tier, items[i].URL, items[i].Title, items[i].Body,
		})
	}
	return db.CopyFrom(ctx, s.pool, "news_items", columns, rows)
}

// SeedEntities bulk-upserts curated entities, preserving operator confirmation
// on rows that already exist.
func (s *PostgresStore) SeedEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	columns := []string{"id", "kind", "name", "club", "confirmed", "aliases", "created_at"}
	rows := make([][]any, 0, len(entities))
	now := time.Now().UTC()
	for i := range entities {
		if err := entities[i].Validate(); err != nil {
			return 0, err
		}
		aliasesJSON, err := json.Marshal(entities[i].Aliases)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal aliases")
		}
		createdAt := entities[i].CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, []any{
			entities[i].ID, string(entities[i].Kind), entities[i].Name,
			entities[i].Club, entities[i].Confirmed, aliasesJSON, createdAt,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "entities",
		Columns:      columns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"name", "club", "aliases"},
	}, rows)
}

func (s *PostgresStore) GetNewsItem(ctx context.Context, id string) (*model.NewsItem, error) {
	var item model.NewsItem
	var source string
	var sentimentJSON, keywordsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, source, published_at, tier, url, title, body, sentiment, keywords FROM news_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &source, &item.PublishedAt, &item.Tier, &item.URL, &item.Title, &item.Body, &sentimentJSON, &keywordsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "news item %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get news item %s", id)
	}

	item.Source = model.SourceKind(source)
	if len(sentimentJSON) > 0 {
		item.Sentiment = &model.Sentiment{}
		if err := json.Unmarshal(sentimentJSON, item.Sentiment); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal sentiment")
		}
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &item.Keywords); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal keywords")
		}
	}
	return &item, nil
}

func (s *PostgresStore) ListNewsItems(ctx context.Context, filter NewsFilter) ([]model.NewsItem, error) {
	query := `SELECT id, source, published_at, tier, url, title, body, sentiment, keywords FROM news_items WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.Unlinked {
		query += ` AND NOT linked`
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND published_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY published_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list news items")
	}
	defer rows.Close()

	var items []model.NewsItem
	for rows.Next() {
		var item model.NewsItem
		var source string
		var sentimentJSON, keywordsJSON []byte
		if err := rows.Scan(&item.ID, &source, &item.PublishedAt, &item.Tier,
			&item.URL, &item.Title, &item.Body, &sentimentJSON, &keywordsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan news item")
		}
		item.Source = model.SourceKind(source)
		if len(sentimentJSON) > 0 {
			item.Sentiment = &model.Sentiment{}
			if err := json.Unmarshal(sentimentJSON, item.Sentiment); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal sentiment")
			}
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &item.Keywords); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal keywords")
			}
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list news items iterate")
}

func (s *PostgresStore) MarkNewsLinked(ctx context.Context, id string, linked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE news_items SET linked = $1 WHERE id = $2`, linked, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark news linked %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "news item %s", id)
	}
	return nil
}

func (s *PostgresStore) PurgeNewsItems(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM news_items WHERE published_at < $1`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge news items")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) GetPlayerLink(ctx context.Context, playerID string) (*model.PlayerLink, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM player_links WHERE player_id = $1`, playerID,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "player link %s", playerID)
		}
		return nil, eris.Wrapf(err, "postgres: get player link %s", playerID)
	}
	return decodePlayerLink(data)
}

func (s *PostgresStore) PutPlayerLink(ctx context.Context, link *model.PlayerLink) error {
	if err := link.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(link)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal player link")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO player_links (player_id, status, data, last_updated) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (player_id) DO UPDATE SET status = $2, data = $3, last_updated = $4`,
		link.PlayerID, string(link.Status), data, link.LastUpdated.UTC(),
	)
	return eris.Wrapf(err, "postgres: put player link %s", link.PlayerID)
}

func (s *PostgresStore) ListPlayerLinks(ctx context.Context, filter LinkFilter) ([]model.PlayerLink, error) {
	query := `SELECT data FROM player_links WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argIdx)
			args = append(args, string(st))
			argIdx++
		}
		query += ` AND status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if !filter.UpdatedBefore.IsZero() {
		query += fmt.Sprintf(` AND last_updated < $%d`, argIdx)
		args = append(args, filter.UpdatedBefore.UTC())
		argIdx++
	}
	query += ` ORDER BY last_updated DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list player links")
	}
	defer rows.Close()

	var links []model.PlayerLink
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan player link")
		}
		link, err := decodePlayerLink(data)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, eris.Wrap(rows.Err(), "postgres: list player links iterate")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	var e model.Entity
	var kind string
	var aliasesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, name, club, confirmed, aliases, created_at FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &kind, &e.Name, &e.Club, &e.Confirmed, &aliasesJSON, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(model.ErrNotFound, "entity %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get entity %s", id)
	}

	e.Kind = model.EntityKind(kind)
	if len(aliasesJSON) > 0 {
		if err := json.Unmarshal(aliasesJSON, &e.Aliases); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal aliases")
		}
	}
	return &e, nil
}

func (s *PostgresStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, name, club, confirmed, aliases, created_at FROM entities WHERE kind = $1 ORDER BY name`,
		string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		var e model.Entity
		var k string
		var aliasesJSON []byte
		if err := rows.Scan(&e.ID, &k, &e.Name, &e.Club, &e.Confirmed, &aliasesJSON, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e.Kind = model.EntityKind(k)
		if len(aliasesJSON) > 0 {
			if err := json.Unmarshal(aliasesJSON, &e.Aliases); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal aliases")
			}
		}
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aliases")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO entities (id, kind, name, club, confirmed, aliases, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, string(e.Kind), e.Name, e.Club, e.Confirmed, aliasesJSON, e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert entity %s", e.ID)
}

func (s *PostgresStore) ConfirmEntity(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE entities SET confirmed = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: confirm entity %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "entity %s", id)
	}
	return nil
}

func (s *PostgresStore) AddAlias(ctx context.Context, entityID, alias string) error {
	e, err := s.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	for _, a := range e.Aliases {
		if strings.EqualFold(a, alias) {
			return nil
		}
	}
	e.Aliases = append(e.Aliases, alias)

	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal aliases")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE entities SET aliases = $1 WHERE id = $2`, aliasesJSON, entityID)
	if err != nil {
		return eris.Wrapf(err, "postgres: add alias to %s", entityID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "entity %s", entityID)
	}
	return nil
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, entry resilience.ReviewEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_queue (id, news_id, mention, kind, reason, error, error_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.NewsID, entry.Mention, entry.Kind, entry.Reason,
		entry.Error, entry.ErrorType, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue review")
}

func (s *PostgresStore) ListReview(ctx context.Context, limit int) ([]resilience.ReviewEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, news_id, mention, kind, reason, error, error_type, created_at
		 FROM review_queue ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review queue")
	}
	defer rows.Close()

	var entries []resilience.ReviewEntry
	for rows.Next() {
		var e resilience.ReviewEntry
		if err := rows.Scan(&e.ID, &e.NewsID, &e.Mention, &e.Kind, &e.Reason, &e.Error, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list review iterate")
}

func (s *PostgresStore) RemoveReview(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM review_queue WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: remove review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "review entry %s", id)
	}
	return nil
}

func (s *PostgresStore) CountReview(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM review_queue`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count review queue")
}
