package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS news_items (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	published_at DATETIME NOT NULL,
	tier         INTEGER NOT NULL,
	url          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL,
	body         TEXT NOT NULL DEFAULT '',
	sentiment    TEXT,
	keywords     TEXT,
	linked       INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS player_links (
	player_id    TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	data         TEXT NOT NULL,
	last_updated DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL,
	club       TEXT NOT NULL DEFAULT '',
	confirmed  INTEGER NOT NULL DEFAULT 0,
	aliases    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS review_queue (
	id         TEXT PRIMARY KEY,
	news_id    TEXT NOT NULL,
	mention    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL DEFAULT 'permanent',
	created_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_news_items_url ON news_items(url) WHERE url != '';
CREATE INDEX IF NOT EXISTS idx_news_items_linked ON news_items(linked);
CREATE INDEX IF NOT EXISTS idx_news_items_published_at ON news_items(published_at);
CREATE INDEX IF NOT EXISTS idx_player_links_status ON player_links(status);
CREATE INDEX IF NOT EXISTS idx_player_links_last_updated ON player_links(last_updated);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutNewsItem(ctx context.Context, item model.NewsItem) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, err
	}

	sentimentJSON, keywordsJSON, err := marshalNewsExtras(item)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO news_items (id, source, published_at, tier, url, title, body, sentiment, keywords)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		item.ID, string(item.Source), item.PublishedAt.UTC(), item.Tier,
		item.URL, item.Title, item.Body, sentimentJSON, keywordsJSON,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert news item %s", item.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetNewsItem(ctx context.Context, id string) (*model.NewsItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, published_at, tier, url, title, body, sentiment, keywords
		 FROM news_items WHERE id = ?`, id)
	return scanNewsItem(row)
}

func (s *SQLiteStore) ListNewsItems(ctx context.Context, filter NewsFilter) ([]model.NewsItem, error) {
	query := `SELECT id, source, published_at, tier, url, title, body, sentiment, keywords
	          FROM news_items WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Unlinked {
		query += ` AND linked = 0`
	}
	if !filter.Since.IsZero() {
		query += ` AND published_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY published_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list news items")
	}
	defer rows.Close()

	var items []model.NewsItem
	for rows.Next() {
		item, err := scanNewsItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list news items iterate")
}

func (s *SQLiteStore) MarkNewsLinked(ctx context.Context, id string, linked bool) error {
	val := 0
	if linked {
		val = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE news_items SET linked = ? WHERE id = ?`, val, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark news linked %s", id)
	}
	return checkRowsAffected(res, "news item", id)
}

func (s *SQLiteStore) PurgeNewsItems(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM news_items WHERE published_at < ?`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge news items")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) GetPlayerLink(ctx context.Context, playerID string) (*model.PlayerLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM player_links WHERE player_id = ?`, playerID)

	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(model.ErrNotFound, "player link %s", playerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get player link %s", playerID)
	}
	return decodePlayerLink([]byte(data))
}

func (s *SQLiteStore) PutPlayerLink(ctx context.Context, link *model.PlayerLink) error {
	if err := link.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(link)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal player link")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO player_links (player_id, status, data, last_updated) VALUES (?, ?, ?, ?)
		 ON CONFLICT(player_id) DO UPDATE SET status = excluded.status, data = excluded.data, last_updated = excluded.last_updated`,
		link.PlayerID, string(link.Status), string(data), link.LastUpdated.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put player link %s", link.PlayerID)
}

func (s *SQLiteStore) ListPlayerLinks(ctx context.Context, filter LinkFilter) ([]model.PlayerLink, error) {
	query := `SELECT data FROM player_links WHERE 1=1`
	var args []any

	if len(filter.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Statuses)), ",")
		query += ` AND status IN (` + placeholders + `)`
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if !filter.UpdatedBefore.IsZero() {
		query += ` AND last_updated < ?`
		args = append(args, filter.UpdatedBefore.UTC())
	}
	query += ` ORDER BY last_updated DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list player links")
	}
	defer rows.Close()

	var links []model.PlayerLink
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan player link")
		}
		link, err := decodePlayerLink([]byte(data))
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, eris.Wrap(rows.Err(), "sqlite: list player links iterate")
}

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, club, confirmed, aliases, created_at FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

func (s *SQLiteStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, club, confirmed, aliases, created_at FROM entities WHERE kind = ? ORDER BY name`,
		string(kind))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	aliasesJSON, err := json.Marshal(e.Aliases)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, kind, name, club, confirmed, aliases, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Name, e.Club, boolToInt(e.Confirmed), string(aliasesJSON), e.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert entity %s", e.ID)
}

func (s *SQLiteStore) ConfirmEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE entities SET confirmed = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: confirm entity %s", id)
	}
	return checkRowsAffected(res, "entity", id)
}

func (s *SQLiteStore) AddAlias(ctx context.Context, entityID, alias string) error {
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
		return eris.Wrap(err, "sqlite: marshal aliases")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE entities SET aliases = ? WHERE id = ?`, string(aliasesJSON), entityID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add alias to %s", entityID)
	}
	return checkRowsAffected(res, "entity", entityID)
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, entry resilience.ReviewEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_queue (id, news_id, mention, kind, reason, error, error_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.NewsID, entry.Mention, entry.Kind, entry.Reason,
		entry.Error, entry.ErrorType, entry.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue review")
}

func (s *SQLiteStore) ListReview(ctx context.Context, limit int) ([]resilience.ReviewEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, news_id, mention, kind, reason, error, error_type, created_at
		 FROM review_queue ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review queue")
	}
	defer rows.Close()

	var entries []resilience.ReviewEntry
	for rows.Next() {
		var e resilience.ReviewEntry
		if err := rows.Scan(&e.ID, &e.NewsID, &e.Mention, &e.Kind, &e.Reason, &e.Error, &e.ErrorType, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list review iterate")
}

func (s *SQLiteStore) RemoveReview(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_queue WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: remove review %s", id)
	}
	return checkRowsAffected(res, "review entry", id)
}

func (s *SQLiteStore) CountReview(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM review_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count review queue")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalNewsExtras(item model.NewsItem) (sentiment, keywords sql.NullString, err error) {
	if item.Sentiment != nil {
		b, mErr := json.Marshal(item.Sentiment)
		if mErr != nil {
			return sentiment, keywords, eris.Wrap(mErr, "marshal sentiment")
		}
		sentiment = sql.NullString{String: string(b), Valid: true}
	}
	if len(item.Keywords) > 0 {
		b, mErr := json.Marshal(item.Keywords)
		if mErr != nil {
			return sentiment, keywords, eris.Wrap(mErr, "marshal keywords")
		}
		keywords = sql.NullString{String: string(b), Valid: true}
	}
	return sentiment, keywords, nil
}

// decodePlayerLink unmarshals and validates a stored record. A record that
// fails validation is corrupt; the engine must not operate on it.
func decodePlayerLink(data []byte) (*model.PlayerLink, error) {
	var link model.PlayerLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, eris.Wrap(model.ErrCorruptRecord, err.Error())
	}
	if err := link.Validate(); err != nil {
		return nil, err
	}
	return &link, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanNewsItem(row scannable) (*model.NewsItem, error) {
	var item model.NewsItem
	var source string
	var sentimentJSON, keywordsJSON sql.NullString

	err := row.Scan(&item.ID, &source, &item.PublishedAt, &item.Tier,
		&item.URL, &item.Title, &item.Body, &sentimentJSON, &keywordsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "news item")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan news item")
	}

	item.Source = model.SourceKind(source)
	if sentimentJSON.Valid {
		item.Sentiment = &model.Sentiment{}
		if err := json.Unmarshal([]byte(sentimentJSON.String), item.Sentiment); err != nil {
			return nil, eris.Wrap(err, "unmarshal sentiment")
		}
	}
	if keywordsJSON.Valid {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &item.Keywords); err != nil {
			return nil, eris.Wrap(err, "unmarshal keywords")
		}
	}
	return &item, nil
}

func scanEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var kind string
	var confirmed int
	var aliasesJSON sql.NullString

	err := row.Scan(&e.ID, &kind, &e.Name, &e.Club, &confirmed, &aliasesJSON, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "entity")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan entity")
	}

	e.Kind = model.EntityKind(kind)
	e.Confirmed = confirmed != 0
	if aliasesJSON.Valid && aliasesJSON.String != "" {
		if err := json.Unmarshal([]byte(aliasesJSON.String), &e.Aliases); err != nil {
			return nil, eris.Wrap(err, "unmarshal aliases")
		}
	}
	return &e, nil
}
