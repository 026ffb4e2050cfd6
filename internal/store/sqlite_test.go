package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func testNewsItem(id string, published time.Time) model.NewsItem {
	return model.NewsItem{
		ID:          id,
		Source:      model.SourceRSS,
		PublishedAt: published,
		Tier:        2,
		URL:         "https://example.com/" + id,
		Title:       "Spurs open talks for midfielder",
		Body:        "Club sources say talks are underway.",
	}
}

func TestSQLitePutNewsItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := testNewsItem(model.NewsID(model.SourceRSS, now, 1), now)

	created, err := s.PutNewsItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	// Same id again is a no-op, not an error.
	created, err = s.PutNewsItem(ctx, item)
	require.NoError(t, err)
	assert.False(t, created)

	// Same url under a different id is also deduplicated.
	dup := item
	dup.ID = model.NewsID(model.SourceRSS, now, 2)
	created, err = s.PutNewsItem(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetNewsItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, model.SourceRSS, got.Source)
	assert.Equal(t, 2, got.Tier)
	assert.True(t, item.PublishedAt.Equal(got.PublishedAt))
}

func TestSQLitePutNewsItemInvalid(t *testing.T) {
	s := newTestStore(t)

	item := testNewsItem("", time.Now())
	_, err := s.PutNewsItem(context.Background(), item)
	assert.True(t, eris.Is(err, model.ErrInvalidInput))
}

func TestSQLiteGetNewsItemNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetNewsItem(context.Background(), "r-202608301000-999")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLiteListNewsItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		item := testNewsItem(model.NewsID(model.SourceRSS, base, i), base.Add(time.Duration(i)*time.Hour))
		item.URL = ""
		if i == 4 {
			item.Source = model.SourceReddit
			item.ID = model.NewsID(model.SourceReddit, base, i)
		}
		_, err := s.PutNewsItem(ctx, item)
		require.NoError(t, err)
	}

	all, err := s.ListNewsItems(ctx, NewsFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	// Ordered oldest first.
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].PublishedAt.Before(all[i].PublishedAt))
	}

	reddit, err := s.ListNewsItems(ctx, NewsFilter{Source: model.SourceReddit})
	require.NoError(t, err)
	assert.Len(t, reddit, 1)

	recent, err := s.ListNewsItems(ctx, NewsFilter{Since: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := s.ListNewsItems(ctx, NewsFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSQLiteMarkNewsLinked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := testNewsItem(model.NewsID(model.SourceRSS, now, 1), now)
	_, err := s.PutNewsItem(ctx, item)
	require.NoError(t, err)

	unlinked, err := s.ListNewsItems(ctx, NewsFilter{Unlinked: true})
	require.NoError(t, err)
	assert.Len(t, unlinked, 1)

	require.NoError(t, s.MarkNewsLinked(ctx, item.ID, true))

	unlinked, err = s.ListNewsItems(ctx, NewsFilter{Unlinked: true})
	require.NoError(t, err)
	assert.Empty(t, unlinked)

	err = s.MarkNewsLinked(ctx, "r-202601010000-001", true)
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLitePurgeNewsItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		item := testNewsItem(model.NewsID(model.SourceRSS, base, i), base.AddDate(0, i, 0))
		item.URL = ""
		_, err := s.PutNewsItem(ctx, item)
		require.NoError(t, err)
	}

	n, err := s.PurgeNewsItems(ctx, base.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.ListNewsItems(ctx, NewsFilter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestSQLitePlayerLinkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	link := model.NewPlayerLink("pl-1", "Morgan Gibbs-White", now)
	link.Status = model.StatusDeveloping
	link.Confidence = 56
	link.Timeline = []model.TimelineEntry{{
		ID:          "tl-1",
		Type:        model.EventTalks,
		Detail:      "club-to-club talks opened",
		Confidence:  56,
		OccurredAt:  now,
		SourceItems: []string{"f-202608301200-001"},
	}}
	link.RelatedClubs = []model.RelatedClub{{ClubID: "cl-1", Name: "Tottenham", Role: model.RoleInterested}}

	require.NoError(t, s.PutPlayerLink(ctx, link))

	got, err := s.GetPlayerLink(ctx, "pl-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDeveloping, got.Status)
	assert.Equal(t, 56.0, got.Confidence)
	require.Len(t, got.Timeline, 1)
	assert.Equal(t, model.EventTalks, got.Timeline[0].Type)

	// Upsert replaces the stored record.
	link.Status = model.StatusHereWeGo
	link.LastUpdated = now.Add(time.Hour)
	require.NoError(t, s.PutPlayerLink(ctx, link))

	got, err = s.GetPlayerLink(ctx, "pl-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHereWeGo, got.Status)
}

func TestSQLiteGetPlayerLinkNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPlayerLink(context.Background(), "pl-missing")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLiteGetPlayerLinkCorrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO player_links (player_id, status, data, last_updated) VALUES (?, ?, ?, ?)`,
		"pl-bad", "rumor", `{"player_id":"pl-bad","status":"not-a-status"}`, time.Now().UTC())
	require.NoError(t, err)

	_, err = s.GetPlayerLink(ctx, "pl-bad")
	assert.True(t, eris.Is(err, model.ErrCorruptRecord))
}

func TestSQLiteListPlayerLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	statuses := []model.Status{model.StatusRumor, model.StatusDeveloping, model.StatusOfficial}
	for i, st := range statuses {
		link := model.NewPlayerLink("pl-"+string(st), "Player "+string(st), now.Add(time.Duration(-i)*time.Hour))
		link.Status = st
		require.NoError(t, s.PutPlayerLink(ctx, link))
	}

	active, err := s.ListPlayerLinks(ctx, LinkFilter{
		Statuses: []model.Status{model.StatusRumor, model.StatusDeveloping},
	})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	stale, err := s.ListPlayerLinks(ctx, LinkFilter{UpdatedBefore: now.Add(-30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	all, err := s.ListPlayerLinks(ctx, LinkFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recently updated first.
	assert.Equal(t, model.StatusRumor, all[0].Status)
}

func TestSQLiteEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	player := model.Entity{
		ID:   "pl-1",
		Kind: model.KindPlayer,
		Name: "Dejan Kulusevski",
		Club: "Tottenham",
	}
	require.NoError(t, s.CreateEntity(ctx, player))
	require.NoError(t, s.CreateEntity(ctx, model.Entity{ID: "cl-1", Kind: model.KindClub, Name: "Tottenham"}))

	got, err := s.GetEntity(ctx, "pl-1")
	require.NoError(t, err)
	assert.False(t, got.Confirmed)
	assert.Equal(t, "Tottenham", got.Club)

	require.NoError(t, s.ConfirmEntity(ctx, "pl-1"))
	got, err = s.GetEntity(ctx, "pl-1")
	require.NoError(t, err)
	assert.True(t, got.Confirmed)

	require.NoError(t, s.AddAlias(ctx, "pl-1", "Kulusevski"))
	// Case-insensitive no-op on repeat.
	require.NoError(t, s.AddAlias(ctx, "pl-1", "kulusevski"))
	got, err = s.GetEntity(ctx, "pl-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kulusevski"}, got.Aliases)

	players, err := s.ListEntities(ctx, model.KindPlayer)
	require.NoError(t, err)
	assert.Len(t, players, 1)

	clubs, err := s.ListEntities(ctx, model.KindClub)
	require.NoError(t, err)
	assert.Len(t, clubs, 1)

	err = s.ConfirmEntity(ctx, "pl-missing")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestSQLiteReviewQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := resilience.ReviewEntry{
		NewsID:  "r-202608301000-001",
		Mention: "Gibbs White",
		Kind:    "player",
		Reason:  "ambiguous between 2 candidates",
	}
	require.NoError(t, s.EnqueueReview(ctx, entry))
	require.NoError(t, s.EnqueueReview(ctx, resilience.ReviewEntry{
		NewsID:  "r-202608301000-002",
		Mention: "Spurs B",
		Kind:    "club",
		Reason:  "no candidate",
	}))

	n, err := s.CountReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := s.ListReview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ID)
	assert.Equal(t, "Gibbs White", entries[0].Mention)

	require.NoError(t, s.RemoveReview(ctx, entries[0].ID))
	n, err = s.CountReview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = s.RemoveReview(ctx, "missing")
	assert.True(t, eris.Is(err, model.ErrNotFound))
}
