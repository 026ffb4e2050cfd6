package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/reliability"
	"github.com/n17-labs/transferwatch/internal/resolve"
	"github.com/n17-labs/transferwatch/internal/status"
	"github.com/n17-labs/transferwatch/internal/store"
	"github.com/n17-labs/transferwatch/pkg/classifier"
)

// stubClassifier returns canned events keyed by news item id.
type stubClassifier struct {
	mu     sync.Mutex
	events map[string]*model.ClassifiedEvent
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, item model.NewsItem) (*model.ClassifiedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	ev, ok := s.events[item.ID]
	if !ok {
		return nil, eris.Wrapf(model.ErrClassificationUnavailable, "no stub for %s", item.ID)
	}
	cp := *ev
	cp.SourceItems = []string{item.ID}
	return &cp, nil
}

func (s *stubClassifier) set(newsID string, ev model.ClassifiedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string]*model.ClassifiedEvent)
	}
	s.events[newsID] = &ev
}

type testRig struct {
	engine *Engine
	store  store.Store
	stub   *stubClassifier
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	stub := &stubClassifier{}
	resolver := resolve.New(s, resolve.DefaultConfig(), zap.NewNop())
	eng := New(s, resolver, stub, reliability.DefaultConfig(), status.DefaultConfig(), DefaultConfig(), zap.NewNop())
	return &testRig{engine: eng, store: s, stub: stub}
}

func newsItem(id string, source model.SourceKind, tier int, published time.Time) model.NewsItem {
	return model.NewsItem{
		ID:          id,
		Source:      source,
		PublishedAt: published,
		Tier:        tier,
		Title:       "transfer report " + id,
	}
}

func talksEvent(player string, conf float64) model.ClassifiedEvent {
	return model.ClassifiedEvent{
		Type:       model.EventTalks,
		Players:    []model.PlayerMention{{Name: player}},
		Confidence: conf,
		Summary:    "talks report for " + player,
	}
}

var _ classifier.Client = (*stubClassifier)(nil)

func TestIngestNewPlayerScenario(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(item.ID, model.ClassifiedEvent{
		Type:       model.EventMeeting,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso", CurrentClub: "Real Betis"}},
		Clubs:      []model.ClubMention{{Name: "Tottenham", Role: model.RoleInterested}},
		Confidence: 80,
		Summary:    "Clubs met over Cardoso deal.",
	})

	results, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, model.OutcomeEntryCreated, res.Outcome)
	assert.Equal(t, model.StatusDeveloping, res.Status)
	assert.InDelta(t, 56.0, res.Confidence, 0.001) // tier-2 base 70 x 0.8

	link, err := rig.engine.GetPlayerLink(ctx, res.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, "Johnny Cardoso", link.DisplayName)
	assert.Equal(t, "Real Betis", link.CurrentClub)
	require.Len(t, link.Timeline, 1)
	assert.Equal(t, model.EventMeeting, link.Timeline[0].Type)
	require.Len(t, link.RelatedClubs, 1)
	assert.Equal(t, model.RoleInterested, link.RelatedClubs[0].Role)
}

func TestIngestIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(item.ID, talksEvent("Johnny Cardoso", 80))

	first, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, model.OutcomeEntryExtended, second[0].Outcome)
	assert.Equal(t, first[0].EntryID, second[0].EntryID)

	link, err := rig.engine.GetPlayerLink(ctx, first[0].PlayerID)
	require.NoError(t, err)
	require.Len(t, link.Timeline, 1)
	assert.Equal(t, []string{item.ID}, link.Timeline[0].SourceItems)
}

func TestIngestRemintsCollidingID(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 5, 0, 0, time.UTC)

	// Two distinct same-minute posts arriving under one id must both survive;
	// the second is reminted onto the next free sequence.
	first := newsItem("r-202608301005-000", model.SourceReddit, 4, published)
	first.URL = "https://www.reddit.com/r/coys/comments/a/postA/"
	first.Title = "Medical booked for Cardoso"
	rig.stub.set(first.ID, talksEvent("Johnny Cardoso", 70))

	second := newsItem("r-202608301005-000", model.SourceReddit, 4, published.Add(30*time.Second))
	second.URL = "https://www.reddit.com/r/coys/comments/b/postB/"
	second.Title = "Bid lodged for Cardoso"
	rig.stub.set("r-202608301005-001", talksEvent("Johnny Cardoso", 70))

	results, err := rig.engine.Ingest(ctx, first)
	require.NoError(t, err)
	require.Len(t, results, 1)
	playerID := results[0].PlayerID

	results, err = rig.engine.Ingest(ctx, second)
	require.NoError(t, err)
	require.Len(t, results, 1)

	storedA, err := rig.store.GetNewsItem(ctx, "r-202608301005-000")
	require.NoError(t, err)
	assert.Equal(t, first.URL, storedA.URL)
	storedB, err := rig.store.GetNewsItem(ctx, "r-202608301005-001")
	require.NoError(t, err)
	assert.Equal(t, second.URL, storedB.URL)

	// Both reports cite into the timeline under their final ids.
	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, link.Timeline, 1)
	assert.ElementsMatch(t,
		[]string{"r-202608301005-000", "r-202608301005-001"},
		link.Timeline[0].SourceItems)

	// Refetching the second post under its original id is still a duplicate,
	// not a third item.
	refetched := second
	res, err := rig.engine.Ingest(ctx, refetched)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, model.OutcomeEntryExtended, res[0].Outcome)
	link, err = rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, link.Timeline, 1)
	assert.Len(t, link.Timeline[0].SourceItems, 2)
}

func TestOfficialOverridesAndRetainsHistory(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	meeting := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(meeting.ID, model.ClassifiedEvent{
		Type:       model.EventMeeting,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso"}},
		Confidence: 80,
		Summary:    "Clubs met.",
	})
	results, err := rig.engine.Ingest(ctx, meeting)
	require.NoError(t, err)
	playerID := results[0].PlayerID

	official := newsItem("o-202608311200-001", model.SourceOfficial, 0, published.AddDate(0, 0, 1))
	rig.stub.set(official.ID, model.ClassifiedEvent{
		Type:       model.EventOfficial,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso"}},
		Confidence: 99,
		Summary:    "Club confirms signing.",
	})
	results, err = rig.engine.Ingest(ctx, official)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, playerID, results[0].PlayerID)
	assert.Equal(t, model.StatusOfficial, results[0].Status)
	assert.GreaterOrEqual(t, results[0].Confidence, 90.0)

	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, link.Timeline, 2)
	assert.Equal(t, model.EventMeeting, link.Timeline[0].Type)
	assert.Equal(t, model.EventOfficial, link.Timeline[1].Type)
}

func TestDenialKillsRumor(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Weak enough (tier-4 base 30 x 0.15 = 4.5) to stay below the advance
	// delta, so the link sits at rumor.
	rumor := newsItem("r-202608301000-001", model.SourceReddit, 4, published)
	rig.stub.set(rumor.ID, talksEvent("Johnny Cardoso", 15))
	results, err := rig.engine.Ingest(ctx, rumor)
	require.NoError(t, err)
	playerID := results[0].PlayerID
	assert.Equal(t, model.StatusRumor, results[0].Status)

	denial := newsItem("p-202608301200-001", model.SourcePress, 3, published.Add(2*time.Hour))
	rig.stub.set(denial.ID, model.ClassifiedEvent{
		Type:       model.EventDenial,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso"}},
		Confidence: 90,
		Summary:    "Club denies interest.",
	})
	results, err = rig.engine.Ingest(ctx, denial)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDead, results[0].Status)

	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDead, link.Status)
	assert.Len(t, link.Timeline, 2)
}

func TestDedupWindow(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	first := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(first.ID, talksEvent("Johnny Cardoso", 70))
	results, err := rig.engine.Ingest(ctx, first)
	require.NoError(t, err)
	playerID := results[0].PlayerID

	// Same story 12h later from a different source merges in.
	corroborating := newsItem("p-202608302200-001", model.SourcePress, 1, published.Add(12*time.Hour))
	rig.stub.set(corroborating.ID, talksEvent("Johnny Cardoso", 80))
	results, err = rig.engine.Ingest(ctx, corroborating)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeEntryExtended, results[0].Outcome)

	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, link.Timeline, 1)
	assert.ElementsMatch(t, []string{first.ID, corroborating.ID}, link.Timeline[0].SourceItems)
	// Tier-1 x 0.8 = 72 beats tier-2 x 0.7 = 49; highest report wins.
	assert.InDelta(t, 72.0, link.Timeline[0].Confidence, 0.001)

	// Same-type report outside the window starts a fresh entry.
	late := newsItem("f-202609051000-001", model.SourceRSS, 2, published.AddDate(0, 0, 6))
	rig.stub.set(late.ID, talksEvent("Johnny Cardoso", 70))
	results, err = rig.engine.Ingest(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeEntryCreated, results[0].Outcome)

	link, err = rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	assert.Len(t, link.Timeline, 2)
}

func TestAmbiguousMentionQueued(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	for _, e := range []model.Entity{
		{ID: "pl-1", Kind: model.KindPlayer, Name: "Nico Gonzalez", Confirmed: true},
		{ID: "pl-2", Kind: model.KindPlayer, Name: "Nico Gonzales", Confirmed: true},
	} {
		require.NoError(t, rig.store.CreateEntity(ctx, e))
	}

	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(item.ID, talksEvent("Nico Gonzale", 70))

	results, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	assert.Empty(t, results)

	entries, err := rig.store.ListReview(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, item.ID, entries[0].NewsID)
	assert.Equal(t, "Nico Gonzale", entries[0].Mention)

	// The item stays unlinked for reprocessing after manual linking.
	unlinked, err := rig.store.ListNewsItems(ctx, store.NewsFilter{Unlinked: true})
	require.NoError(t, err)
	assert.Len(t, unlinked, 1)
}

func TestClassifierOutagePropagates(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	// No stub registered: classifier reports unavailable.

	_, err := rig.engine.Ingest(ctx, item)
	assert.True(t, eris.Is(err, model.ErrClassificationUnavailable))
}

func TestDestinationReplacesInterested(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	first := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	ev := talksEvent("Johnny Cardoso", 70)
	ev.Clubs = []model.ClubMention{{Name: "Tottenham", Role: model.RoleInterested}}
	rig.stub.set(first.ID, ev)
	results, err := rig.engine.Ingest(ctx, first)
	require.NoError(t, err)
	playerID := results[0].PlayerID

	second := newsItem("f-202609011000-001", model.SourceRSS, 1, published.AddDate(0, 0, 2))
	ev2 := model.ClassifiedEvent{
		Type:       model.EventAgreement,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso"}},
		Clubs:      []model.ClubMention{{Name: "Tottenham", Role: model.RoleDestination}},
		Confidence: 85,
		Summary:    "Deal agreed with Tottenham.",
	}
	rig.stub.set(second.ID, ev2)
	_, err = rig.engine.Ingest(ctx, second)
	require.NoError(t, err)

	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	require.Len(t, link.RelatedClubs, 1)
	assert.Equal(t, model.RoleDestination, link.RelatedClubs[0].Role)
	assert.Equal(t, "Tottenham", link.RelatedClubs[0].Name)
}

func TestManualOverride(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	rig.stub.set(item.ID, talksEvent("Johnny Cardoso", 70))
	results, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	playerID := results[0].PlayerID

	dead := model.StatusDead
	link, err := rig.engine.ManualOverride(ctx, playerID, Override{
		Status: &dead,
		Note:   "duplicate of another record",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDead, link.Status)
	require.Len(t, link.Timeline, 2)
	last := link.Timeline[len(link.Timeline)-1]
	assert.Equal(t, model.EventManual, last.Type)
	assert.Contains(t, last.Detail, "duplicate of another record")

	_, err = rig.engine.ManualOverride(ctx, "pl-missing", Override{Note: "x"})
	assert.True(t, eris.Is(err, model.ErrNotFound))
}

func TestConcurrentMergesSamePlayer(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Seed the player so concurrent ingests resolve to one entity.
	require.NoError(t, rig.store.CreateEntity(ctx, model.Entity{
		ID: "pl-1", Kind: model.KindPlayer, Name: "Johnny Cardoso", Confirmed: true,
	}))

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		item := newsItem(model.NewsID(model.SourceRSS, published, i), model.SourceRSS, 2, published.Add(time.Duration(i)*time.Minute))
		item.URL = ""
		rig.stub.set(item.ID, talksEvent("Johnny Cardoso", 70))
		wg.Add(1)
		go func(it model.NewsItem) {
			defer wg.Done()
			_, err := rig.engine.Ingest(ctx, it)
			assert.NoError(t, err)
		}(item)
	}
	wg.Wait()

	link, err := rig.engine.GetPlayerLink(ctx, "pl-1")
	require.NoError(t, err)
	// All eight reports land inside one dedup window: exactly one entry,
	// citing every source.
	require.Len(t, link.Timeline, 1)
	assert.Len(t, link.Timeline[0].SourceItems, n)
}

func TestSweepArchivesStale(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	item := newsItem("f-202608301000-001", model.SourceRSS, 1, published)
	ev := model.ClassifiedEvent{
		Type:       model.EventMedical,
		Players:    []model.PlayerMention{{Name: "Johnny Cardoso"}},
		Confidence: 90,
		Summary:    "Medical booked.",
	}
	rig.stub.set(item.ID, ev)
	// Pin the clock so LastUpdated is anchored to the published date and
	// the staleness math below does not depend on the real wall clock.
	rig.engine.now = func() time.Time { return published }
	results, err := rig.engine.Ingest(ctx, item)
	require.NoError(t, err)
	playerID := results[0].PlayerID
	assert.Equal(t, model.StatusHereWeGo, results[0].Status)

	// Six days idle: under the 7-day here_we_go threshold, untouched.
	rig.engine.now = func() time.Time { return published.AddDate(0, 0, 6) }
	archived, err := rig.engine.Sweep(ctx, DefaultSweepPolicy())
	require.NoError(t, err)
	assert.Empty(t, archived)

	// Eight days idle: archived with a synthetic zero-confidence entry.
	rig.engine.now = func() time.Time { return published.AddDate(0, 0, 8) }
	archived, err = rig.engine.Sweep(ctx, DefaultSweepPolicy())
	require.NoError(t, err)
	assert.Equal(t, []string{playerID}, archived)

	link, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDead, link.Status)
	last := link.Timeline[len(link.Timeline)-1]
	assert.Equal(t, model.EventManual, last.Type)
	assert.Equal(t, "archived: stale", last.Detail)
	assert.Zero(t, last.Confidence)

	// Sweeping again archives nothing further.
	archived, err = rig.engine.Sweep(ctx, DefaultSweepPolicy())
	require.NoError(t, err)
	assert.Empty(t, archived)
	again, err := rig.engine.GetPlayerLink(ctx, playerID)
	require.NoError(t, err)
	assert.Equal(t, len(link.Timeline), len(again.Timeline))
}

func TestReprocessUnlinked(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	published := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Stored but never linked: classifier had no stub the first time.
	item := newsItem("f-202608301000-001", model.SourceRSS, 2, published)
	_, err := rig.store.PutNewsItem(ctx, item)
	require.NoError(t, err)

	noSignal := newsItem("f-202608301000-002", model.SourceRSS, 2, published)
	noSignal.URL = "https://example.com/other"
	_, err = rig.store.PutNewsItem(ctx, noSignal)
	require.NoError(t, err)

	rig.stub.set(item.ID, talksEvent("Johnny Cardoso", 70))
	rig.stub.set(noSignal.ID, model.ClassifiedEvent{
		Type:       model.EventOther,
		Confidence: 5,
		Summary:    "no transfer signal",
	})

	n, err := rig.engine.ReprocessUnlinked(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	unlinked, err := rig.store.ListNewsItems(ctx, store.NewsFilter{Unlinked: true})
	require.NoError(t, err)
	require.Len(t, unlinked, 1)
	assert.Equal(t, noSignal.ID, unlinked[0].ID)
}
