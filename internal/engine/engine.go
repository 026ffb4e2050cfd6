// Package engine implements the signal aggregation core: it takes classified
// news events, resolves them to players and clubs, and merges them into
// per-player transfer records with derived status and confidence. Writes are
// serialized per player; everything that touches the network happens before
// the lock is taken.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/reliability"
	"github.com/n17-labs/transferwatch/internal/resilience"
	"github.com/n17-labs/transferwatch/internal/resolve"
	"github.com/n17-labs/transferwatch/internal/status"
	"github.com/n17-labs/transferwatch/internal/store"
	"github.com/n17-labs/transferwatch/pkg/classifier"
)

// Config tunes the merge engine.
type Config struct {
	// DedupWindowHours is the sliding window within which two same-type
	// events for one player collapse into a single timeline entry.
	DedupWindowHours int `yaml:"dedup_window_hours" mapstructure:"dedup_window_hours"`
	// LockTimeoutSeconds bounds how long a merge waits on a contended
	// per-player lock before failing with a retryable conflict.
	LockTimeoutSeconds int `yaml:"lock_timeout_seconds" mapstructure:"lock_timeout_seconds"`
	// ReprocessWorkers is the concurrency of batch reprocessing runs.
	ReprocessWorkers int `yaml:"reprocess_workers" mapstructure:"reprocess_workers"`
}

func DefaultConfig() Config {
	return Config{
		DedupWindowHours:   48,
		LockTimeoutSeconds: 10,
		ReprocessWorkers:   4,
	}
}

func (c Config) dedupWindow() time.Duration {
	if c.DedupWindowHours <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(c.DedupWindowHours) * time.Hour
}

func (c Config) lockTimeout() time.Duration {
	if c.LockTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.LockTimeoutSeconds) * time.Second
}

// Engine is the aggregation core. Safe for concurrent use.
type Engine struct {
	store      store.Store
	resolver   *resolve.Resolver
	classifier classifier.Client
	relCfg     reliability.Config
	stCfg      status.Config
	cfg        Config
	locks      *lockRegistry
	log        *zap.Logger
	now        func() time.Time
}

func New(s store.Store, r *resolve.Resolver, c classifier.Client, relCfg reliability.Config, stCfg status.Config, cfg Config, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.L()
	}
	return &Engine{
		store:      s,
		resolver:   r,
		classifier: c,
		relCfg:     relCfg,
		stCfg:      stCfg,
		cfg:        cfg,
		locks:      newLockRegistry(),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest is the sole entry point for turning a raw news item into timeline
// state: store, classify, resolve, then merge per mentioned player. It
// returns one MergeResult per player the item was linked to.
func (e *Engine) Ingest(ctx context.Context, item model.NewsItem) ([]model.MergeResult, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	item, stored, err := e.storeNewsItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if !stored {
		return nil, nil
	}

	event, err := e.classifier.Classify(ctx, item)
	if err != nil {
		return nil, err
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if len(event.Players) == 0 {
		e.log.Debug("no player mentions", zap.String("news_id", item.ID), zap.String("event_type", string(event.Type)))
		return nil, nil
	}

	normConf, err := e.relCfg.Score(item.Tier, event.Confidence/100)
	if err != nil {
		return nil, err
	}

	// Resolve every mention before any lock is taken. Resolution may hit
	// the store and, transitively, nothing here may run under a player lock.
	type resolved struct {
		player  *model.Entity
		mention model.PlayerMention
	}
	var targets []resolved
	for _, mention := range event.Players {
		player, err := e.resolver.ResolvePlayer(ctx, mention)
		if err != nil {
			if eris.Is(err, model.ErrAmbiguousMention) || eris.Is(err, model.ErrUnresolvedEntity) {
				if qErr := e.store.EnqueueReview(ctx, resilience.ReviewEntry{
					NewsID:    item.ID,
					Mention:   mention.Name,
					Kind:      string(model.KindPlayer),
					Reason:    eris.Cause(err).Error(),
					Error:     err.Error(),
					ErrorType: resilience.ClassifyError(err),
					CreatedAt: e.now(),
				}); qErr != nil {
					return nil, qErr
				}
				e.log.Warn("mention parked for manual linking",
					zap.String("news_id", item.ID),
					zap.String("mention", mention.Name))
				continue
			}
			return nil, err
		}
		targets = append(targets, resolved{player: player, mention: mention})
	}

	clubs, err := e.resolveClubs(ctx, event.Clubs)
	if err != nil {
		return nil, err
	}

	var results []model.MergeResult
	for _, tgt := range targets {
		res, err := e.merge(ctx, tgt.player, event, clubs, normConf, item.PublishedAt)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}

	if len(results) > 0 {
		if err := e.store.MarkNewsLinked(ctx, item.ID, true); err != nil {
			return results, err
		}
	}
	return results, nil
}

// newsSeqSpace is the size of the per-minute sequence namespace embedded in
// news ids.
const newsSeqSpace = 1000

// storeNewsItem persists the item, resolving id collisions against the store.
// A stored item with the same id but a different report gets the incoming item
// reminted onto the next free sequence for its minute. Returns the item under
// its final id and whether the pipeline should process it; a false with nil
// error means the report was already seen.
func (e *Engine) storeNewsItem(ctx context.Context, item model.NewsItem) (model.NewsItem, bool, error) {
	seq, hasSeq := parseNewsSeq(item.ID)
	for attempt := 0; attempt < newsSeqSpace; attempt++ {
		created, err := e.store.PutNewsItem(ctx, item)
		if err != nil {
			return item, false, err
		}
		if created {
			if attempt > 0 {
				e.log.Warn("news id collision resolved",
					zap.String("news_id", item.ID),
					zap.Int("attempts", attempt))
			}
			return item, true, nil
		}
		stored, err := e.store.GetNewsItem(ctx, item.ID)
		if err != nil {
			if eris.Is(err, model.ErrNotFound) {
				// Id free but the insert was rejected: the URL was already
				// seen under another id, a plain duplicate.
				e.log.Debug("skipping duplicate url", zap.String("news_id", item.ID), zap.String("url", item.URL))
				return item, false, nil
			}
			return item, false, err
		}
		if sameReport(stored, item) {
			// Reprocess of a stored item; the merge path is idempotent.
			return item, true, nil
		}
		if !hasSeq {
			return item, false, eris.Wrapf(model.ErrInvalidInput, "news item %s: id held by a different report", item.ID)
		}
		seq = (seq + 1) % newsSeqSpace
		item.ID = model.NewsID(item.Source, item.PublishedAt, seq)
	}
	return item, false, eris.Wrapf(model.ErrInvalidInput, "news item %s: sequence space exhausted for minute", item.ID)
}

// sameReport decides whether a stored item and an incoming item describe the
// same report. URL is the authoritative identity when either side carries one.
func sameReport(stored *model.NewsItem, incoming model.NewsItem) bool {
	if stored.URL != "" || incoming.URL != "" {
		return stored.URL == incoming.URL
	}
	return stored.Source == incoming.Source && stored.Title == incoming.Title
}

// parseNewsSeq extracts the trailing sequence from a news id.
func parseNewsSeq(id string) (int, bool) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	seq, err := strconv.Atoi(id[i+1:])
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

type resolvedClub struct {
	entity *model.Entity
	role   model.ClubRole
}

func (e *Engine) resolveClubs(ctx context.Context, mentions []model.ClubMention) ([]resolvedClub, error) {
	var out []resolvedClub
	for _, m := range mentions {
		ent, err := e.resolver.ResolveClub(ctx, m)
		if err != nil {
			if eris.Is(err, model.ErrAmbiguousMention) {
				e.log.Warn("ambiguous club mention skipped", zap.String("mention", m.Name))
				continue
			}
			return nil, err
		}
		role := m.Role
		if role == "" {
			role = model.RoleInterested
		}
		out = append(out, resolvedClub{entity: ent, role: role})
	}
	return out, nil
}

// merge runs steps 1-6 of the merge contract under the player's lock.
func (e *Engine) merge(ctx context.Context, player *model.Entity, event *model.ClassifiedEvent, clubs []resolvedClub, normConf float64, occurredAt time.Time) (*model.MergeResult, error) {
	release, err := e.locks.acquire(ctx, player.ID, e.cfg.lockTimeout())
	if err != nil {
		return nil, err
	}
	defer release()

	link, err := e.store.GetPlayerLink(ctx, player.ID)
	if eris.Is(err, model.ErrNotFound) {
		link = model.NewPlayerLink(player.ID, player.Name, e.now())
		if player.Club != "" {
			link.CurrentClub = player.Club
		}
		err = nil
	}
	if err != nil {
		return nil, err
	}

	preAggregate := link.Confidence

	outcome, entry := e.upsertEntry(link, event, normConf, occurredAt)
	link.SortTimeline()
	link.Confidence = aggregateConfidence(link)

	tr, err := status.Apply(e.stCfg, link.Status, preAggregate, entry.Type, entry.Confidence)
	if err != nil {
		return nil, err
	}
	if tr.Reopened {
		e.log.Warn("official event reopened dead link",
			zap.String("player_id", link.PlayerID),
			zap.String("entry_id", entry.ID))
	}
	link.Status = tr.To

	e.mergeClubs(link, clubs)
	e.mergeDetails(link, event, normConf, preAggregate)

	link.LastUpdated = e.now()
	if err := e.store.PutPlayerLink(ctx, link); err != nil {
		return nil, err
	}

	e.log.Info("merged event",
		zap.String("player_id", link.PlayerID),
		zap.String("event_type", string(entry.Type)),
		zap.String("outcome", string(outcome)),
		zap.String("status", string(link.Status)),
		zap.Float64("confidence", link.Confidence))

	return &model.MergeResult{
		PlayerID:   link.PlayerID,
		Outcome:    outcome,
		EntryID:    entry.ID,
		Status:     link.Status,
		Confidence: link.Confidence,
	}, nil
}

// upsertEntry either extends an existing same-type entry within the dedup
// window or appends a new one. Returns the affected entry.
func (e *Engine) upsertEntry(link *model.PlayerLink, event *model.ClassifiedEvent, normConf float64, occurredAt time.Time) (model.MergeOutcome, *model.TimelineEntry) {
	window := e.cfg.dedupWindow()
	for i := range link.Timeline {
		entry := &link.Timeline[i]
		if entry.Type != event.Type {
			continue
		}
		delta := occurredAt.Sub(entry.OccurredAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > window {
			continue
		}
		// Same story within the window. Corroboration extends the entry;
		// most reliable report wins the detail text.
		for _, id := range event.SourceItems {
			if !entry.HasSource(id) {
				entry.SourceItems = append(entry.SourceItems, id)
			}
		}
		if normConf > entry.Confidence {
			entry.Confidence = normConf
			if event.Summary != "" {
				entry.Detail = event.Summary
			}
		}
		return model.OutcomeEntryExtended, entry
	}

	link.Timeline = append(link.Timeline, model.TimelineEntry{
		ID:          uuid.New().String(),
		Type:        event.Type,
		Detail:      event.Summary,
		Confidence:  normConf,
		OccurredAt:  occurredAt.UTC(),
		SourceItems: append([]string(nil), event.SourceItems...),
	})
	return model.OutcomeEntryCreated, &link.Timeline[len(link.Timeline)-1]
}

// aggregateConfidence derives the link-level belief score: the most recent
// evidence dominates, but a strong official statement or denial is never
// displaced by a weaker newer rumor. Manual entries carry no evidence weight.
func aggregateConfidence(link *model.PlayerLink) float64 {
	var latest, anchored float64
	var latestAt time.Time
	for _, entry := range link.Timeline {
		if entry.Type == model.EventManual {
			continue
		}
		if !entry.OccurredAt.Before(latestAt) {
			latestAt = entry.OccurredAt
			latest = entry.Confidence
		}
		if entry.Type == model.EventOfficial || entry.Type == model.EventDenial {
			if entry.Confidence > anchored {
				anchored = entry.Confidence
			}
		}
	}
	if anchored > latest {
		return anchored
	}
	return latest
}

// mergeClubs folds resolved club mentions into the link. Interested clubs
// accumulate; a destination replaces a prior interested tag for the same
// club; a current-club mention refreshes the player's club field.
func (e *Engine) mergeClubs(link *model.PlayerLink, clubs []resolvedClub) {
	for _, rc := range clubs {
		switch rc.role {
		case model.RoleCurrent:
			link.CurrentClub = rc.entity.Name
			addRelatedClub(link, rc.entity, model.RoleCurrent)
		case model.RoleDestination:
			dropRelatedClub(link, rc.entity.ID, model.RoleInterested)
			addRelatedClub(link, rc.entity, model.RoleDestination)
		default:
			// A club already promoted to destination does not demote back.
			if hasRelatedClub(link, rc.entity.ID, model.RoleDestination) {
				continue
			}
			addRelatedClub(link, rc.entity, model.RoleInterested)
		}
	}
}

func hasRelatedClub(link *model.PlayerLink, clubID string, role model.ClubRole) bool {
	for _, rc := range link.RelatedClubs {
		if rc.ClubID == clubID && rc.Role == role {
			return true
		}
	}
	return false
}

func addRelatedClub(link *model.PlayerLink, club *model.Entity, role model.ClubRole) {
	if hasRelatedClub(link, club.ID, role) {
		return
	}
	link.RelatedClubs = append(link.RelatedClubs, model.RelatedClub{
		ClubID: club.ID,
		Name:   club.Name,
		Role:   role,
	})
}

func dropRelatedClub(link *model.PlayerLink, clubID string, role model.ClubRole) {
	out := link.RelatedClubs[:0]
	for _, rc := range link.RelatedClubs {
		if rc.ClubID == clubID && rc.Role == role {
			continue
		}
		out = append(out, rc)
	}
	link.RelatedClubs = out
}

// mergeDetails updates direction, move type and price. Unset fields are
// filled by any event; set fields only yield to better-grounded reports.
func (e *Engine) mergeDetails(link *model.PlayerLink, event *model.ClassifiedEvent, normConf, preAggregate float64) {
	stronger := normConf > preAggregate
	if event.Direction != model.DirectionUnknown && (link.Direction == model.DirectionUnknown || stronger) {
		link.Direction = event.Direction
	}
	if event.MoveType != model.MoveUnclear && (link.MoveType == model.MoveUnclear || stronger) {
		link.MoveType = event.MoveType
	}
	if event.Price != nil && (link.Price == nil || stronger) {
		price := *event.Price
		link.Price = &price
	}
}

// GetPlayerLink returns the aggregated record for one player.
func (e *Engine) GetPlayerLink(ctx context.Context, playerID string) (*model.PlayerLink, error) {
	return e.store.GetPlayerLink(ctx, playerID)
}

// Override is the set of operator-editable fields for ManualOverride. Nil
// pointers leave the corresponding field untouched.
type Override struct {
	Status      *model.Status
	Direction   *model.Direction
	MoveType    *model.MoveType
	CurrentClub *string
	Price       *model.Price
	Note        string
}

// ManualOverride applies an operator correction, bypassing the monotonic
// state machine. The edit is itself recorded as a manual timeline entry so
// the audit trail stays complete.
func (e *Engine) ManualOverride(ctx context.Context, playerID string, o Override) (*model.PlayerLink, error) {
	if o.Status != nil && !model.ValidStatus(*o.Status) {
		return nil, eris.Wrapf(model.ErrInvalidInput, "override: unknown status %q", *o.Status)
	}

	release, err := e.locks.acquire(ctx, playerID, e.cfg.lockTimeout())
	if err != nil {
		return nil, err
	}
	defer release()

	link, err := e.store.GetPlayerLink(ctx, playerID)
	if err != nil {
		return nil, err
	}

	var changes []string
	if o.Status != nil && *o.Status != link.Status {
		changes = append(changes, fmt.Sprintf("status %s -> %s", link.Status, *o.Status))
		link.Status = *o.Status
	}
	if o.Direction != nil && *o.Direction != link.Direction {
		changes = append(changes, fmt.Sprintf("direction -> %s", *o.Direction))
		link.Direction = *o.Direction
	}
	if o.MoveType != nil && *o.MoveType != link.MoveType {
		changes = append(changes, fmt.Sprintf("move_type -> %s", *o.MoveType))
		link.MoveType = *o.MoveType
	}
	if o.CurrentClub != nil && *o.CurrentClub != link.CurrentClub {
		changes = append(changes, fmt.Sprintf("current_club -> %s", *o.CurrentClub))
		link.CurrentClub = *o.CurrentClub
	}
	if o.Price != nil {
		changes = append(changes, fmt.Sprintf("price -> %.0f %s", o.Price.Amount, o.Price.Currency))
		price := *o.Price
		link.Price = &price
	}

	detail := strings.TrimSpace(o.Note)
	if detail == "" {
		detail = "operator override"
	}
	if len(changes) > 0 {
		detail = detail + " (" + strings.Join(changes, ", ") + ")"
	}

	now := e.now()
	link.Timeline = append(link.Timeline, model.TimelineEntry{
		ID:         uuid.New().String(),
		Type:       model.EventManual,
		Detail:     detail,
		OccurredAt: now,
	})
	link.LastUpdated = now

	if err := e.store.PutPlayerLink(ctx, link); err != nil {
		return nil, err
	}
	e.log.Info("manual override applied",
		zap.String("player_id", playerID),
		zap.String("detail", detail))
	return link, nil
}
