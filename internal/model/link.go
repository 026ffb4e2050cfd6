package model

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Status is a player link's position in the transfer state machine.
type Status string

const (
	StatusRumor      Status = "rumor"
	StatusDeveloping Status = "developing"
	StatusHereWeGo   Status = "here_we_go"
	StatusOfficial   Status = "official"
	StatusDead       Status = "dead"
)

// Terminal reports whether no further organic transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusOfficial || s == StatusDead
}

// ValidStatus reports whether s is a known state-machine value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusRumor, StatusDeveloping, StatusHereWeGo, StatusOfficial, StatusDead:
		return true
	}
	return false
}

// ClubRole tags a club's relationship to a player link.
type ClubRole string

const (
	RoleCurrent     ClubRole = "current"
	RoleInterested  ClubRole = "interested"
	RoleDestination ClubRole = "destination"
)

// RelatedClub is a club attached to a player link with a role tag.
// Unique per link by (ClubID, Role).
type RelatedClub struct {
	ClubID string   `json:"club_id"`
	Name   string   `json:"name"`
	Role   ClubRole `json:"role"`
}

// TimelineEntry is one evidence-backed event in a player's transfer record.
// Owned exclusively by its PlayerLink.
type TimelineEntry struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Detail      string    `json:"detail"`
	Confidence  float64   `json:"confidence"` // [0,100]
	OccurredAt  time.Time `json:"occurred_at"`
	SourceItems []string  `json:"source_items"` // supporting NewsItem ids, insertion order
}

// HasSource reports whether the entry already cites the given news item.
func (e *TimelineEntry) HasSource(newsID string) bool {
	for _, id := range e.SourceItems {
		if id == newsID {
			return true
		}
	}
	return false
}

// PlayerLink is the aggregated transfer record for one player. At most one
// exists per player id.
type PlayerLink struct {
	PlayerID     string          `json:"player_id"`
	DisplayName  string          `json:"display_name"`
	Status       Status          `json:"status"`
	Direction    Direction       `json:"direction"`
	MoveType     MoveType        `json:"move_type"`
	CurrentClub  string          `json:"current_club,omitempty"`
	RelatedClubs []RelatedClub   `json:"related_clubs,omitempty"`
	Price        *Price          `json:"price,omitempty"`
	Timeline     []TimelineEntry `json:"timeline"`
	Confidence   float64         `json:"confidence"` // aggregate, derived only
	LastUpdated  time.Time       `json:"last_updated"`
}

// NewPlayerLink creates a fresh record for a previously unseen player.
func NewPlayerLink(playerID, displayName string, now time.Time) *PlayerLink {
	return &PlayerLink{
		PlayerID:    playerID,
		DisplayName: displayName,
		Status:      StatusRumor,
		Direction:   DirectionUnknown,
		MoveType:    MoveUnclear,
		LastUpdated: now,
	}
}

// SortTimeline re-sorts entries chronologically by occurrence timestamp.
// Ties keep insertion order.
func (p *PlayerLink) SortTimeline() {
	sort.SliceStable(p.Timeline, func(i, j int) bool {
		return p.Timeline[i].OccurredAt.Before(p.Timeline[j].OccurredAt)
	})
}

// RelatedNews returns every news item id cited anywhere in the timeline,
// deduplicated, in timeline order.
func (p *PlayerLink) RelatedNews() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range p.Timeline {
		for _, id := range e.SourceItems {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Validate checks structural invariants. A stored record failing this check
// is corrupt and the engine must refuse to operate on it.
func (p *PlayerLink) Validate() error {
	if strings.TrimSpace(p.PlayerID) == "" {
		return eris.Wrap(ErrCorruptRecord, "player link: empty player id")
	}
	if !ValidStatus(p.Status) {
		return eris.Wrapf(ErrCorruptRecord, "player link %s: unknown status %q", p.PlayerID, p.Status)
	}
	if p.Confidence < 0 || p.Confidence > 100 {
		return eris.Wrapf(ErrCorruptRecord, "player link %s: aggregate confidence %f out of [0,100]", p.PlayerID, p.Confidence)
	}
	seen := make(map[string]bool, len(p.RelatedClubs))
	for _, rc := range p.RelatedClubs {
		key := rc.ClubID + "|" + string(rc.Role)
		if seen[key] {
			return eris.Wrapf(ErrCorruptRecord, "player link %s: duplicate related club (%s, %s)", p.PlayerID, rc.ClubID, rc.Role)
		}
		seen[key] = true
	}
	for _, e := range p.Timeline {
		if e.Confidence < 0 || e.Confidence > 100 {
			return eris.Wrapf(ErrCorruptRecord, "player link %s: entry %s confidence %f out of [0,100]", p.PlayerID, e.ID, e.Confidence)
		}
		if len(e.SourceItems) == 0 && e.Type != EventManual {
			return eris.Wrapf(ErrCorruptRecord, "player link %s: entry %s has no supporting items", p.PlayerID, e.ID)
		}
	}
	return nil
}

// MergeOutcome says what the merge engine did with an event.
type MergeOutcome string

const (
	OutcomeEntryCreated  MergeOutcome = "entry_created"
	OutcomeEntryExtended MergeOutcome = "entry_extended"
)

// MergeResult is returned by every merge call.
type MergeResult struct {
	PlayerID   string       `json:"player_id"`
	Outcome    MergeOutcome `json:"outcome"`
	EntryID    string       `json:"entry_id"`
	Status     Status       `json:"status"`
	Confidence float64      `json:"confidence"` // new aggregate
}
