package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// EventType is the fixed classification taxonomy for transfer events.
type EventType string

const (
	EventMeeting   EventType = "meeting"
	EventBid       EventType = "bid"
	EventTalks     EventType = "talks"
	EventMedical   EventType = "medical"
	EventAgreement EventType = "agreement"
	EventOfficial  EventType = "official"
	EventDenial    EventType = "denial"
	EventOther     EventType = "other"

	// EventManual marks operator overrides and synthetic maintenance
	// entries (e.g. staleness archival) in the timeline.
	EventManual EventType = "manual"
)

// AllEventTypes returns the taxonomy the classifier may emit. EventManual is
// excluded: it is reserved for the engine itself.
func AllEventTypes() []EventType {
	return []EventType{
		EventMeeting, EventBid, EventTalks, EventMedical,
		EventAgreement, EventOfficial, EventDenial, EventOther,
	}
}

// ParseEventType validates a classifier-emitted event type string.
func ParseEventType(s string) (EventType, bool) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AllEventTypes() {
		if t == et {
			return et, true
		}
	}
	return "", false
}

// MoveType describes the structure of a rumored move.
type MoveType string

const (
	MoveTransfer           MoveType = "transfer"
	MoveLoan               MoveType = "loan"
	MoveLoanWithOption     MoveType = "loan_with_option"
	MoveLoanWithObligation MoveType = "loan_with_obligation"
	MoveUnclear            MoveType = "unclear"
)

// Direction says whether the player is rumored to be arriving or leaving.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
	DirectionUnknown  Direction = "unknown"
)

// Price is a rumored fee.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	AddOns   float64 `json:"add_ons,omitempty"`
}

// PlayerMention is a player reference extracted from free text, not yet
// resolved to a canonical entity.
type PlayerMention struct {
	Name        string `json:"name"`
	CurrentClub string `json:"current_club,omitempty"`
}

// ClubMention is a club reference extracted from free text.
type ClubMention struct {
	Name string   `json:"name"`
	Role ClubRole `json:"role,omitempty"`
}

// ClassifiedEvent is the transient output of the external classifier,
// consumed exactly once by the merge engine.
type ClassifiedEvent struct {
	Type        EventType       `json:"type"`
	Players     []PlayerMention `json:"players"`
	Clubs       []ClubMention   `json:"clubs"`
	MoveType    MoveType        `json:"move_type"`
	Direction   Direction       `json:"direction"`
	Price       *Price          `json:"price,omitempty"`
	Confidence  float64         `json:"confidence"` // [0,100], AI-derived
	Summary     string          `json:"summary"`
	SourceItems []string        `json:"source_items"` // NewsItem ids
}

// Validate rejects malformed classifier output before it reaches the engine.
func (e *ClassifiedEvent) Validate() error {
	if _, ok := ParseEventType(string(e.Type)); !ok {
		return eris.Wrapf(ErrInvalidInput, "classified event: unknown type %q", e.Type)
	}
	if e.Confidence < 0 || e.Confidence > 100 {
		return eris.Wrapf(ErrInvalidInput, "classified event: confidence %f out of [0,100]", e.Confidence)
	}
	if len(e.SourceItems) == 0 {
		return eris.Wrap(ErrInvalidInput, "classified event: no source items")
	}
	for _, p := range e.Players {
		if strings.TrimSpace(p.Name) == "" {
			return eris.Wrap(ErrInvalidInput, "classified event: empty player name")
		}
	}
	return nil
}
