// Package status implements the player link status machine. Status only
// moves forward through rumor, developing, here_we_go, official; a denial
// can kill a link at any stage, and an official announcement overrides
// everything including a prior denial.
package status

import (
	"github.com/rotisserie/eris"

	"github.com/n17-labs/transferwatch/internal/model"
)

// Config tunes the transition rules.
type Config struct {
	// MinAdvanceDelta is how much an event's confidence must exceed the
	// link's aggregate confidence before the status may advance. Keeps a
	// single low-quality report from outrunning the consensus.
	MinAdvanceDelta float64 `yaml:"min_advance_delta" mapstructure:"min_advance_delta"`
	// DenialThreshold is the minimum event confidence for a denial to
	// move a link to dead. Weak denials are recorded but change nothing.
	DenialThreshold float64 `yaml:"denial_threshold" mapstructure:"denial_threshold"`
}

func DefaultConfig() Config {
	return Config{
		MinAdvanceDelta: 5,
		DenialThreshold: 40,
	}
}

// stageWeights orders the forward progression. Dead is outside the
// ordering; it is reached only through a denial.
var stageWeights = map[model.Status]int{
	model.StatusRumor:      1,
	model.StatusDeveloping: 2,
	model.StatusHereWeGo:   3,
	model.StatusOfficial:   4,
}

// eventTargets maps an event type to the status it argues for. Events
// missing here (denial, other, manual) carry no stage of their own.
var eventTargets = map[model.EventType]model.Status{
	model.EventTalks:     model.StatusDeveloping,
	model.EventMeeting:   model.StatusDeveloping,
	model.EventBid:       model.StatusDeveloping,
	model.EventMedical:   model.StatusHereWeGo,
	model.EventAgreement: model.StatusHereWeGo,
	model.EventOfficial:  model.StatusOfficial,
}

// Weight returns the forward-progression weight of a status, 0 for dead.
func Weight(s model.Status) int {
	return stageWeights[s]
}

// Transition describes the outcome of applying one event to a link.
type Transition struct {
	From model.Status
	To   model.Status
	// Reopened is set when an official announcement pulled a link out of
	// dead. Upstream logs these; they mean an earlier denial was wrong.
	Reopened bool
}

// Changed reports whether the event actually moved the status.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Apply computes the next status for a link given a classified event and the
// link's current aggregate confidence. It never mutates the link.
func Apply(cfg Config, current model.Status, aggConfidence float64, evType model.EventType, evConfidence float64) (Transition, error) {
	if !model.ValidStatus(current) {
		return Transition{}, eris.Wrapf(model.ErrInvalidInput, "status: unknown status %q", current)
	}
	tr := Transition{From: current, To: current}

	// Official announcements are ground truth. They land regardless of
	// confidence arithmetic and are the only way out of dead.
	if evType == model.EventOfficial {
		tr.To = model.StatusOfficial
		tr.Reopened = current == model.StatusDead
		return tr, nil
	}

	if current.Terminal() {
		return tr, nil
	}

	if evType == model.EventDenial {
		if evConfidence >= cfg.DenialThreshold {
			tr.To = model.StatusDead
		}
		return tr, nil
	}

	target, ok := eventTargets[evType]
	if !ok {
		return tr, nil
	}
	if stageWeights[target] <= stageWeights[current] {
		return tr, nil
	}
	if evConfidence <= aggConfidence+cfg.MinAdvanceDelta {
		return tr, nil
	}
	tr.To = target
	return tr, nil
}
