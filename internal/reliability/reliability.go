// Package reliability maps source tiers and AI confidence into a single
// normalized confidence score. Pure functions, no state beyond the
// configured base table.
package reliability

import (
	"github.com/rotisserie/eris"

	"github.com/n17-labs/transferwatch/internal/model"
)

// Config holds the tier base table and the official-source floor.
type Config struct {
	// OfficialFloor is the minimum normalized confidence for tier-0 items,
	// applied regardless of AI confidence. Official announcements are
	// treated as ground truth.
	OfficialFloor float64 `yaml:"official_floor" mapstructure:"official_floor"`

	// Bases maps tier → base confidence for non-official tiers. The
	// normalized score is base(tier) * ai_confidence, clamped to [0,100].
	Bases map[int]float64 `yaml:"bases" mapstructure:"bases"`
}

// DefaultConfig returns the standard tier table.
func DefaultConfig() Config {
	return Config{
		OfficialFloor: 90,
		Bases: map[int]float64{
			1: 90,
			2: 70,
			3: 50,
			4: 30,
			5: 15,
		},
	}
}

// Score computes the normalized confidence in [0,100] for a source tier and
// an AI confidence in [0,1]. Tier 0 always scores at least the official
// floor. Out-of-range inputs are rejected, never clamped past the declared
// bounds.
func (c Config) Score(tier int, aiConfidence float64) (float64, error) {
	if tier < 0 || tier > model.MaxTier {
		return 0, eris.Wrapf(model.ErrInvalidInput, "reliability: tier %d out of range [0,%d]", tier, model.MaxTier)
	}
	if aiConfidence < 0 || aiConfidence > 1 {
		return 0, eris.Wrapf(model.ErrInvalidInput, "reliability: ai confidence %f out of [0,1]", aiConfidence)
	}

	if tier == 0 {
		return clamp(c.OfficialFloor), nil
	}

	base, ok := c.Bases[tier]
	if !ok {
		return 0, eris.Wrapf(model.ErrInvalidInput, "reliability: no base configured for tier %d", tier)
	}
	return clamp(base * aiConfidence), nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Bucket is a coarse classification of a normalized confidence score.
type Bucket string

const (
	BucketConfirmed Bucket = "confirmed" // ≥ 90
	BucketLikely    Bucket = "likely"    // ≥ 65
	BucketRumour    Bucket = "rumour"    // ≥ 35
	BucketNoise     Bucket = "noise"     // < 35
)

// BucketFor maps a normalized confidence to its bucket.
func BucketFor(score float64) Bucket {
	switch {
	case score >= 90:
		return BucketConfirmed
	case score >= 65:
		return BucketLikely
	case score >= 35:
		return BucketRumour
	default:
		return BucketNoise
	}
}
