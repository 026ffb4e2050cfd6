// Package resolve maps free-text player and club mentions onto canonical
// entities. Source text is messy: diacritics dropped, nicknames, partial
// names. Resolution is conservative; an ambiguous mention is an error for
// the caller to park, never a guess.
package resolve

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/store"
)

// Config tunes the fuzzy matching stage.
type Config struct {
	// MinSimilarity is the levenshtein similarity floor for a fuzzy match,
	// in [0,1]. Below it a mention is treated as unknown.
	MinSimilarity float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	// AmbiguityMargin is how close two candidate similarities must be for
	// the mention to count as ambiguous rather than a clear best match.
	AmbiguityMargin float64 `yaml:"ambiguity_margin" mapstructure:"ambiguity_margin"`
}

// DefaultConfig returns matching thresholds tuned on a season of Premier
// League rumor traffic.
func DefaultConfig() Config {
	return Config{
		MinSimilarity:   0.82,
		AmbiguityMargin: 0.04,
	}
}

// Resolver resolves mentions against the entity canon in the store.
type Resolver struct {
	store store.Store
	cfg   Config
	log   *zap.Logger
}

func New(s store.Store, cfg Config, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.L()
	}
	if cfg.MinSimilarity <= 0 {
		cfg.MinSimilarity = DefaultConfig().MinSimilarity
	}
	if cfg.AmbiguityMargin <= 0 {
		cfg.AmbiguityMargin = DefaultConfig().AmbiguityMargin
	}
	return &Resolver{store: s, cfg: cfg, log: log}
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize produces the canonical comparison form of a name: lowercase,
// diacritics folded, punctuation stripped, whitespace collapsed.
// "Kudus Mohammed" and "mohammed-kudus" normalize to token sets that
// compare equal under the matcher.
func Normalize(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	prevSpace := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
		case !prevSpace:
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// similarity compares two already-normalized names, order-insensitively.
// Token sets are sorted before the edit distance so that surname-first
// and surname-last renderings of the same player score identically.
func similarity(a, b string) float64 {
	return levenshtein.Similarity(sortTokens(a), sortTokens(b), nil)
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	for i := 1; i < len(tokens); i++ {
		for j := i; j > 0 && tokens[j] < tokens[j-1]; j-- {
			tokens[j], tokens[j-1] = tokens[j-1], tokens[j]
		}
	}
	return strings.Join(tokens, " ")
}

type candidate struct {
	entity model.Entity
	score  float64
}

// ResolvePlayer resolves a player mention to a canonical entity, creating an
// unconfirmed entity when the player is genuinely new to the system.
func (r *Resolver) ResolvePlayer(ctx context.Context, mention model.PlayerMention) (*model.Entity, error) {
	name := strings.TrimSpace(mention.Name)
	if name == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "resolve: empty player mention")
	}

	players, err := r.store.ListEntities(ctx, model.KindPlayer)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: list players")
	}

	ent, err := r.match(name, players)
	if err != nil {
		return nil, err
	}
	if ent != nil {
		return ent, nil
	}

	// New player. Created unconfirmed so an operator can merge or confirm.
	e := model.Entity{
		ID:        "pl-" + uuid.New().String(),
		Kind:      model.KindPlayer,
		Name:      name,
		Club:      strings.TrimSpace(mention.CurrentClub),
		Confirmed: false,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return nil, eris.Wrapf(err, "resolve: create player %q", name)
	}
	r.log.Info("created unconfirmed player entity",
		zap.String("entity_id", e.ID),
		zap.String("name", name))
	return &e, nil
}

// ResolveClub resolves a club mention, creating a canonical club on first
// sight. Clubs are a small, finite namespace; unlike players they do not
// need operator confirmation.
func (r *Resolver) ResolveClub(ctx context.Context, mention model.ClubMention) (*model.Entity, error) {
	name := strings.TrimSpace(mention.Name)
	if name == "" {
		return nil, eris.Wrap(model.ErrInvalidInput, "resolve: empty club mention")
	}

	clubs, err := r.store.ListEntities(ctx, model.KindClub)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: list clubs")
	}

	ent, err := r.match(name, clubs)
	if err != nil {
		return nil, err
	}
	if ent != nil {
		return ent, nil
	}

	e := model.Entity{
		ID:        "cl-" + uuid.New().String(),
		Kind:      model.KindClub,
		Name:      name,
		Confirmed: true,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return nil, eris.Wrapf(err, "resolve: create club %q", name)
	}
	r.log.Info("created club entity", zap.String("entity_id", e.ID), zap.String("name", name))
	return &e, nil
}

// match runs the three-stage lookup: exact normalized name, exact alias,
// then fuzzy. Returns nil with no error when nothing clears the floor.
func (r *Resolver) match(mention string, entities []model.Entity) (*model.Entity, error) {
	normalized := Normalize(mention)
	if normalized == "" {
		return nil, eris.Wrapf(model.ErrInvalidInput, "resolve: mention %q normalizes to nothing", mention)
	}

	// Stage 1: exact canonical name.
	for i := range entities {
		if Normalize(entities[i].Name) == normalized {
			return &entities[i], nil
		}
	}

	// Stage 2: exact alias.
	for i := range entities {
		for _, alias := range entities[i].Aliases {
			if Normalize(alias) == normalized {
				return &entities[i], nil
			}
		}
	}

	// Stage 3: fuzzy over names and aliases, best score per entity.
	var candidates []candidate
	for i := range entities {
		best := similarity(normalized, Normalize(entities[i].Name))
		for _, alias := range entities[i].Aliases {
			if s := similarity(normalized, Normalize(alias)); s > best {
				best = s
			}
		}
		if best >= r.cfg.MinSimilarity {
			candidates = append(candidates, candidate{entity: entities[i], score: best})
		}
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		r.log.Debug("fuzzy matched mention",
			zap.String("mention", mention),
			zap.String("entity_id", candidates[0].entity.ID),
			zap.Float64("score", candidates[0].score))
		return &candidates[0].entity, nil
	}

	// Multiple candidates. Only ambiguous if the top two are within the
	// margin of each other; a clear winner is still a match.
	top, second := topTwo(candidates)
	if top.score-second.score >= r.cfg.AmbiguityMargin {
		return &top.entity, nil
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = fmt.Sprintf("%s (%.2f)", c.entity.Name, c.score)
	}
	return nil, eris.Wrapf(model.ErrAmbiguousMention,
		"mention %q matches %s", mention, strings.Join(names, ", "))
}

func topTwo(candidates []candidate) (top, second candidate) {
	for _, c := range candidates {
		if c.score > top.score {
			second = top
			top = c
		} else if c.score > second.score {
			second = c
		}
	}
	return top, second
}
