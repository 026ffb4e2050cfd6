// Package classifier turns raw news text into structured transfer events
// using the Anthropic API. The engine consumes it as a black box; any
// transport or model failure surfaces as ClassificationUnavailable so the
// caller can retry with backoff instead of fabricating a result.
package classifier

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/model"
)

// Client classifies a news item into a structured transfer event.
type Client interface {
	Classify(ctx context.Context, item model.NewsItem) (*model.ClassifiedEvent, error)
}

// Func adapts a plain function to Client. Tests use this for stubbing.
type Func func(ctx context.Context, item model.NewsItem) (*model.ClassifiedEvent, error)

func (f Func) Classify(ctx context.Context, item model.NewsItem) (*model.ClassifiedEvent, error) {
	return f(ctx, item)
}

// Config holds classifier tuning.
type Config struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	// ExcludedJournalists are bylines and reporter names the extractor must
	// never emit as player mentions. Transfer reporters get name-dropped in
	// almost every item and otherwise leak into the entity canon.
	ExcludedJournalists []string `yaml:"excluded_journalists" mapstructure:"excluded_journalists"`
}

func DefaultConfig() Config {
	return Config{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		ExcludedJournalists: []string{
			"Fabrizio Romano",
			"David Ornstein",
			"Alasdair Gold",
			"Dan Kilpatrick",
		},
	}
}

const systemPrompt = `You extract structured football transfer events from news text.

Respond with a single JSON object and nothing else:
{
  "type": one of "meeting", "bid", "talks", "medical", "agreement", "official", "denial", "other",
  "players": [{"name": string, "current_club": string or ""}],
  "clubs": [{"name": string, "role": "current" | "interested" | "destination" or ""}],
  "move_type": "transfer" | "loan" | "loan_with_option" | "loan_with_obligation" | "unclear",
  "direction": "incoming" | "outgoing" | "unknown",
  "price": {"amount": number, "currency": string, "add_ons": number} or null,
  "confidence": number 0-100, how strongly the text supports the event,
  "summary": one-sentence factual summary
}

Rules:
- "official" only for a club's own confirmed announcement, never for journalist claims.
- "denial" when the text refutes or kills a rumored move.
- Use "other" when no transfer signal is present; leave players empty then.
- Never list journalists, agents, managers, or executives as players.`

// anthropicClient implements Client on the official SDK.
type anthropicClient struct {
	client   sdk.Client
	cfg      Config
	excluded map[string]bool
	log      *zap.Logger
}

// New creates a classifier backed by the Anthropic API.
func New(cfg Config, log *zap.Logger) Client {
	if log == nil {
		log = zap.L()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	excluded := make(map[string]bool, len(cfg.ExcludedJournalists))
	for _, name := range cfg.ExcludedJournalists {
		excluded[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return &anthropicClient{
		client:   sdk.NewClient(option.WithAPIKey(cfg.APIKey)),
		cfg:      cfg,
		excluded: excluded,
		log:      log,
	}
}

// wireEvent is the JSON shape the model is prompted to produce.
type wireEvent struct {
	Type       string                `json:"type"`
	Players    []model.PlayerMention `json:"players"`
	Clubs      []wireClub            `json:"clubs"`
	MoveType   string                `json:"move_type"`
	Direction  string                `json:"direction"`
	Price      *model.Price          `json:"price"`
	Confidence float64               `json:"confidence"`
	Summary    string                `json:"summary"`
}

type wireClub struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (c *anthropicClient) Classify(ctx context.Context, item model.NewsItem) (*model.ClassifiedEvent, error) {
	var b strings.Builder
	b.WriteString("Source: ")
	b.WriteString(string(item.Source))
	b.WriteString(" (tier ")
	b.WriteString(tierLabel(item.Tier))
	b.WriteString(")\nTitle: ")
	b.WriteString(item.Title)
	if item.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(item.Body)
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrClassificationUnavailable, "classify %s: %v", item.ID, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	event, err := c.parse(text, item)
	if err != nil {
		return nil, err
	}

	c.log.Debug("classified news item",
		zap.String("news_id", item.ID),
		zap.String("event_type", string(event.Type)),
		zap.Float64("confidence", event.Confidence),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return event, nil
}

// parse decodes and validates model output. Malformed output is treated as a
// transient classifier failure, not as data.
func (c *anthropicClient) parse(text string, item model.NewsItem) (*model.ClassifiedEvent, error) {
	text = stripFences(text)

	var wire wireEvent
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, eris.Wrapf(model.ErrClassificationUnavailable, "classify %s: bad JSON: %v", item.ID, err)
	}

	evType, ok := model.ParseEventType(wire.Type)
	if !ok {
		return nil, eris.Wrapf(model.ErrClassificationUnavailable, "classify %s: unknown event type %q", item.ID, wire.Type)
	}

	event := &model.ClassifiedEvent{
		Type:        evType,
		MoveType:    parseMoveType(wire.MoveType),
		Direction:   parseDirection(wire.Direction),
		Price:       wire.Price,
		Confidence:  wire.Confidence,
		Summary:     strings.TrimSpace(wire.Summary),
		SourceItems: []string{item.ID},
	}
	for _, p := range wire.Players {
		name := strings.TrimSpace(p.Name)
		if name == "" || c.excluded[strings.ToLower(name)] {
			continue
		}
		event.Players = append(event.Players, model.PlayerMention{
			Name:        name,
			CurrentClub: strings.TrimSpace(p.CurrentClub),
		})
	}
	for _, cl := range wire.Clubs {
		name := strings.TrimSpace(cl.Name)
		if name == "" {
			continue
		}
		event.Clubs = append(event.Clubs, model.ClubMention{
			Name: name,
			Role: parseClubRole(cl.Role),
		})
	}

	if err := event.Validate(); err != nil {
		return nil, eris.Wrapf(model.ErrClassificationUnavailable, "classify %s: %v", item.ID, err)
	}
	return event, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func parseMoveType(s string) model.MoveType {
	switch model.MoveType(strings.ToLower(strings.TrimSpace(s))) {
	case model.MoveTransfer:
		return model.MoveTransfer
	case model.MoveLoan:
		return model.MoveLoan
	case model.MoveLoanWithOption:
		return model.MoveLoanWithOption
	case model.MoveLoanWithObligation:
		return model.MoveLoanWithObligation
	}
	return model.MoveUnclear
}

func parseDirection(s string) model.Direction {
	switch model.Direction(strings.ToLower(strings.TrimSpace(s))) {
	case model.DirectionIncoming:
		return model.DirectionIncoming
	case model.DirectionOutgoing:
		return model.DirectionOutgoing
	}
	return model.DirectionUnknown
}

func parseClubRole(s string) model.ClubRole {
	switch model.ClubRole(strings.ToLower(strings.TrimSpace(s))) {
	case model.RoleCurrent:
		return model.RoleCurrent
	case model.RoleDestination:
		return model.RoleDestination
	}
	return model.RoleInterested
}

func tierLabel(tier int) string {
	labels := []string{"official", "top journalist", "reliable press", "aggregator", "social media", "unverified"}
	if tier >= 0 && tier < len(labels) {
		return labels[tier]
	}
	return "unverified"
}
