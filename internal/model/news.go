package model

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SourceKind identifies where a news item came from.
type SourceKind string

const (
	SourceReddit   SourceKind = "reddit"
	SourceRSS      SourceKind = "rss"
	SourceOfficial SourceKind = "official"
	SourcePress    SourceKind = "press"
	SourceManual   SourceKind = "manual"
)

// sourceCodes maps a SourceKind to the single-letter prefix used in news ids.
var sourceCodes = map[SourceKind]string{
	SourceReddit:   "r",
	SourceRSS:      "f",
	SourceOfficial: "o",
	SourcePress:    "p",
	SourceManual:   "m",
}

// MaxTier is the least reliable source tier. Tier 0 is reserved for
// official club announcements.
const MaxTier = 5

// Sentiment holds an AI-derived sentiment reading for a news item.
type Sentiment struct {
	Score      float64 `json:"score"`      // [-1, 1]
	Confidence float64 `json:"confidence"` // [0, 1]
}

// NewsItem is a single raw report as stored at the ingestion boundary.
// Immutable once stored; timeline entries reference it by ID only.
type NewsItem struct {
	ID          string     `json:"id"`
	Source      SourceKind `json:"source"`
	PublishedAt time.Time  `json:"published_at"`
	Tier        int        `json:"tier"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Sentiment   *Sentiment `json:"sentiment,omitempty"`
	Keywords    []string   `json:"keywords,omitempty"`
}

// NewsID builds a news item identifier of the form <code>-<yyyymmddhhmm>-<seq>,
// globally unique and sortable by the embedded timestamp.
func NewsID(source SourceKind, t time.Time, seq int) string {
	code, ok := sourceCodes[source]
	if !ok {
		code = "x"
	}
	return fmt.Sprintf("%s-%s-%03d", code, t.UTC().Format("200601021504"), seq)
}

// NewsIDForKey builds a news id whose sequence is derived from a stable
// source-native key such as a feed link or reddit permalink. Refetching the
// same report mints the same id across polls and restarts, while distinct
// reports published in the same minute get distinct ids. The ingestion path
// resolves any residual sequence collision against the store.
func NewsIDForKey(source SourceKind, t time.Time, key string) string {
	h := fnv.New32a()
	h.Write([]byte(key))
	return NewsID(source, t, int(h.Sum32()%1000))
}

// Validate checks the invariants a NewsItem must satisfy before storage.
func (n *NewsItem) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return eris.Wrap(ErrInvalidInput, "news item: empty id")
	}
	if _, ok := sourceCodes[n.Source]; !ok {
		return eris.Wrapf(ErrInvalidInput, "news item %s: unknown source %q", n.ID, n.Source)
	}
	if n.Tier < 0 || n.Tier > MaxTier {
		return eris.Wrapf(ErrInvalidInput, "news item %s: tier %d out of range [0,%d]", n.ID, n.Tier, MaxTier)
	}
	if n.PublishedAt.IsZero() {
		return eris.Wrapf(ErrInvalidInput, "news item %s: zero published_at", n.ID)
	}
	if strings.TrimSpace(n.Title) == "" {
		return eris.Wrapf(ErrInvalidInput, "news item %s: empty title", n.ID)
	}
	if n.Sentiment != nil {
		if n.Sentiment.Score < -1 || n.Sentiment.Score > 1 {
			return eris.Wrapf(ErrInvalidInput, "news item %s: sentiment score %f out of [-1,1]", n.ID, n.Sentiment.Score)
		}
		if n.Sentiment.Confidence < 0 || n.Sentiment.Confidence > 1 {
			return eris.Wrapf(ErrInvalidInput, "news item %s: sentiment confidence %f out of [0,1]", n.ID, n.Sentiment.Confidence)
		}
	}
	return nil
}
