package watcher

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/n17-labs/transferwatch/internal/model"
	"github.com/n17-labs/transferwatch/internal/resilience"
)

// RedditWatcher polls a subreddit's new-post JSON listing.
type RedditWatcher struct {
	cfg     SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewReddit(cfg SourceConfig) *RedditWatcher {
	return &RedditWatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		// Reddit's unauthenticated limit is 10 req/min per client.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 2),
	}
}

func (w *RedditWatcher) Name() string {
	return w.cfg.Name
}

// listing mirrors the subset of reddit's listing JSON we consume.
type listing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
	Flair      string  `json:"link_flair_text"`
}

func (w *RedditWatcher) Fetch(ctx context.Context, since time.Time) ([]model.NewsItem, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "reddit %s: rate limit wait", w.cfg.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.URL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "reddit %s: build request", w.cfg.Name)
	}
	req.Header.Set("User-Agent", "transferwatch/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "reddit %s: fetch", w.cfg.Name), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("reddit %s: status %d", w.cfg.Name, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var l listing
	if err := json.NewDecoder(resp.Body).Decode(&l); err != nil {
		return nil, eris.Wrapf(err, "reddit %s: decode listing", w.cfg.Name)
	}

	var items []model.NewsItem
	for _, child := range l.Data.Children {
		post := child.Data
		published := time.Unix(int64(post.CreatedUTC), 0).UTC()
		if !published.After(since) {
			continue
		}
		// Keying the id sequence on the permalink keeps ids stable across
		// polls and distinct for same-minute posts.
		key := post.Permalink
		if key == "" {
			key = post.Title
		}
		items = append(items, model.NewsItem{
			ID:          model.NewsIDForKey(model.SourceReddit, published, key),
			Source:      model.SourceReddit,
			PublishedAt: published,
			Tier:        w.tierFor(post.Flair),
			URL:         "https://www.reddit.com" + post.Permalink,
			Title:       post.Title,
			Body:        post.SelfText,
			Keywords:    keywordsFor(post.Flair),
		})
	}
	return items, nil
}

// tierFor maps a post's flair to a reliability tier. "Official" flairs
// outrank the subreddit's own tier; unknown flairs inherit it.
func (w *RedditWatcher) tierFor(flair string) int {
	if tier, ok := w.cfg.FlairTiers[flair]; ok {
		return tier
	}
	return w.cfg.Tier
}

func keywordsFor(flair string) []string {
	if flair == "" {
		return nil
	}
	return []string{flair}
}
