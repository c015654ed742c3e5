package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/source"
)

const (
	rssMaxResults  = 50
	rssMaxFeedSize = 5 * 1024 * 1024
)

// RSS polls a configured list of feeds and keeps the entries mentioning a
// query keyword. Feeds filter on the source side, matching happens here.
type RSS struct {
	parser *gofeed.Parser
	client *http.Client
	feeds  []string
}

var _ source.Adapter = (*RSS)(nil)

// NewRSS wires an HTTP client and the feed list from the config.
func NewRSS(client *http.Client, feeds []string) *RSS {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSS{parser: gofeed.NewParser(), client: client, feeds: feeds}
}

// Name identifies the adapter inside the registry.
func (r *RSS) Name() string {
	return "rss"
}

// Supports claims URLs hosted on one of the configured feed domains.
func (r *RSS) Supports(rawURL string) bool {
	hosts := make([]string, 0, len(r.feeds))
	for _, feed := range r.feeds {
		if u, err := url.Parse(feed); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hostMatches(rawURL, hosts)
}

// Crawl reads every feed. Single feed failures degrade the answer instead
// of discarding the entries the healthy feeds produced.
func (r *RSS) Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	if len(r.feeds) == 0 {
		return nil, nil
	}

	var results []domain.RawResult
	var failures []string
	for _, feedURL := range r.feeds {
		items, err := r.crawlFeed(ctx, feedURL, query)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", feedURL, err))
			continue
		}
		results = append(results, items...)
	}
	if len(results) > rssMaxResults {
		results = results[:rssMaxResults]
	}

	if len(failures) == len(r.feeds) {
		return nil, fmt.Errorf("%w: all feeds failed: %s", domain.ErrSourceUnavailable, strings.Join(failures, "; "))
	}
	if len(failures) > 0 {
		return results, fmt.Errorf("%w: %s", domain.ErrSourceDegraded, strings.Join(failures, "; "))
	}
	return results, nil
}

func (r *RSS) crawlFeed(ctx context.Context, feedURL string, query domain.Query) ([]domain.RawResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, rssMaxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	feed, err := r.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var results []domain.RawResult
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		if !keywordMatch(query.Keywords, item.Title, item.Description) {
			continue
		}
		if query.Range != nil && item.PublishedParsed != nil {
			if item.PublishedParsed.Before(query.Range.Start) || item.PublishedParsed.After(query.Range.End) {
				continue
			}
		}
		results = append(results, domain.RawResult{
			Source:      "rss",
			Title:       item.Title,
			URL:         item.Link,
			Content:     item.Description,
			PublishedAt: item.PublishedParsed,
			Metadata:    map[string]string{"feed": feed.Title},
		})
	}
	return results, nil
}
