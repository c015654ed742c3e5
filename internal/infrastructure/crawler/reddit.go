package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/source"
)

const (
	redditBaseURL    = "https://old.reddit.com"
	redditMaxResults = 50
)

// Reddit queries the old-reddit search page, which still serves plain HTML.
type Reddit struct {
	client  *http.Client
	baseURL string
}

var _ source.Adapter = (*Reddit)(nil)

// NewReddit wires an HTTP client; a nil client gets a 20s timeout default.
func NewReddit(client *http.Client) *Reddit {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Reddit{client: client, baseURL: redditBaseURL}
}

// Name identifies the adapter inside the registry.
func (r *Reddit) Name() string {
	return "reddit"
}

// Supports claims reddit post URLs.
func (r *Reddit) Supports(rawURL string) bool {
	return hostMatches(rawURL, []string{"reddit.com", "redd.it"})
}

// Crawl fetches one search page sorted by newest and extracts the posts.
func (r *Reddit) Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	searchURL, err := r.searchURL(query)
	if err != nil {
		return nil, err
	}
	doc, err := fetchDocument(ctx, r.client, searchURL)
	if err != nil {
		return nil, err
	}

	var results []domain.RawResult
	doc.Find("div.search-result-link").Each(func(_ int, sel *goquery.Selection) {
		header := sel.Find("a.search-title").First()
		title := strings.TrimSpace(header.Text())
		href, _ := header.Attr("href")
		href = absoluteURL(r.baseURL, href)
		if title == "" || href == "" {
			return
		}

		res := domain.RawResult{
			Source:  "reddit",
			Title:   title,
			URL:     href,
			Content: strings.TrimSpace(sel.Find(".search-result-body").First().Text()),
		}
		if dt, ok := sel.Find("time").First().Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
				res.PublishedAt = &parsed
			}
		}

		meta := map[string]string{}
		if sub := strings.TrimSpace(sel.Find("a.search-subreddit-link").First().Text()); sub != "" {
			meta["subreddit"] = sub
		}
		if comments := strings.TrimSpace(sel.Find("a.search-comments").First().Text()); comments != "" {
			meta["comments"] = comments
		}
		if len(meta) > 0 {
			res.Metadata = meta
		}

		results = append(results, res)
	})

	if len(results) > redditMaxResults {
		results = results[:redditMaxResults]
	}
	return results, nil
}

func (r *Reddit) searchURL(query domain.Query) (string, error) {
	parsed, err := url.Parse(r.baseURL + "/search")
	if err != nil {
		return "", fmt.Errorf("invalid base url %s: %w", r.baseURL, err)
	}

	vals := parsed.Query()
	vals.Set("q", query.Terms())
	vals.Set("sort", "new")
	vals.Set("t", redditTimeFilter(query.Range))
	parsed.RawQuery = vals.Encode()
	return parsed.String(), nil
}

// redditTimeFilter maps a date range onto the coarse age buckets the reddit
// search understands.
func redditTimeFilter(rng *domain.DateRange) string {
	if rng == nil {
		return "all"
	}
	days := int(time.Since(rng.Start).Hours() / 24)
	switch {
	case days <= 1:
		return "day"
	case days <= 7:
		return "week"
	case days <= 31:
		return "month"
	case days <= 365:
		return "year"
	default:
		return "all"
	}
}
