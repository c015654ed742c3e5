package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/source"
)

const (
	googleBaseURL  = "https://www.google.com"
	googleMaxPages = 3
	googlePageSize = 20
)

// Google scrapes the public web search result pages.
type Google struct {
	client  *http.Client
	baseURL string
}

var _ source.Adapter = (*Google)(nil)

// NewGoogle wires an HTTP client; a nil client gets a 20s timeout default.
func NewGoogle(client *http.Client) *Google {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Google{client: client, baseURL: googleBaseURL}
}

// Name identifies the adapter inside the registry.
func (g *Google) Name() string {
	return "google"
}

// Supports claims search result URLs served by google.
func (g *Google) Supports(rawURL string) bool {
	return hostMatches(rawURL, []string{"google.com"})
}

// Crawl walks up to three result pages. When a later page fails after the
// first one succeeded, the collected results are returned as a degraded
// answer instead of being thrown away.
func (g *Google) Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	pageURL, err := g.searchURL(query)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RawResult, 0, googlePageSize)
	seen := map[string]struct{}{}

	for page := 0; page < googleMaxPages; page++ {
		doc, err := fetchDocument(ctx, g.client, pageURL)
		if err != nil {
			if len(results) > 0 {
				return results, fmt.Errorf("%w: page %d: %v", domain.ErrSourceDegraded, page+1, err)
			}
			return nil, err
		}

		for _, res := range g.extractResults(doc) {
			if _, ok := seen[res.URL]; ok {
				continue
			}
			seen[res.URL] = struct{}{}
			results = append(results, res)
		}

		next := g.nextPageURL(doc)
		if next == "" {
			break
		}
		pageURL = next
	}

	return results, nil
}

func (g *Google) searchURL(query domain.Query) (string, error) {
	parsed, err := url.Parse(g.baseURL + "/search")
	if err != nil {
		return "", fmt.Errorf("invalid base url %s: %w", g.baseURL, err)
	}

	vals := parsed.Query()
	vals.Set("q", query.Terms())
	vals.Set("num", strconv.Itoa(googlePageSize))
	vals.Set("hl", "en")
	if query.Range != nil {
		vals.Set("tbs", fmt.Sprintf("cdr:1,cd_min:%s,cd_max:%s",
			query.Range.Start.Format("1/2/2006"), query.Range.End.Format("1/2/2006")))
	}
	parsed.RawQuery = vals.Encode()
	return parsed.String(), nil
}

func (g *Google) extractResults(doc *goquery.Document) []domain.RawResult {
	var collected []domain.RawResult
	doc.Find("div.g").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("h3").First().Text())
		href, _ := sel.Find("a").First().Attr("href")
		href = cleanHref(href)
		if title == "" || href == "" {
			return
		}
		collected = append(collected, domain.RawResult{
			Source:  "google",
			Title:   title,
			URL:     href,
			Content: strings.TrimSpace(sel.Find(".VwiC3b").First().Text()),
		})
	})
	return collected
}

func (g *Google) nextPageURL(doc *goquery.Document) string {
	href, ok := doc.Find("a#pnnext").First().Attr("href")
	if !ok {
		return ""
	}
	return absoluteURL(g.baseURL, href)
}

// cleanHref unwraps the /url?q=... redirect google puts around result links.
func cleanHref(href string) string {
	if strings.HasPrefix(href, "/url?") {
		parsed, err := url.Parse(href)
		if err != nil {
			return ""
		}
		href = parsed.Query().Get("q")
	}
	if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
		return ""
	}
	return href
}
