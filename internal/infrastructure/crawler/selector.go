package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/katerpii/issue-agent/internal/config"
	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/source"
)

// Selector is a configuration-driven adapter for sites that expose a plain
// HTML search page. Every selector comes from the site entry in the config,
// so new sites need no code.
type Selector struct {
	site   config.SiteConfig
	client *http.Client
}

var _ source.Adapter = (*Selector)(nil)

// NewSelector builds an adapter for one configured site.
func NewSelector(client *http.Client, site config.SiteConfig) *Selector {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Selector{site: site, client: client}
}

// Name identifies the adapter inside the registry.
func (s *Selector) Name() string {
	return s.site.Name
}

// Supports claims URLs on the domains listed for the site.
func (s *Selector) Supports(rawURL string) bool {
	return hostMatches(rawURL, s.site.Domains)
}

// Crawl substitutes the query into the search URL template and extracts one
// result per container match.
func (s *Selector) Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	if s.site.SearchURL == "" || s.site.Container == "" {
		return nil, fmt.Errorf("site %s is missing searchUrl or container selector", s.site.Name)
	}

	searchURL := strings.ReplaceAll(s.site.SearchURL, "{query}", url.QueryEscape(query.Terms()))
	doc, err := fetchDocument(ctx, s.client, searchURL)
	if err != nil {
		return nil, err
	}

	var results []domain.RawResult
	doc.Find(s.site.Container).Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(s.site.Title).First().Text())

		linkSel := s.site.Link
		if linkSel == "" {
			linkSel = "a"
		}
		href, _ := sel.Find(linkSel).First().Attr("href")
		href = absoluteURL(s.site.BaseURL, href)
		if title == "" || href == "" {
			return
		}

		res := domain.RawResult{
			Source: s.site.Name,
			Title:  title,
			URL:    href,
		}
		if s.site.Content != "" {
			res.Content = strings.TrimSpace(sel.Find(s.site.Content).First().Text())
		}
		if s.site.Date != "" && s.site.DateFormat != "" {
			dateText := strings.TrimSpace(sel.Find(s.site.Date).First().Text())
			if parsed, err := time.Parse(s.site.DateFormat, dateText); err == nil {
				res.PublishedAt = &parsed
			}
		}
		results = append(results, res)
	})
	return results, nil
}
