package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
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
	githubAPIURL = "https://api.github.com"
	githubWebURL = "https://github.com"
)

// GitHub searches repositories through the REST API. When the API is not
// usable (rate limited, bad token) it scrapes the public search page and
// reports the thinner answer as degraded.
type GitHub struct {
	client *http.Client
	apiURL string
	webURL string
	token  string
}

var _ source.Adapter = (*GitHub)(nil)

// NewGitHub wires an HTTP client and an optional API token.
func NewGitHub(client *http.Client, token string) *GitHub {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &GitHub{client: client, apiURL: githubAPIURL, webURL: githubWebURL, token: token}
}

// Name identifies the adapter inside the registry.
func (g *GitHub) Name() string {
	return "github"
}

// Supports claims github repository URLs.
func (g *GitHub) Supports(rawURL string) bool {
	return hostMatches(rawURL, []string{"github.com"})
}

// Crawl tries the API first and falls back to scraping.
func (g *GitHub) Crawl(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	results, apiErr := g.searchAPI(ctx, query)
	if apiErr == nil {
		return results, nil
	}

	scraped, scrapeErr := g.scrape(ctx, query)
	if scrapeErr != nil {
		return nil, fmt.Errorf("api (%v), scrape: %w", apiErr, scrapeErr)
	}
	return scraped, fmt.Errorf("%w: api failed (%v), served scraped search page", domain.ErrSourceDegraded, apiErr)
}

func (g *GitHub) searchAPI(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	endpoint, err := url.Parse(g.apiURL + "/search/repositories")
	if err != nil {
		return nil, fmt.Errorf("invalid api url %s: %w", g.apiURL, err)
	}

	q := query.Terms()
	if query.Range != nil {
		q += fmt.Sprintf(" created:%s..%s",
			query.Range.Start.Format("2006-01-02"), query.Range.End.Format("2006-01-02"))
	}
	vals := endpoint.Query()
	vals.Set("q", q)
	vals.Set("sort", "updated")
	vals.Set("per_page", "50")
	endpoint.RawQuery = vals.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: github api: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("github api returned %s: %s", resp.Status, string(body))
	}

	var payload struct {
		Items []struct {
			FullName    string    `json:"full_name"`
			HTMLURL     string    `json:"html_url"`
			Description string    `json:"description"`
			Language    string    `json:"language"`
			Stars       int       `json:"stargazers_count"`
			CreatedAt   time.Time `json:"created_at"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode github response: %w", err)
	}

	results := make([]domain.RawResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		meta := map[string]string{"stars": strconv.Itoa(item.Stars)}
		if item.Language != "" {
			meta["language"] = item.Language
		}
		createdAt := item.CreatedAt
		results = append(results, domain.RawResult{
			Source:      "github",
			Title:       item.FullName,
			URL:         item.HTMLURL,
			Content:     item.Description,
			PublishedAt: &createdAt,
			Metadata:    meta,
		})
	}
	return results, nil
}

// scrape reads the public repository search page. It yields titles and
// links only, no descriptions or dates.
func (g *GitHub) scrape(ctx context.Context, query domain.Query) ([]domain.RawResult, error) {
	searchURL := g.webURL + "/search?" + url.Values{
		"q":    {query.Terms()},
		"type": {"repositories"},
	}.Encode()

	doc, err := fetchDocument(ctx, g.client, searchURL)
	if err != nil {
		return nil, err
	}

	var results []domain.RawResult
	doc.Find("div.search-title a, a.v-align-middle").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		href, _ := sel.Attr("href")
		href = absoluteURL(g.webURL, href)
		if title == "" || href == "" {
			return
		}
		results = append(results, domain.RawResult{
			Source: "github",
			Title:  title,
			URL:    href,
		})
	})
	return results, nil
}
