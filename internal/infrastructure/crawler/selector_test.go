package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/katerpii/issue-agent/internal/config"
	"github.com/katerpii/issue-agent/internal/domain"
)

const hackerNewsPage = `
<html><body>
<div class="athing">
  <span class="titleline"><a href="https://blog.example/zig-vs-rust">Zig versus Rust in 2025</a></span>
  <span class="snippet">A comparison of rust and zig for systems work.</span>
  <span class="age">2025-03-02</span>
</div>
<div class="athing">
  <span class="titleline"><a href="item?id=123">Show HN: my rust profiler</a></span>
  <span class="age">not a date</span>
</div>
<div class="athing">
  <span class="titleline"><a href="https://blog.example/untitled"></a></span>
</div>
</body></html>`

func hnSite(searchURL string) config.SiteConfig {
	return config.SiteConfig{
		Name:       "hackernews",
		BaseURL:    "https://news.ycombinator.com",
		SearchURL:  searchURL,
		Container:  "div.athing",
		Title:      ".titleline a",
		Link:       ".titleline a",
		Content:    ".snippet",
		Date:       ".age",
		DateFormat: "2006-01-02",
		Domains:    []string{"news.ycombinator.com", "ycombinator.com"},
	}
}

func TestSelectorCrawl(t *testing.T) {
	t.Parallel()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		if _, err := w.Write([]byte(hackerNewsPage)); err != nil {
			t.Errorf("write page: %v", err)
		}
	}))
	defer server.Close()

	site := hnSite(server.URL + "/search?q={query}")
	s := NewSelector(server.Client(), site)

	q, err := domain.NewQuery([]string{"rust profiler"}, []string{"hackernews"}, "", nil)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	results, err := s.Crawl(context.Background(), q)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	if gotPath != "/search?q=rust+profiler" {
		t.Errorf("request path = %q, want query substituted", gotPath)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (titleless row dropped)", len(results))
	}

	first := results[0]
	if first.Source != "hackernews" {
		t.Errorf("source = %q", first.Source)
	}
	if first.URL != "https://blog.example/zig-vs-rust" {
		t.Errorf("url = %q", first.URL)
	}
	if first.Content != "A comparison of rust and zig for systems work." {
		t.Errorf("content = %q", first.Content)
	}
	if first.PublishedAt == nil || first.PublishedAt.Year() != 2025 {
		t.Errorf("published at = %v", first.PublishedAt)
	}

	second := results[1]
	if second.URL != "https://news.ycombinator.com/item?id=123" {
		t.Errorf("relative link not resolved against baseUrl: %q", second.URL)
	}
	if second.PublishedAt != nil {
		t.Errorf("unparseable date produced %v, want nil", second.PublishedAt)
	}
}

func TestSelectorRequiresSearchURLAndContainer(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil, config.SiteConfig{Name: "broken"})
	q, err := domain.NewQuery([]string{"go"}, []string{"broken"}, "", nil)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}
	if _, err := s.Crawl(context.Background(), q); err == nil {
		t.Fatal("Crawl succeeded without selectors, want error")
	}
}

func TestSelectorSupports(t *testing.T) {
	t.Parallel()

	s := NewSelector(nil, hnSite("https://news.ycombinator.com/search?q={query}"))
	if !s.Supports("https://news.ycombinator.com/item?id=1") {
		t.Error("own domain not claimed")
	}
	if s.Supports("https://example.org/item") {
		t.Error("foreign domain claimed")
	}
}
