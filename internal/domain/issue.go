package domain

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"time"
)

// DateRange restricts a search to items published inside [Start, End].
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Query describes one search request fanned out to the configured sources.
// Detail is a free-text preference hint consumed by relevance scoring; it
// may be empty.
type Query struct {
	Keywords []string
	Sources  []string
	Detail   string
	Range    *DateRange
}

// NewQuery validates and normalizes the raw request fields. Keywords keep
// their original order and case; exact duplicates are dropped. Sources are
// names only, existence is checked by the registry at dispatch time.
func NewQuery(keywords, sources []string, detail string, rng *DateRange) (Query, error) {
	kept := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		kept = append(kept, kw)
	}
	if len(kept) == 0 {
		return Query{}, fmt.Errorf("%w: at least one keyword is required", ErrInvalidQuery)
	}
	if len(sources) == 0 {
		return Query{}, fmt.Errorf("%w: at least one source is required", ErrInvalidQuery)
	}
	if rng != nil && rng.End.Before(rng.Start) {
		return Query{}, fmt.Errorf("%w: date range ends before it starts", ErrInvalidQuery)
	}
	return Query{Keywords: kept, Sources: sources, Detail: strings.TrimSpace(detail), Range: rng}, nil
}

// Terms joins the keywords into the single search string sources understand.
func (q Query) Terms() string {
	return strings.Join(q.Keywords, " ")
}

// RawResult is one item returned by a source before any filtering.
// Source and URL together identify an item; the first occurrence wins.
type RawResult struct {
	Source      string
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
	Metadata    map[string]string
}

// Valid reports whether the item carries the minimum identity a later
// stage can rely on: a non-blank title and an absolute URL.
func (r RawResult) Valid() bool {
	if strings.TrimSpace(r.Title) == "" {
		return false
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}

// ScoredResult is a raw result that survived relevance scoring.
type ScoredResult struct {
	RawResult
	Score  int
	Reason string
}

// FilteredResult is the final answer for one query: surviving items grouped
// by source, plus an optional overall summary.
type FilteredResult struct {
	BySource   map[string][]ScoredResult
	Sources    []string
	TotalCount int
	Summary    string
}

// Subscription is a stored query delivered on a daily schedule.
type Subscription struct {
	ID        string
	Email     string
	Query     Query
	NotifyAt  string
	LastRun   *time.Time
	CreatedAt time.Time
}

// Validate checks the fields a store must be able to trust.
func (s Subscription) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: subscription id is empty", ErrInvalidQuery)
	}
	if _, err := mail.ParseAddress(s.Email); err != nil {
		return fmt.Errorf("%w: email %q: %v", ErrInvalidQuery, s.Email, err)
	}
	if _, err := time.Parse("15:04", s.NotifyAt); err != nil {
		return fmt.Errorf("%w: notify time %q is not HH:MM", ErrInvalidQuery, s.NotifyAt)
	}
	if len(s.Query.Keywords) == 0 {
		return fmt.Errorf("%w: subscription query has no keywords", ErrInvalidQuery)
	}
	return nil
}

// Due reports whether the subscription should fire at now. The time must be
// expressed in the scheduler's location. A subscription fires when the wall
// clock matches NotifyAt and the last run happened before today.
func (s Subscription) Due(now time.Time) bool {
	if now.Format("15:04") != s.NotifyAt {
		return false
	}
	if s.LastRun == nil {
		return true
	}
	last := s.LastRun.In(now.Location())
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return lastDay.Before(today)
}

// SortByScore orders results best first without disturbing the relative
// order of equal scores.
func SortByScore(items []ScoredResult) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
}
