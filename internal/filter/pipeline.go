package filter

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/orchestrator"
	"github.com/katerpii/issue-agent/internal/ports"
)

// Options tune the reduction stages.
type Options struct {
	CandidateLimit int
	ScoreThreshold int
	ContentLimit   int
	SummaryTop     int
	StrictTitle    bool
}

// Pipeline reduces a crawl bundle to the final grouped answer through three
// stages of increasing cost: title heuristic, content scan, model scoring.
// Each stage only sees the survivors of the previous one.
type Pipeline struct {
	scorer     ports.Scorer
	summarizer ports.Summarizer
	opts       Options
	logger     *slog.Logger
}

// New builds a pipeline. A nil scorer disables scoring entirely, a nil
// summarizer leaves Summary empty.
func New(scorer ports.Scorer, summarizer ports.Summarizer, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 5
	}
	if opts.ContentLimit <= 0 {
		opts.ContentLimit = 1500
	}
	if opts.SummaryTop <= 0 {
		opts.SummaryTop = 5
	}
	return &Pipeline{scorer: scorer, summarizer: summarizer, opts: opts, logger: logger}
}

// Reduce runs the stages over the merged bundle and assembles the answer.
// It never fails: scoring trouble shrinks the output, summarization trouble
// leaves Summary empty.
func (p *Pipeline) Reduce(ctx context.Context, query domain.Query, bundle *orchestrator.Bundle) domain.FilteredResult {
	merged := bundle.Merged()
	survivors := p.titleStage(query, merged)
	survivors = p.contentStage(query, survivors)
	scored := p.scoreStage(ctx, query, survivors)

	res := p.group(query, scored)
	res.Summary = p.summarize(ctx, query, res)
	return res
}

// titleStage keeps items whose title mentions a query keyword. When the
// match cannot be computed (blank title) the item passes unless strict
// mode is on.
func (p *Pipeline) titleStage(query domain.Query, items []domain.RawResult) []domain.RawResult {
	kept := make([]domain.RawResult, 0, len(items))
	for _, item := range items {
		title := strings.ToLower(strings.TrimSpace(item.Title))
		if title == "" || len(query.Keywords) == 0 {
			if !p.opts.StrictTitle {
				kept = append(kept, item)
			}
			continue
		}
		if containsAny(title, query.Keywords) {
			kept = append(kept, item)
		}
	}
	p.logger.Debug("title stage", "in", len(items), "out", len(kept))
	return kept
}

// contentStage drops items whose non-empty content carries no keyword.
// Items with empty content pass through, missing data is not penalized.
func (p *Pipeline) contentStage(query domain.Query, items []domain.RawResult) []domain.RawResult {
	kept := make([]domain.RawResult, 0, len(items))
	for _, item := range items {
		content := strings.ToLower(item.Content)
		if content == "" || containsAny(content, query.Keywords) {
			kept = append(kept, item)
		}
	}
	p.logger.Debug("content stage", "in", len(items), "out", len(kept))
	return kept
}

// scoreStage asks the model to rate each candidate. It runs only when the
// candidate count fits the configured limit; an oversized set passes
// unscored and therefore produces an empty scored output. A permanent
// scoring failure keeps the items scored so far and skips the rest.
func (p *Pipeline) scoreStage(ctx context.Context, query domain.Query, items []domain.RawResult) []domain.ScoredResult {
	if len(items) == 0 || p.scorer == nil {
		return nil
	}
	if len(items) > p.opts.CandidateLimit {
		p.logger.Info("too many candidates, skipping relevance scoring",
			"candidates", len(items), "limit", p.opts.CandidateLimit)
		return nil
	}

	scored := make([]domain.ScoredResult, 0, len(items))
	for _, item := range items {
		candidate := item
		candidate.Content = truncate(candidate.Content, p.opts.ContentLimit)
		score, reason, err := p.scorer.Score(ctx, query, candidate)
		if err != nil {
			if errors.Is(err, domain.ErrScoringUnavailable) {
				p.logger.Error("scoring unavailable, keeping items scored so far",
					"scored", len(scored), "error", err)
				break
			}
			p.logger.Warn("scoring failed for item", "url", item.URL, "error", err)
			continue
		}
		if score < p.opts.ScoreThreshold {
			p.logger.Debug("item below threshold", "url", item.URL, "score", score)
			continue
		}
		scored = append(scored, domain.ScoredResult{RawResult: item, Score: score, Reason: reason})
	}
	domain.SortByScore(scored)
	return scored
}

// group arranges the scored survivors by source. Sources keeps the request
// order for sources that contributed at least one item.
func (p *Pipeline) group(query domain.Query, scored []domain.ScoredResult) domain.FilteredResult {
	res := domain.FilteredResult{BySource: map[string][]domain.ScoredResult{}}
	for _, item := range scored {
		res.BySource[item.Source] = append(res.BySource[item.Source], item)
		res.TotalCount++
	}

	listed := make(map[string]struct{}, len(res.BySource))
	for _, name := range query.Sources {
		if _, ok := listed[name]; ok {
			continue
		}
		if len(res.BySource[name]) == 0 {
			continue
		}
		listed[name] = struct{}{}
		res.Sources = append(res.Sources, name)
	}
	var extra []string
	for name := range res.BySource {
		if _, ok := listed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	res.Sources = append(res.Sources, extra...)
	return res
}

// summarize produces the overall digest text from the best items of each
// source. Failures are swallowed, an empty summary is a valid answer.
func (p *Pipeline) summarize(ctx context.Context, query domain.Query, res domain.FilteredResult) string {
	if p.summarizer == nil || res.TotalCount == 0 {
		return ""
	}
	input := make([]domain.ScoredResult, 0, res.TotalCount)
	for _, name := range res.Sources {
		items := res.BySource[name]
		if len(items) > p.opts.SummaryTop {
			items = items[:p.opts.SummaryTop]
		}
		input = append(input, items...)
	}
	summary, err := p.summarizer.Summarize(ctx, query, input)
	if err != nil {
		p.logger.Warn("summarization failed", "error", err)
		return ""
	}
	return summary
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// truncate cuts s at limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
