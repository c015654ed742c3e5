package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/katerpii/issue-agent/internal/domain"
)

func scorePrompt(query domain.Query, res domain.RawResult) string {
	var b strings.Builder
	b.WriteString("Rate how relevant the following item is to the user query.\n\n")
	fmt.Fprintf(&b, "Query keywords: %s\n", strings.Join(query.Keywords, ", "))
	if query.Detail != "" {
		fmt.Fprintf(&b, "User preferences: %s\n", query.Detail)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Source: %s\n", res.Source)
	fmt.Fprintf(&b, "Title: %s\n", res.Title)
	if res.Content != "" {
		fmt.Fprintf(&b, "Content:\n%s\n", res.Content)
	}
	b.WriteString("\nAnswer with one JSON object and nothing else, in the form " +
		`{"score": <integer 0 to 10>, "reason": "<one short sentence>"}` + ".\n")
	b.WriteString("Score 0 means unrelated, 10 means a perfect match. " +
		"When no preferences are given, judge by keyword relevance alone.\n")
	return b.String()
}

func summaryPrompt(query domain.Query, items []domain.ScoredResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a digest of at most three sentences for the query %q based on these findings:\n\n", query.Terms())
	for _, item := range items {
		fmt.Fprintf(&b, "- [%s] %s", item.Source, item.Title)
		if snippet := clip(strings.TrimSpace(item.Content), 200); snippet != "" {
			fmt.Fprintf(&b, ": %s", snippet)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPlain text only, no markdown.\n")
	return b.String()
}

type scorePayload struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// parseScore extracts the {"score": n, "reason": "..."} object from a model
// reply, tolerating code fences and surrounding prose.
func parseScore(raw string) (int, string, error) {
	cleaned := stripFences(raw)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return 0, "", fmt.Errorf("no json object in model reply %q", clip(raw, 120))
	}
	var payload scorePayload
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err != nil {
		return 0, "", fmt.Errorf("decode score reply: %w", err)
	}
	if payload.Score < 0 || payload.Score > 10 {
		return 0, "", fmt.Errorf("score %d out of range", payload.Score)
	}
	return payload.Score, payload.Reason, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// clip cuts s at limit bytes without splitting a rune.
func clip(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
