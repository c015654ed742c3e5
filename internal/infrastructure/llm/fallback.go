package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

// Backend is a single model endpoint able to answer a free-form prompt.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Fallback chains model backends. Each backend is retried with exponential
// backoff while its failures look transient, then the next one takes over.
type Fallback struct {
	backends  []Backend
	attempts  int
	retryBase time.Duration
	logger    *slog.Logger
}

var (
	_ ports.Scorer     = (*Fallback)(nil)
	_ ports.Summarizer = (*Fallback)(nil)
)

// NewFallback builds the chain in priority order.
func NewFallback(logger *slog.Logger, attempts int, retryBase time.Duration, backends ...Backend) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if attempts <= 0 {
		attempts = 1
	}
	if retryBase <= 0 {
		retryBase = time.Second
	}
	return &Fallback{backends: backends, attempts: attempts, retryBase: retryBase, logger: logger}
}

// Score rates one result against the query. A fully exhausted chain is
// reported as ErrScoringUnavailable; a malformed model answer is a plain
// error scoped to this one item.
func (f *Fallback) Score(ctx context.Context, query domain.Query, res domain.RawResult) (int, string, error) {
	raw, err := f.generate(ctx, scorePrompt(query, res))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", domain.ErrScoringUnavailable, err)
	}
	return parseScore(raw)
}

// Summarize produces the digest text for the retained results.
func (f *Fallback) Summarize(ctx context.Context, query domain.Query, items []domain.ScoredResult) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	raw, err := f.generate(ctx, summaryPrompt(query, items))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(raw), nil
}

// Close releases the backends that hold connections.
func (f *Fallback) Close() error {
	var errs []error
	for _, b := range f.backends {
		if closer, ok := b.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Fallback) generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, b := range f.backends {
		text, err := f.generateWith(ctx, b, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		f.logger.Warn("model backend exhausted", "backend", b.Name(), "error", err)
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no model backend configured")
	}
	return "", lastErr
}

func (f *Fallback) generateWith(ctx context.Context, b Backend, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		text, err := b.Generate(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrLLMUnavailable) || attempt == f.attempts {
			break
		}
		delay := f.retryBase << uint(attempt-1)
		f.logger.Debug("model call retry",
			"backend", b.Name(), "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", lastErr
}
