package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/source"
)

// Report describes the outcome of one source crawl.
type Report struct {
	Source   string
	Results  []domain.RawResult
	Err      error
	Degraded bool
	Attempts int
	Elapsed  time.Duration
}

// Bundle aggregates the per-source reports produced for one query.
// Reports keep the order sources were requested in.
type Bundle struct {
	Reports []Report
}

// Merged flattens all reports into one list, keeping only the first
// occurrence of every (source, url) pair.
func (b *Bundle) Merged() []domain.RawResult {
	seen := make(map[string]struct{})
	var merged []domain.RawResult
	for _, report := range b.Reports {
		for _, res := range report.Results {
			key := res.Source + "|" + res.URL
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, res)
		}
	}
	return merged
}

// Failed returns the reports of sources that produced nothing usable.
// Degraded sources are not failures: their partial results are kept.
func (b *Bundle) Failed() []Report {
	var failed []Report
	for _, report := range b.Reports {
		if report.Err != nil && !report.Degraded {
			failed = append(failed, report)
		}
	}
	return failed
}

// Options bound the crawl work done per source.
type Options struct {
	SourceTimeout  time.Duration
	MaxAttempts    int
	RetryBase      time.Duration
	PerSourceLimit int
}

// Orchestrator fans a query out to its sources and collects the reports.
type Orchestrator struct {
	registry *source.Registry
	opts     Options
	logger   *slog.Logger
}

// New builds an orchestrator over the given registry.
func New(registry *source.Registry, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Orchestrator{registry: registry, opts: opts, logger: logger}
}

// Dispatch crawls every requested source concurrently and returns one bundle.
// A source failing is not an error here; its report carries the cause and the
// other sources still contribute. Dispatch fails only when the query names a
// source the registry does not know.
func (o *Orchestrator) Dispatch(ctx context.Context, query domain.Query) (*Bundle, error) {
	adapters := make([]source.Adapter, 0, len(query.Sources))
	requested := make(map[string]struct{}, len(query.Sources))
	for _, name := range query.Sources {
		if _, ok := requested[name]; ok {
			continue
		}
		requested[name] = struct{}{}
		adapter, err := o.registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("%w: no sources requested", domain.ErrInvalidQuery)
	}

	reports := make([]Report, len(adapters))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, adapter := range adapters {
		eg.Go(func() error {
			reports[i] = o.crawlOne(egCtx, adapter, query)
			return nil
		})
	}
	_ = eg.Wait()

	bundle := &Bundle{Reports: reports}
	o.logger.Info("crawl finished",
		"sources", len(adapters),
		"results", len(bundle.Merged()),
		"failed", len(bundle.Failed()))
	return bundle, nil
}

func (o *Orchestrator) crawlOne(ctx context.Context, adapter source.Adapter, query domain.Query) (report Report) {
	report.Source = adapter.Name()
	started := time.Now()
	defer func() {
		report.Elapsed = time.Since(started)
	}()

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		report.Attempts = attempt
		crawlCtx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
		results, err := adapter.Crawl(crawlCtx, query)
		cancel()

		switch {
		case err == nil:
			report.Results = o.normalize(adapter.Name(), results)
			return report
		case errors.Is(err, domain.ErrSourceDegraded):
			// Partial answer: keep what arrived, do not retry.
			report.Results = o.normalize(adapter.Name(), results)
			report.Degraded = true
			report.Err = err
			o.logger.Warn("source degraded",
				"source", adapter.Name(), "kept", len(report.Results), "error", err)
			return report
		case transient(err) && attempt < o.opts.MaxAttempts:
			delay := o.opts.RetryBase << uint(attempt-1)
			o.logger.Warn("source crawl retry",
				"source", adapter.Name(), "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				report.Err = ctx.Err()
				return report
			case <-time.After(delay):
			}
		default:
			report.Err = err
			o.logger.Error("source crawl failed",
				"source", adapter.Name(), "attempt", attempt, "error", err)
			return report
		}
	}
	return report
}

func transient(err error) bool {
	return errors.Is(err, domain.ErrSourceUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// normalize tags untagged results, drops the ones without a usable identity
// and caps the list at the per-source limit.
func (o *Orchestrator) normalize(name string, results []domain.RawResult) []domain.RawResult {
	kept := make([]domain.RawResult, 0, len(results))
	for _, res := range results {
		if res.Source == "" {
			res.Source = name
		}
		if !res.Valid() {
			continue
		}
		kept = append(kept, res)
		if o.opts.PerSourceLimit > 0 && len(kept) == o.opts.PerSourceLimit {
			break
		}
	}
	return kept
}
