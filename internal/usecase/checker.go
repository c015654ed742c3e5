package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

// Checker runs due subscriptions on every tick of the driver.
type Checker struct {
	store    ports.SubscriptionStore
	queries  queryRunner
	notifier ports.Notifier
	driver   ports.Ticker
	loc      *time.Location
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewChecker wires the subscription store and the delivery channel onto the
// tick driver. Due times are evaluated in loc.
func NewChecker(store ports.SubscriptionStore, queries queryRunner, notifier ports.Notifier, driver ports.Ticker, loc *time.Location, log *slog.Logger) *Checker {
	if loc == nil {
		loc = time.UTC
	}
	return &Checker{
		store:    store,
		queries:  queries,
		notifier: notifier,
		driver:   driver,
		loc:      loc,
		log:      log,
		running:  make(map[string]struct{}),
	}
}

// Start registers the check job with the tick driver.
func (c *Checker) Start(ctx context.Context) error {
	return c.driver.Start(ctx, func(now time.Time) { c.Check(ctx, now) })
}

// Stop halts the driver and waits for in-flight subscription runs, up to
// the context deadline.
func (c *Checker) Stop(ctx context.Context) error {
	if err := c.driver.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Check finds every subscription due at now and processes each one in its
// own goroutine. A subscription whose previous run is still in flight is
// skipped until it finishes.
func (c *Checker) Check(ctx context.Context, now time.Time) {
	now = now.In(c.loc)

	due, err := c.store.ListDue(ctx, now)
	if err != nil {
		c.log.Error("list due subscriptions", "error", err)
		return
	}

	for _, sub := range due {
		key := sub.Email + "|" + sub.ID

		c.mu.Lock()
		if _, busy := c.running[key]; busy {
			c.mu.Unlock()
			c.log.Warn("previous run still in flight, skipping", "subscription", sub.ID)
			continue
		}
		c.running[key] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go func(sub domain.Subscription) {
			defer c.wg.Done()
			defer func() {
				c.mu.Lock()
				delete(c.running, key)
				c.mu.Unlock()
			}()
			c.process(ctx, sub, now)
		}(sub)
	}
}

// process runs one subscription end to end. The last-run marker advances
// even when the run fails, so a broken subscription surfaces in the log
// once a day instead of once a tick.
func (c *Checker) process(ctx context.Context, sub domain.Subscription, ranAt time.Time) {
	log := c.log.With("subscription", sub.ID, "email", sub.Email)

	defer func() {
		if err := c.store.UpdateLastRun(ctx, sub.Email, sub.ID, ranAt); err != nil {
			log.Error("update last run", "error", err)
		}
	}()

	res, err := c.queries.Execute(ctx, sub.Query)
	if err != nil {
		log.Error("subscription query failed", "error", err)
		return
	}

	fresh := c.dropSeen(ctx, sub, res)
	if fresh.TotalCount == 0 {
		log.Info("no new results", "found", res.TotalCount)
		return
	}

	if c.notifier == nil {
		log.Warn("no delivery channel configured, digest not sent")
		return
	}
	if err := c.notifier.Deliver(ctx, sub, fresh); err != nil {
		log.Error("deliver digest", "error", err)
		return
	}
	c.markSeen(ctx, sub, fresh)
	log.Info("digest delivered", "new", fresh.TotalCount, "found", res.TotalCount)
}

// dropSeen removes items that were already delivered for this subscription.
// When the seen check itself fails the item is kept: a duplicate mail beats
// a silently lost one.
func (c *Checker) dropSeen(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) domain.FilteredResult {
	fresh := domain.FilteredResult{
		BySource: make(map[string][]domain.ScoredResult),
		Sources:  res.Sources,
		Summary:  res.Summary,
	}
	for source, items := range res.BySource {
		for _, item := range items {
			seen, err := c.store.Seen(ctx, sub.Email, sub.ID, item.RawResult)
			if err != nil {
				c.log.Warn("seen check failed, keeping item", "url", item.URL, "error", err)
			} else if seen {
				continue
			}
			fresh.BySource[source] = append(fresh.BySource[source], item)
			fresh.TotalCount++
		}
	}
	return fresh
}

func (c *Checker) markSeen(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) {
	for _, items := range res.BySource {
		for _, item := range items {
			if err := c.store.MarkSeen(ctx, sub.Email, sub.ID, item.RawResult); err != nil {
				c.log.Warn("mark seen failed", "url", item.URL, "error", err)
			}
		}
	}
}
