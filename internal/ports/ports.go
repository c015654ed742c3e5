package ports

import (
	"context"
	"time"

	"github.com/katerpii/issue-agent/internal/domain"
)

// Scorer rates how well one result matches the query, 0 to 10.
type Scorer interface {
	Score(ctx context.Context, query domain.Query, result domain.RawResult) (int, string, error)
}

// Summarizer condenses the surviving results into a short overview.
type Summarizer interface {
	Summarize(ctx context.Context, query domain.Query, results []domain.ScoredResult) (string, error)
}

// SubscriptionStore persists subscriptions and remembers delivered items.
type SubscriptionStore interface {
	Save(ctx context.Context, sub domain.Subscription) error
	Get(ctx context.Context, email, id string) (domain.Subscription, error)
	ListByEmail(ctx context.Context, email string) ([]domain.Subscription, error)
	ListDue(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	Delete(ctx context.Context, email, id string) error
	UpdateLastRun(ctx context.Context, email, id string, ranAt time.Time) error
	Seen(ctx context.Context, email, id string, result domain.RawResult) (bool, error)
	MarkSeen(ctx context.Context, email, id string, result domain.RawResult) error
}

// Notifier delivers a finished digest to the subscriber.
type Notifier interface {
	Deliver(ctx context.Context, sub domain.Subscription, res domain.FilteredResult) error
}

// Ticker controls when subscription checks execute.
type Ticker interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
