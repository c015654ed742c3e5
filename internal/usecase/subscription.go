package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

// SubscriptionService manages stored queries and their on-demand runs.
type SubscriptionService struct {
	store    ports.SubscriptionStore
	queries  queryRunner
	notifier ports.Notifier
	log      *slog.Logger
}

// NewSubscriptionService wires the store, the query runner and the
// delivery channel together.
func NewSubscriptionService(store ports.SubscriptionStore, queries queryRunner, notifier ports.Notifier, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{store: store, queries: queries, notifier: notifier, log: log}
}

// Create registers a daily subscription. notifyAt is HH:MM in the
// scheduler's location.
func (s *SubscriptionService) Create(ctx context.Context, email string, keywords, sources []string, detail string, rng *domain.DateRange, notifyAt string) (domain.Subscription, error) {
	query, err := domain.NewQuery(keywords, sources, detail, rng)
	if err != nil {
		return domain.Subscription{}, err
	}

	sub := domain.Subscription{
		ID:        uuid.New().String(),
		Email:     email,
		Query:     query,
		NotifyAt:  notifyAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, sub); err != nil {
		return domain.Subscription{}, err
	}

	s.log.Info("subscription created", "id", sub.ID, "email", email, "notify_at", notifyAt)
	return sub, nil
}

// List returns all subscriptions of one owner.
func (s *SubscriptionService) List(ctx context.Context, email string) ([]domain.Subscription, error) {
	return s.store.ListByEmail(ctx, email)
}

// Remove deletes a subscription and its delivery history.
func (s *SubscriptionService) Remove(ctx context.Context, email, id string) error {
	if err := s.store.Delete(ctx, email, id); err != nil {
		return err
	}
	s.log.Info("subscription removed", "id", id, "email", email)
	return nil
}

// Trigger runs one subscription immediately, regardless of its schedule.
// The digest skips the seen history in both directions: previously
// delivered items show up again and nothing is marked seen, so the next
// scheduled run is unaffected. The returned digest is valid even when
// delivery fails.
func (s *SubscriptionService) Trigger(ctx context.Context, email, id string) (domain.FilteredResult, error) {
	sub, err := s.store.Get(ctx, email, id)
	if err != nil {
		return domain.FilteredResult{}, err
	}

	res, err := s.queries.Execute(ctx, sub.Query)
	if err != nil {
		return domain.FilteredResult{}, err
	}

	if s.notifier == nil {
		s.log.Warn("no delivery channel configured, digest not sent", "id", id)
		return res, nil
	}
	if err := s.notifier.Deliver(ctx, sub, res); err != nil {
		return res, fmt.Errorf("deliver digest: %w", err)
	}
	return res, nil
}
