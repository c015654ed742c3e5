package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/katerpii/issue-agent/internal/domain"
)

func newSubscriptionService(store *memStore, runner *fakeRunner, notifier *fakeNotifier) *SubscriptionService {
	return NewSubscriptionService(store, runner, notifier, slog.New(slog.DiscardHandler))
}

func TestCreatePersistsWithGeneratedID(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newSubscriptionService(store, &fakeRunner{}, &fakeNotifier{})

	sub, err := svc.Create(ctx, "dev@example.com", []string{"rust"}, []string{"google"}, "prefer release notes", nil, "08:00")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(sub.ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", sub.ID, err)
	}
	if sub.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	stored, err := store.Get(ctx, "dev@example.com", sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.NotifyAt != "08:00" {
		t.Errorf("stored notify at = %q", stored.NotifyAt)
	}
	if stored.Query.Detail != "prefer release notes" {
		t.Errorf("stored detail = %q", stored.Query.Detail)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc := newSubscriptionService(newMemStore(), &fakeRunner{}, &fakeNotifier{})

	tests := []struct {
		name     string
		email    string
		keywords []string
		notifyAt string
	}{
		{"no keywords", "dev@example.com", nil, "08:00"},
		{"bad email", "not an address", []string{"rust"}, "08:00"},
		{"bad notify time", "dev@example.com", []string{"rust"}, "25:99"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.email, tt.keywords, []string{"google"}, "", nil, tt.notifyAt)
			if !errors.Is(err, domain.ErrInvalidQuery) {
				t.Fatalf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestTriggerRunsRegardlessOfScheduleAndSeenHistory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	sub := dueSub()
	ran := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	sub.LastRun = &ran
	if err := store.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	seen := domain.RawResult{Source: "google", Title: "Result https://example.com/a", URL: "https://example.com/a"}
	if err := store.MarkSeen(ctx, sub.Email, sub.ID, seen); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	runner := &fakeRunner{res: twoItemDigest()}
	notifier := &fakeNotifier{}
	svc := newSubscriptionService(store, runner, notifier)

	res, err := svc.Trigger(ctx, sub.Email, sub.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("result count = %d, want the full digest including seen items", res.TotalCount)
	}
	if len(notifier.deliveries()) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(notifier.deliveries()))
	}
	if store.seenCount() != 1 {
		t.Errorf("seen entries = %d, want the history untouched", store.seenCount())
	}
	if last := store.lastRun(sub.Email, sub.ID); last == nil || !last.Equal(ran) {
		t.Errorf("last run = %v, manual runs must not advance the schedule", last)
	}
}

func TestTriggerUnknownSubscription(t *testing.T) {
	ctx := context.Background()
	svc := newSubscriptionService(newMemStore(), &fakeRunner{}, &fakeNotifier{})

	_, err := svc.Trigger(ctx, "dev@example.com", "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerReturnsDigestOnDeliveryFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	runner := &fakeRunner{res: twoItemDigest()}
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	svc := newSubscriptionService(store, runner, notifier)

	res, err := svc.Trigger(ctx, "dev@example.com", "sub-1")
	if err == nil || !strings.Contains(err.Error(), "deliver digest") {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if res.TotalCount != 2 {
		t.Errorf("result count = %d, want the digest despite the failed delivery", res.TotalCount)
	}
}

func TestRemoveDeletesSubscription(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	svc := newSubscriptionService(store, &fakeRunner{}, &fakeNotifier{})

	if err := svc.Remove(ctx, "dev@example.com", "sub-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Get(ctx, "dev@example.com", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected subscription to be gone, got %v", err)
	}
	if err := svc.Remove(ctx, "dev@example.com", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
}
