package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/katerpii/issue-agent/internal/domain"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSub(id, email string) domain.Subscription {
	return domain.Subscription{
		ID:    id,
		Email: email,
		Query: domain.Query{
			Keywords: []string{"rust", "memory safety"},
			Sources:  []string{"google", "reddit"},
			Detail:   "prefer deep dives over news",
		},
		NotifyAt:  "08:00",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := testSub("sub-1", "dev@example.com")
	sub.Query.Range = &domain.DateRange{
		Start: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "dev@example.com", "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(sub, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "dev@example.com", "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveUpdateKeepsCreatedAtAndLastRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := testSub("sub-1", "dev@example.com")
	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	ranAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := s.UpdateLastRun(ctx, sub.Email, sub.ID, ranAt); err != nil {
		t.Fatalf("update last run: %v", err)
	}

	edited := sub
	edited.Query.Keywords = []string{"zig"}
	edited.NotifyAt = "21:30"
	edited.CreatedAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, edited); err != nil {
		t.Fatalf("save update: %v", err)
	}

	got, err := s.Get(ctx, sub.Email, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"zig"}, got.Query.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if got.NotifyAt != "21:30" {
		t.Errorf("notify at = %q, want %q", got.NotifyAt, "21:30")
	}
	if !got.CreatedAt.Equal(sub.CreatedAt) {
		t.Errorf("created at changed on update: %v", got.CreatedAt)
	}
	if got.LastRun == nil || !got.LastRun.Equal(ranAt) {
		t.Errorf("last run changed on update: %v", got.LastRun)
	}

	subs, err := s.ListByEmail(ctx, sub.Email)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription after update, got %d", len(subs))
	}
}

func TestSaveRejectsInvalidSubscription(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := testSub("sub-1", "not an address")
	err := s.Save(ctx, sub)
	if !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}

	if _, err := s.Get(ctx, "not an address", "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("invalid subscription was stored: %v", err)
	}
}

func TestListByEmailOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	second := testSub("b", "dev@example.com")
	second.CreatedAt = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	first := testSub("a", "dev@example.com")
	first.CreatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	other := testSub("c", "other@example.com")

	for _, sub := range []domain.Subscription{second, first, other} {
		if err := s.Save(ctx, sub); err != nil {
			t.Fatalf("save %s: %v", sub.ID, err)
		}
	}

	got, err := s.ListByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]domain.Subscription{first, second}, got); diff != "" {
		t.Errorf("ListByEmail mismatch (-want +got):\n%s", diff)
	}
}

func TestListDueHonorsClockAndLastRunDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, berlin)

	at := func(year int, month time.Month, day, hour, min int) *time.Time {
		v := time.Date(year, month, day, hour, min, 0, 0, berlin)
		return &v
	}

	// late-yesterday and early-today sit on the Berlin midnight boundary:
	// the first must fire again, the second ran today even though its UTC
	// timestamp still belongs to March 9.
	subs := map[string]*time.Time{
		"fresh":          nil,
		"ran-yesterday":  at(2026, 3, 9, 8, 1),
		"ran-today":      at(2026, 3, 10, 7, 0),
		"late-yesterday": at(2026, 3, 9, 23, 30),
		"early-today":    at(2026, 3, 10, 0, 30),
	}
	for id, lastRun := range subs {
		sub := testSub(id, "dev@example.com")
		sub.LastRun = lastRun
		if err := s.Save(ctx, sub); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	offSchedule := testSub("off-schedule", "dev@example.com")
	offSchedule.NotifyAt = "08:30"
	if err := s.Save(ctx, offSchedule); err != nil {
		t.Fatalf("save off-schedule: %v", err)
	}

	due, err := s.ListDue(ctx, now)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}

	var ids []string
	for _, sub := range due {
		ids = append(ids, sub.ID)
	}
	want := []string{"fresh", "late-yesterday", "ran-yesterday"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("due ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteRemovesSubscriptionAndSeenItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sub := testSub("sub-1", "dev@example.com")
	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("save: %v", err)
	}
	res := domain.RawResult{Source: "google", Title: "Hit", URL: "https://example.com/a"}
	if err := s.MarkSeen(ctx, sub.Email, sub.ID, res); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	if err := s.Delete(ctx, sub.Email, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := s.Get(ctx, sub.Email, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	seen, err := s.Seen(ctx, sub.Email, sub.ID, res)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Error("expected seen history to be deleted")
	}

	if err := s.Delete(ctx, sub.Email, sub.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestUpdateLastRunMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.UpdateLastRun(ctx, "dev@example.com", "nope", time.Now())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSeenIsScopedPerSubscriptionAndSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	res := domain.RawResult{Source: "google", Title: "Hit", URL: "https://example.com/a"}
	if err := s.MarkSeen(ctx, "dev@example.com", "sub-1", res); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	tests := []struct {
		name   string
		email  string
		id     string
		result domain.RawResult
		want   bool
	}{
		{"same subscription", "dev@example.com", "sub-1", res, true},
		{"other subscription", "dev@example.com", "sub-2", res, false},
		{"other owner", "other@example.com", "sub-1", res, false},
		{"same url other source", "dev@example.com", "sub-1",
			domain.RawResult{Source: "reddit", Title: "Hit", URL: "https://example.com/a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Seen(ctx, tt.email, tt.id, tt.result)
			if err != nil {
				t.Fatalf("seen: %v", err)
			}
			if got != tt.want {
				t.Errorf("seen = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeenExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	res := domain.RawResult{Source: "google", Title: "Hit", URL: "https://example.com/a"}
	if err := s.MarkSeen(ctx, "dev@example.com", "sub-1", res); err != nil {
		t.Fatalf("mark seen: %v", err)
	}

	seen, err := s.Seen(ctx, "dev@example.com", "sub-1", res)
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if !seen {
		t.Fatal("expected item to be seen right after marking")
	}

	s.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }

	seen, err = s.Seen(ctx, "dev@example.com", "sub-1", res)
	if err != nil {
		t.Fatalf("seen after ttl: %v", err)
	}
	if seen {
		t.Error("expected seen mark to expire")
	}
}
