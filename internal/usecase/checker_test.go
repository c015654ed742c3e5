package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/katerpii/issue-agent/internal/domain"
)

type memStore struct {
	mu   sync.Mutex
	subs map[string]domain.Subscription
	seen map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{
		subs: make(map[string]domain.Subscription),
		seen: make(map[string]struct{}),
	}
}

func storeKey(email, id string) string { return email + "|" + id }

func seenKey(email, id string, res domain.RawResult) string {
	return email + "|" + id + "|" + res.Source + "|" + res.URL
}

func (m *memStore) Save(_ context.Context, sub domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[storeKey(sub.Email, sub.ID)] = sub
	return nil
}

func (m *memStore) Get(_ context.Context, email, id string) (domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[storeKey(email, id)]
	if !ok {
		return domain.Subscription{}, fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}
	return sub, nil
}

func (m *memStore) ListByEmail(_ context.Context, email string) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []domain.Subscription
	for _, sub := range m.subs {
		if sub.Email == email {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (m *memStore) ListDue(_ context.Context, now time.Time) ([]domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.Subscription
	for _, sub := range m.subs {
		if sub.Due(now) {
			due = append(due, sub)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *memStore) Delete(_ context.Context, email, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(email, id)
	if _, ok := m.subs[key]; !ok {
		return fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}
	delete(m.subs, key)
	return nil
}

func (m *memStore) UpdateLastRun(_ context.Context, email, id string, ranAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(email, id)
	sub, ok := m.subs[key]
	if !ok {
		return fmt.Errorf("%w: subscription %s", domain.ErrNotFound, id)
	}
	sub.LastRun = &ranAt
	m.subs[key] = sub
	return nil
}

func (m *memStore) Seen(_ context.Context, email, id string, res domain.RawResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[seenKey(email, id, res)]
	return ok, nil
}

func (m *memStore) MarkSeen(_ context.Context, email, id string, res domain.RawResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[seenKey(email, id, res)] = struct{}{}
	return nil
}

func (m *memStore) seenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *memStore) lastRun(email, id string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[storeKey(email, id)].LastRun
}

type fakeRunner struct {
	mu      sync.Mutex
	res     domain.FilteredResult
	err     error
	block   chan struct{}
	started chan struct{}
	calls   int
}

func (f *fakeRunner) Execute(context.Context, domain.Query) (domain.FilteredResult, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	started := f.started
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	return f.res, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	delivered []domain.FilteredResult
	receivers []domain.Subscription
}

func (f *fakeNotifier) Deliver(_ context.Context, sub domain.Subscription, res domain.FilteredResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.receivers = append(f.receivers, sub)
	f.delivered = append(f.delivered, res)
	return nil
}

func (f *fakeNotifier) deliveries() []domain.FilteredResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.FilteredResult(nil), f.delivered...)
}

func scoredItem(source, url string, score int) domain.ScoredResult {
	return domain.ScoredResult{
		RawResult: domain.RawResult{Source: source, Title: "Result " + url, URL: url},
		Score:     score,
	}
}

func twoItemDigest() domain.FilteredResult {
	return domain.FilteredResult{
		BySource: map[string][]domain.ScoredResult{
			"google": {scoredItem("google", "https://example.com/a", 8)},
			"reddit": {scoredItem("reddit", "https://example.com/b", 6)},
		},
		Sources:    []string{"google", "reddit"},
		TotalCount: 2,
		Summary:    "two finds",
	}
}

func dueSub() domain.Subscription {
	return domain.Subscription{
		ID:        "sub-1",
		Email:     "dev@example.com",
		Query:     domain.Query{Keywords: []string{"rust"}, Sources: []string{"google", "reddit"}},
		NotifyAt:  "08:00",
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func checkerAt() time.Time {
	return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
}

func newChecker(store *memStore, runner *fakeRunner, notifier *fakeNotifier) *Checker {
	return NewChecker(store, runner, notifier, nil, time.UTC, slog.New(slog.DiscardHandler))
}

func TestCheckDeliversDueSubscriptionAndMarksSeen(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	runner := &fakeRunner{res: twoItemDigest()}
	notifier := &fakeNotifier{}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	c.wg.Wait()

	got := notifier.deliveries()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].TotalCount != 2 {
		t.Errorf("delivered count = %d, want 2", got[0].TotalCount)
	}
	if store.seenCount() != 2 {
		t.Errorf("seen entries = %d, want 2", store.seenCount())
	}
	last := store.lastRun("dev@example.com", "sub-1")
	if last == nil || !last.Equal(checkerAt()) {
		t.Errorf("last run = %v, want %v", last, checkerAt())
	}
}

func TestCheckDropsAlreadySeenItems(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	seen := domain.RawResult{Source: "google", Title: "Result https://example.com/a", URL: "https://example.com/a"}
	if err := store.MarkSeen(ctx, "dev@example.com", "sub-1", seen); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	runner := &fakeRunner{res: twoItemDigest()}
	notifier := &fakeNotifier{}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	c.wg.Wait()

	got := notifier.deliveries()
	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if got[0].TotalCount != 1 {
		t.Fatalf("delivered count = %d, want 1", got[0].TotalCount)
	}
	if _, ok := got[0].BySource["reddit"]; !ok {
		t.Error("expected the unseen reddit item to be delivered")
	}
	if _, ok := got[0].BySource["google"]; ok {
		t.Error("seen google item should have been dropped")
	}
}

func TestCheckAllSeenSkipsDeliveryButAdvancesLastRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	digest := twoItemDigest()
	for _, items := range digest.BySource {
		for _, item := range items {
			if err := store.MarkSeen(ctx, "dev@example.com", "sub-1", item.RawResult); err != nil {
				t.Fatalf("mark seen: %v", err)
			}
		}
	}
	runner := &fakeRunner{res: digest}
	notifier := &fakeNotifier{}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	c.wg.Wait()

	if len(notifier.deliveries()) != 0 {
		t.Error("expected no delivery when everything was already seen")
	}
	if store.lastRun("dev@example.com", "sub-1") == nil {
		t.Error("expected last run to advance anyway")
	}
}

func TestCheckDeliveryFailureLeavesItemsUnseen(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	runner := &fakeRunner{res: twoItemDigest()}
	notifier := &fakeNotifier{err: fmt.Errorf("smtp down")}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	c.wg.Wait()

	if store.seenCount() != 0 {
		t.Errorf("seen entries = %d, want 0 after failed delivery", store.seenCount())
	}
	if store.lastRun("dev@example.com", "sub-1") == nil {
		t.Error("expected last run to advance anyway")
	}
}

func TestCheckQueryFailureStillAdvancesLastRun(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	runner := &fakeRunner{err: fmt.Errorf("%w: usenet", domain.ErrUnknownSource)}
	notifier := &fakeNotifier{}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	c.wg.Wait()

	if len(notifier.deliveries()) != 0 {
		t.Error("expected no delivery on query failure")
	}
	if store.lastRun("dev@example.com", "sub-1") == nil {
		t.Error("expected last run to advance on failure")
	}
}

func TestCheckSkipsSubscriptionStillInFlight(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	if err := store.Save(ctx, dueSub()); err != nil {
		t.Fatalf("save: %v", err)
	}
	runner := &fakeRunner{
		res:     twoItemDigest(),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	notifier := &fakeNotifier{}
	c := newChecker(store, runner, notifier)

	c.Check(ctx, checkerAt())
	<-runner.started
	c.Check(ctx, checkerAt())

	if got := runner.callCount(); got != 1 {
		t.Errorf("runner calls = %d, want 1 while first run is in flight", got)
	}

	close(runner.block)
	c.wg.Wait()

	if len(notifier.deliveries()) != 1 {
		t.Errorf("deliveries = %d, want 1", len(notifier.deliveries()))
	}

	// The finished run advanced LastRun, so the same minute is not due again.
	c.Check(ctx, checkerAt())
	c.wg.Wait()
	if got := runner.callCount(); got != 1 {
		t.Errorf("runner calls = %d, want 1 after last run advanced", got)
	}
}
