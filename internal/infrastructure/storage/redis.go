package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/ports"
)

// indexKey holds one "email|id" member per stored subscription, so the
// scheduler can enumerate all of them without a KEYS scan.
const indexKey = "subscription:index"

// Redis implements ports.SubscriptionStore backed by a Redis server.
// Seen fingerprints expire through the key TTL instead of an explicit purge.
type Redis struct {
	client  *redis.Client
	seenTTL time.Duration
}

var _ ports.SubscriptionStore = (*Redis)(nil)

// NewRedis connects to the Redis server at addr and verifies the connection
// with a ping before returning.
func NewRedis(addr, password string, db int, seenTTL time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis at %s: %v", domain.ErrStorageUnavailable, addr, err)
	}

	return &Redis{client: client, seenTTL: seenTTL}, nil
}

// Close closes the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Save stores the subscription document and registers it in the per-owner
// set and the global index. CreatedAt and LastRun of an existing
// subscription are carried over, matching the SQLite upsert.
func (r *Redis) Save(ctx context.Context, sub domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	existing, err := r.Get(ctx, sub.Email, sub.ID)
	switch {
	case err == nil:
		sub.LastRun = existing.LastRun
		sub.CreatedAt = existing.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		if sub.CreatedAt.IsZero() {
			sub.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}

	payload, err := json.Marshal(newSubscriptionRecord(sub))
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, subscriptionKey(sub.Email, sub.ID), payload, 0)
		pipe.SAdd(ctx, ownerKey(sub.Email), sub.ID)
		pipe.SAdd(ctx, indexKey, sub.Email+"|"+sub.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: save subscription: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Get returns one subscription by its owner and id.
func (r *Redis) Get(ctx context.Context, email, id string) (domain.Subscription, error) {
	payload, err := r.client.Get(ctx, subscriptionKey(email, id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return domain.Subscription{}, fmt.Errorf("%w: subscription %s for %s", domain.ErrNotFound, id, email)
	case err != nil:
		return domain.Subscription{}, fmt.Errorf("%w: get subscription: %v", domain.ErrStorageUnavailable, err)
	}

	var rec subscriptionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.Subscription{}, fmt.Errorf("%w: decode subscription: %v", domain.ErrStorageUnavailable, err)
	}
	return rec.subscription(), nil
}

// ListByEmail returns all subscriptions of one owner, oldest first.
func (r *Redis) ListByEmail(ctx context.Context, email string) ([]domain.Subscription, error) {
	ids, err := r.client.SMembers(ctx, ownerKey(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list subscriptions: %v", domain.ErrStorageUnavailable, err)
	}

	subs := make([]domain.Subscription, 0, len(ids))
	for _, id := range ids {
		sub, err := r.Get(ctx, email, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	sortSubscriptions(subs)
	return subs, nil
}

// ListDue enumerates the index and keeps every subscription that is due at
// now. The caller passes now already expressed in the scheduler's location.
func (r *Redis) ListDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: list due subscriptions: %v", domain.ErrStorageUnavailable, err)
	}

	var due []domain.Subscription
	for _, member := range members {
		email, id, ok := strings.Cut(member, "|")
		if !ok {
			continue
		}
		sub, err := r.Get(ctx, email, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Due(now) {
			due = append(due, sub)
		}
	}
	sortSubscriptions(due)
	return due, nil
}

// Delete removes the subscription document, its index entries and its seen
// fingerprints.
func (r *Redis) Delete(ctx context.Context, email, id string) error {
	exists, err := r.client.Exists(ctx, subscriptionKey(email, id)).Result()
	if err != nil {
		return fmt.Errorf("%w: delete subscription: %v", domain.ErrStorageUnavailable, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: subscription %s for %s", domain.ErrNotFound, id, email)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, subscriptionKey(email, id))
		pipe.SRem(ctx, ownerKey(email), id)
		pipe.SRem(ctx, indexKey, email+"|"+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete subscription: %v", domain.ErrStorageUnavailable, err)
	}

	var seenKeys []string
	iter := r.client.Scan(ctx, 0, seenKeyPrefix(email, id)+"*", 100).Iterator()
	for iter.Next(ctx) {
		seenKeys = append(seenKeys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan seen items: %v", domain.ErrStorageUnavailable, err)
	}
	if len(seenKeys) > 0 {
		if err := r.client.Del(ctx, seenKeys...).Err(); err != nil {
			return fmt.Errorf("%w: delete seen items: %v", domain.ErrStorageUnavailable, err)
		}
	}
	return nil
}

// UpdateLastRun records when the subscription last produced a digest.
func (r *Redis) UpdateLastRun(ctx context.Context, email, id string, ranAt time.Time) error {
	sub, err := r.Get(ctx, email, id)
	if err != nil {
		return err
	}

	t := ranAt.UTC()
	sub.LastRun = &t
	payload, err := json.Marshal(newSubscriptionRecord(sub))
	if err != nil {
		return fmt.Errorf("encode subscription: %w", err)
	}
	if err := r.client.Set(ctx, subscriptionKey(email, id), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: update last run: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Seen reports whether the result was already delivered for this
// subscription and its fingerprint key has not expired yet.
func (r *Redis) Seen(ctx context.Context, email, id string, result domain.RawResult) (bool, error) {
	n, err := r.client.Exists(ctx, seenKeyPrefix(email, id)+fingerprint(result)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check seen: %v", domain.ErrStorageUnavailable, err)
	}
	return n > 0, nil
}

// MarkSeen records the result fingerprint with the configured TTL.
func (r *Redis) MarkSeen(ctx context.Context, email, id string, result domain.RawResult) error {
	key := seenKeyPrefix(email, id) + fingerprint(result)
	if err := r.client.Set(ctx, key, 1, r.seenTTL).Err(); err != nil {
		return fmt.Errorf("%w: mark seen: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func subscriptionKey(email, id string) string {
	return fmt.Sprintf("subscription:%s:%s", email, id)
}

func ownerKey(email string) string {
	return fmt.Sprintf("subscriptions:%s", email)
}

func seenKeyPrefix(email, id string) string {
	return fmt.Sprintf("seen:%s:%s:", email, id)
}

func sortSubscriptions(subs []domain.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})
}

// subscriptionRecord is the JSON document stored per subscription.
type subscriptionRecord struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Keywords   []string   `json:"keywords"`
	Sources    []string   `json:"sources"`
	Detail     string     `json:"detail"`
	RangeStart *time.Time `json:"rangeStart,omitempty"`
	RangeEnd   *time.Time `json:"rangeEnd,omitempty"`
	NotifyAt   string     `json:"notifyAt"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func newSubscriptionRecord(sub domain.Subscription) subscriptionRecord {
	rec := subscriptionRecord{
		ID:        sub.ID,
		Email:     sub.Email,
		Keywords:  sub.Query.Keywords,
		Sources:   sub.Query.Sources,
		Detail:    sub.Query.Detail,
		NotifyAt:  sub.NotifyAt,
		LastRun:   sub.LastRun,
		CreatedAt: sub.CreatedAt,
	}
	if sub.Query.Range != nil {
		rec.RangeStart = &sub.Query.Range.Start
		rec.RangeEnd = &sub.Query.Range.End
	}
	return rec
}

func (rec subscriptionRecord) subscription() domain.Subscription {
	sub := domain.Subscription{
		ID:    rec.ID,
		Email: rec.Email,
		Query: domain.Query{
			Keywords: rec.Keywords,
			Sources:  rec.Sources,
			Detail:   rec.Detail,
		},
		NotifyAt:  rec.NotifyAt,
		LastRun:   rec.LastRun,
		CreatedAt: rec.CreatedAt,
	}
	if rec.RangeStart != nil && rec.RangeEnd != nil {
		sub.Query.Range = &domain.DateRange{Start: *rec.RangeStart, End: *rec.RangeEnd}
	}
	return sub
}
