package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/katerpii/issue-agent/internal/domain"
	"github.com/katerpii/issue-agent/internal/infrastructure/storage/migrations"
	"github.com/katerpii/issue-agent/internal/ports"
)

// timeLayout stores timestamps as UTC strings, so lexicographic and
// chronological order agree.
const timeLayout = "2006-01-02T15:04:05Z"

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var subscriptionColumns = []string{
	"email", "id", "keywords", "sources", "detail",
	"range_start", "range_end", "notify_at", "last_run", "created_at",
}

// SQLite implements ports.SubscriptionStore backed by a SQLite database.
type SQLite struct {
	db      *sql.DB
	seenTTL time.Duration
	now     func() time.Time
}

var _ ports.SubscriptionStore = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
// Delivered-item fingerprints older than seenTTL stop counting as seen.
func NewSQLite(dsn string, seenTTL time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, seenTTL: seenTTL, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Save inserts the subscription or, when the (email, id) pair already
// exists, updates its query and notify time. CreatedAt and LastRun of an
// existing row are left untouched.
func (s *SQLite) Save(ctx context.Context, sub domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	keywords, err := json.Marshal(sub.Query.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	sources, err := json.Marshal(sub.Query.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	var rangeStart, rangeEnd *string
	if sub.Query.Range != nil {
		v := sub.Query.Range.Start.UTC().Format(timeLayout)
		rangeStart = &v
		w := sub.Query.Range.End.UTC().Format(timeLayout)
		rangeEnd = &w
	}
	var lastRun *string
	if sub.LastRun != nil {
		v := sub.LastRun.UTC().Format(timeLayout)
		lastRun = &v
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query, args, err := builder.Insert("subscriptions").
		Columns(subscriptionColumns...).
		Values(sub.Email, sub.ID, string(keywords), string(sources), sub.Query.Detail,
			rangeStart, rangeEnd, sub.NotifyAt, lastRun, created.UTC().Format(timeLayout)).
		Suffix(`ON CONFLICT (email, id) DO UPDATE SET
			keywords = excluded.keywords,
			sources = excluded.sources,
			detail = excluded.detail,
			range_start = excluded.range_start,
			range_end = excluded.range_end,
			notify_at = excluded.notify_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: save subscription: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Get returns one subscription by its owner and id.
func (s *SQLite) Get(ctx context.Context, email, id string) (domain.Subscription, error) {
	query, args, err := builder.Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"email": email, "id": id}).
		ToSql()
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("build get: %w", err)
	}

	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Subscription{}, fmt.Errorf("%w: subscription %s for %s", domain.ErrNotFound, id, email)
	case err != nil:
		return domain.Subscription{}, fmt.Errorf("%w: get subscription: %v", domain.ErrStorageUnavailable, err)
	}
	return sub, nil
}

// ListByEmail returns all subscriptions of one owner, oldest first.
func (s *SQLite) ListByEmail(ctx context.Context, email string) ([]domain.Subscription, error) {
	query, args, err := builder.Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"email": email}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query subscriptions: %v", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListDue returns every subscription whose notify time matches the wall
// clock of now and whose last run happened before today. The caller passes
// now already expressed in the scheduler's location.
func (s *SQLite) ListDue(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	query, args, err := builder.Select(subscriptionColumns...).
		From("subscriptions").
		Where(sq.Eq{"notify_at": now.Format("15:04")}).
		Where(sq.Or{
			sq.Eq{"last_run": nil},
			sq.Lt{"last_run": dayStart.UTC().Format(timeLayout)},
		}).
		OrderBy("email", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list due: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query due subscriptions: %v", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// Delete removes a subscription together with its seen-item history.
func (s *SQLite) Delete(ctx context.Context, email, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin delete: %v", domain.ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := builder.Delete("seen_items").
		Where(sq.Eq{"email": email, "subscription_id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete seen: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: delete seen items: %v", domain.ErrStorageUnavailable, err)
	}

	query, args, err = builder.Delete("subscriptions").
		Where(sq.Eq{"email": email, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete subscription: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: delete subscription: %v", domain.ErrStorageUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete subscription: %v", domain.ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: subscription %s for %s", domain.ErrNotFound, id, email)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit delete: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// UpdateLastRun records when the subscription last produced a digest.
func (s *SQLite) UpdateLastRun(ctx context.Context, email, id string, ranAt time.Time) error {
	query, args, err := builder.Update("subscriptions").
		Set("last_run", ranAt.UTC().Format(timeLayout)).
		Where(sq.Eq{"email": email, "id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update last run: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update last run: %v", domain.ErrStorageUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update last run: %v", domain.ErrStorageUnavailable, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: subscription %s for %s", domain.ErrNotFound, id, email)
	}
	return nil
}

// Seen reports whether the result was already delivered for this
// subscription within the seen TTL.
func (s *SQLite) Seen(ctx context.Context, email, id string, result domain.RawResult) (bool, error) {
	cutoff := s.now().UTC().Add(-s.seenTTL).Format(timeLayout)

	query, args, err := builder.Select("COUNT(*)").
		From("seen_items").
		Where(sq.Eq{"email": email, "subscription_id": id, "fingerprint": fingerprint(result)}).
		Where(sq.Gt{"seen_at": cutoff}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build check seen: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("%w: check seen: %v", domain.ErrStorageUnavailable, err)
	}
	return count > 0, nil
}

// MarkSeen records that the result was delivered for this subscription and
// drops fingerprints that fell out of the TTL window.
func (s *SQLite) MarkSeen(ctx context.Context, email, id string, result domain.RawResult) error {
	now := s.now().UTC()

	query, args, err := builder.Insert("seen_items").
		Columns("email", "subscription_id", "fingerprint", "seen_at").
		Values(email, id, fingerprint(result), now.Format(timeLayout)).
		Suffix("ON CONFLICT (email, subscription_id, fingerprint) DO UPDATE SET seen_at = excluded.seen_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark seen: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: mark seen: %v", domain.ErrStorageUnavailable, err)
	}

	query, args, err = builder.Delete("seen_items").
		Where(sq.Lt{"seen_at": now.Add(-s.seenTTL).Format(timeLayout)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build purge seen: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: purge seen: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubscription(row scannable) (domain.Subscription, error) {
	var sub domain.Subscription
	var keywords, sources string
	var rangeStart, rangeEnd, lastRun, created sql.NullString

	err := row.Scan(&sub.Email, &sub.ID, &keywords, &sources, &sub.Query.Detail,
		&rangeStart, &rangeEnd, &sub.NotifyAt, &lastRun, &created)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("scan subscription: %w", err)
	}

	if err := json.Unmarshal([]byte(keywords), &sub.Query.Keywords); err != nil {
		return domain.Subscription{}, fmt.Errorf("decode keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &sub.Query.Sources); err != nil {
		return domain.Subscription{}, fmt.Errorf("decode sources: %w", err)
	}
	if rangeStart.Valid && rangeEnd.Valid {
		start, _ := time.Parse(timeLayout, rangeStart.String)
		end, _ := time.Parse(timeLayout, rangeEnd.String)
		sub.Query.Range = &domain.DateRange{Start: start, End: end}
	}
	if lastRun.Valid {
		t, _ := time.Parse(timeLayout, lastRun.String)
		sub.LastRun = &t
	}
	if created.Valid {
		sub.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
