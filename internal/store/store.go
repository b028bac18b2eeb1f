package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/caseyvance/webhookrelay/internal/tracing"
)

// Store is C1, the durable event store. All mutation happens through the
// three atomic primitives below. The one read-then-write, RecordAttempt's
// status check, runs inside a transaction that holds the row lock.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool as a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert records a freshly-received event with status=RECEIVED. If
// idempotency_key is present and already stored, it returns the existing id
// and ErrDuplicate; the caller must not enqueue in that case.
func (s *Store) Insert(ctx context.Context, e Event) (id int64, err error) {
	ctx, span := tracing.StartSpan(ctx, "store.Insert",
		attribute.String("event_type", e.EventType),
		attribute.Bool("has_idempotency_key", e.IdempotencyKey != ""),
	)
	defer span.End()

	if e.IdempotencyKey != "" {
		tracing.AddSpanEvent(ctx, "db.insert_event_idempotent")
		ct, err := s.pool.Exec(ctx, `
			INSERT INTO webhookrelay.events(idempotency_key, event_type, payload, signature, status, received_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`,
			e.IdempotencyKey, e.EventType, e.Payload, e.Signature, StatusReceived, e.ReceivedAt,
		)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return 0, fmt.Errorf("insert event (idempotent): %w", err)
		}

		tracing.AddSpanEvent(ctx, "db.select_event_id")
		if err := s.pool.QueryRow(ctx, `
			SELECT id FROM webhookrelay.events WHERE idempotency_key = $1`,
			e.IdempotencyKey,
		).Scan(&id); err != nil {
			tracing.SetSpanError(ctx, err)
			return 0, fmt.Errorf("select event id (idempotent): %w", err)
		}

		if ct.RowsAffected() == 0 {
			span.SetAttributes(attribute.Int64("event_id", id))
			return id, ErrDuplicate
		}
		span.SetAttributes(attribute.Int64("event_id", id))
		return id, nil
	}

	tracing.AddSpanEvent(ctx, "db.insert_event_new")
	if err := s.pool.QueryRow(ctx, `
		INSERT INTO webhookrelay.events(event_type, payload, signature, status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		e.EventType, e.Payload, e.Signature, StatusReceived, e.ReceivedAt,
	).Scan(&id); err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("insert event: %w", err)
	}
	span.SetAttributes(attribute.Int64("event_id", id))
	return id, nil
}

// Claim is the atomic compare-and-set at the heart of P1 (single-claim): it
// transitions an event to DELIVERING iff it is currently RECEIVED, or
// DELIVERING with a claimed_at older than staleBefore (reclaiming abandoned
// work). Returns ErrNotClaimable if neither condition holds.
func (s *Store) Claim(ctx context.Context, id int64, now, staleBefore time.Time) (Event, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Claim", attribute.Int64("event_id", id))
	defer span.End()

	var rid int64
	err := s.pool.QueryRow(ctx, `
		UPDATE webhookrelay.events
		SET status = $2, claimed_at = $3
		WHERE id = $1
		  AND (status = $4 OR (status = $2 AND claimed_at < $5))
		RETURNING id`,
		id, StatusDelivering, now, StatusReceived, staleBefore,
	).Scan(&rid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotClaimable
		}
		tracing.SetSpanError(ctx, err)
		return Event{}, fmt.Errorf("claim event: %w", err)
	}

	return s.Get(ctx, id)
}

// RecordAttempt appends attempt to the event's attempt history, within the
// same transaction that either flips status to a terminal state or resets it
// to RECEIVED with a next_attempt_at. It fails with ErrConflict if the event
// is not DELIVERING at the moment of the write (lost to a reclaim).
func (s *Store) RecordAttempt(ctx context.Context, id int64, attempt Attempt, terminal *Status, nextAttemptAt *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "store.RecordAttempt",
		attribute.Int64("event_id", id),
		attribute.Int("attempt_n", attempt.N),
		attribute.Bool("success", attempt.Success),
	)
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var curStatus Status
	if err := tx.QueryRow(ctx, `
		SELECT status FROM webhookrelay.events WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&curStatus); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("select for update: %w", err)
	}
	if curStatus != StatusDelivering {
		return ErrConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO webhookrelay.attempts(event_id, n, at, http_status, success, error)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, attempt.N, attempt.At, attempt.HTTPStatus, attempt.Success, attempt.Error,
	); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("insert attempt: %w", err)
	}

	newStatus := StatusReceived
	if terminal != nil {
		newStatus = *terminal
	}

	if _, err := tx.Exec(ctx, `
		UPDATE webhookrelay.events
		SET attempt_count = attempt_count + 1,
		    status = $2,
		    next_attempt_at = $3
		WHERE id = $1`,
		id, newStatus, nextAttemptAt,
	); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("update event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Get returns the full snapshot of one event, including its attempts in
// ascending n order.
func (s *Store) Get(ctx context.Context, id int64) (Event, error) {
	var e Event
	e.ID = id
	var idemKey, eventType, signature *string
	var claimedAt, nextAttemptAt *time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT idempotency_key, event_type, payload, signature, status,
		       received_at, claimed_at, attempt_count, next_attempt_at
		FROM webhookrelay.events WHERE id = $1`,
		id,
	).Scan(&idemKey, &eventType, &e.Payload, &signature, &e.Status,
		&e.ReceivedAt, &claimedAt, &e.AttemptCount, &nextAttemptAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("get event: %w", err)
	}
	if idemKey != nil {
		e.IdempotencyKey = *idemKey
	}
	if eventType != nil {
		e.EventType = *eventType
	}
	if signature != nil {
		e.Signature = *signature
	}
	e.ClaimedAt = claimedAt
	e.NextAttemptAt = nextAttemptAt

	rows, err := s.pool.Query(ctx, `
		SELECT n, at, http_status, success, error
		FROM webhookrelay.attempts
		WHERE event_id = $1
		ORDER BY n ASC`,
		id,
	)
	if err != nil {
		return Event{}, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.N, &a.At, &a.HTTPStatus, &a.Success, &a.Error); err != nil {
			return Event{}, fmt.Errorf("scan attempt: %w", err)
		}
		e.Attempts = append(e.Attempts, a)
	}
	if err := rows.Err(); err != nil {
		return Event{}, fmt.Errorf("iterate attempts: %w", err)
	}

	return e, nil
}

// Search is the read-only projection behind POST /webhooks/search: a filtered,
// paginated list plus aggregates (by status, by type, hourly histogram) over
// the full filtered set.
func (s *Store) Search(ctx context.Context, f Filter) (SearchResult, error) {
	where, args := buildWhere(f)

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	argn := len(args)
	listQuery := fmt.Sprintf(`
		SELECT id, idempotency_key, event_type, payload, signature, status,
		       received_at, claimed_at, attempt_count, next_attempt_at
		FROM webhookrelay.events
		WHERE %s
		ORDER BY received_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, argn+1, argn+2)
	listArgs := append(append([]any{}, args...), limit, f.Skip)

	rows, err := s.pool.Query(ctx, listQuery, listArgs...)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var items []Event
	for rows.Next() {
		var e Event
		var idemKey, eventType, signature *string
		var claimedAt, nextAttemptAt *time.Time
		if err := rows.Scan(&e.ID, &idemKey, &eventType, &e.Payload, &signature, &e.Status,
			&e.ReceivedAt, &claimedAt, &e.AttemptCount, &nextAttemptAt); err != nil {
			return SearchResult{}, fmt.Errorf("scan search row: %w", err)
		}
		if idemKey != nil {
			e.IdempotencyKey = *idemKey
		}
		if eventType != nil {
			e.EventType = *eventType
		}
		if signature != nil {
			e.Signature = *signature
		}
		e.ClaimedAt = claimedAt
		e.NextAttemptAt = nextAttemptAt
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return SearchResult{}, fmt.Errorf("iterate search rows: %w", err)
	}

	agg, err := s.aggregates(ctx, where, args)
	if err != nil {
		return SearchResult{}, err
	}

	return SearchResult{Items: items, Aggregates: agg}, nil
}

func (s *Store) aggregates(ctx context.Context, where string, args []any) (Aggregates, error) {
	agg := Aggregates{
		ByStatus: map[Status]int{},
		ByType:   map[string]int{},
		Hourly:   map[string]int{},
	}

	statusRows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT status, COUNT(*) FROM webhookrelay.events WHERE %s GROUP BY status`, where), args...)
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var st Status
		var n int
		if err := statusRows.Scan(&st, &n); err != nil {
			return Aggregates{}, err
		}
		agg.ByStatus[st] = n
	}

	typeRows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT event_type, COUNT(*) FROM webhookrelay.events WHERE %s GROUP BY event_type`, where), args...)
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate by type: %w", err)
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var t string
		var n int
		if err := typeRows.Scan(&t, &n); err != nil {
			return Aggregates{}, err
		}
		agg.ByType[t] = n
	}

	hourRows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT date_trunc('hour', received_at), COUNT(*)
		FROM webhookrelay.events WHERE %s GROUP BY 1`, where), args...)
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate hourly: %w", err)
	}
	defer hourRows.Close()
	for hourRows.Next() {
		var hour time.Time
		var n int
		if err := hourRows.Scan(&hour, &n); err != nil {
			return Aggregates{}, err
		}
		agg.Hourly[hour.UTC().Format(time.RFC3339)] = n
	}

	return agg, nil
}

// ReapStale returns the ids of events stuck in DELIVERING with a claimed_at
// older than staleBefore, without mutating them. The worker re-enqueues each
// one; the existing Claim CAS (status=DELIVERING AND claimed_at<staleBefore)
// is what actually reclaims it once the retry is dequeued.
func (s *Store) ReapStale(ctx context.Context, staleBefore time.Time) ([]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "store.ReapStale")
	defer span.End()

	rows, err := s.pool.Query(ctx, `
		SELECT id FROM webhookrelay.events
		WHERE status = $1 AND claimed_at < $2`,
		StatusDelivering, staleBefore,
	)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("reap stale query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale ids: %w", err)
	}
	span.SetAttributes(attribute.Int("stale_count", len(ids)))
	return ids, nil
}

func buildWhere(f Filter) (string, []any) {
	where := "1=1"
	var args []any

	if len(f.Statuses) > 0 {
		args = append(args, statusesToStrings(f.Statuses))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if f.EventType != "" {
		args = append(args, f.EventType)
		where += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(" AND received_at >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(" AND received_at <= $%d", len(args))
	}
	return where, args
}

func statusesToStrings(s []Status) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = string(v)
	}
	return out
}
