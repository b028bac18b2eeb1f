// Package delivery is C4, the delivery engine: intake validation,
// persistence, claim, attempt loop, backoff scheduling, and terminal status
// assignment. It owns no I/O of its own beyond the downstream POST; the
// store, queue, and rate limiter are injected as narrow interfaces so the
// state machine can be exercised without a live Postgres/NSQ/Redis.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/caseyvance/webhookrelay/internal/config"
	"github.com/caseyvance/webhookrelay/internal/logging"
	"github.com/caseyvance/webhookrelay/internal/metrics"
	"github.com/caseyvance/webhookrelay/internal/store"
	"github.com/caseyvance/webhookrelay/internal/tracing"
)

// Store is the subset of the event store the engine drives.
type Store interface {
	Insert(ctx context.Context, e store.Event) (int64, error)
	Claim(ctx context.Context, id int64, now, staleBefore time.Time) (store.Event, error)
	RecordAttempt(ctx context.Context, id int64, attempt store.Attempt, terminal *store.Status, nextAttemptAt *time.Time) error
	Get(ctx context.Context, id int64) (store.Event, error)
	ReapStale(ctx context.Context, staleBefore time.Time) ([]int64, error)
}

// Queue is the subset of the task queue the engine drives.
type Queue interface {
	Enqueue(ctx context.Context, eventID int64, notBefore time.Time) error
}

// RateLimiter is the subset of the rate limiter the engine drives.
type RateLimiter interface {
	Acquire(ctx context.Context, now time.Time, timeout time.Duration) error
}

// Engine ties C1, C2, and C3 together per the delivery contract.
type Engine struct {
	Store   Store
	Queue   Queue
	Limiter RateLimiter
	HTTP    *http.Client

	DownstreamURL string
	Retry         config.Retry
	RateLimit     config.RateLimit
	HTTPTimeout   time.Duration
	ClaimStale    time.Duration

	logger *logging.Logger
}

// NewEngine builds an Engine from its collaborators and configuration.
func NewEngine(s Store, q Queue, l RateLimiter, downstreamURL string, retry config.Retry, rl config.RateLimit, w config.Worker) *Engine {
	return &Engine{
		Store:         s,
		Queue:         q,
		Limiter:       l,
		HTTP:          &http.Client{Timeout: w.HTTPTimeout},
		DownstreamURL: downstreamURL,
		Retry:         retry,
		RateLimit:     rl,
		HTTPTimeout:   w.HTTPTimeout,
		ClaimStale:    w.ClaimStale,
		logger:        logging.New("webhookrelay-delivery"),
	}
}

// IntakeItem is one recognized element of an intake body.
type IntakeItem struct {
	IdempotencyKey string
	EventType      string
	Payload        []byte
}

// IntakeResult is returned per input element, in input order. Error is set
// instead of ID/Duplicate when this element's own insert/enqueue failed;
// per-element failures don't sink the rest of the batch (partial success is
// allowed by design).
type IntakeResult struct {
	ID        int64
	Duplicate bool
	Error     string
}

// Insert persists one intake item and, for a freshly inserted event, enqueues
// it for immediate delivery. This is steps 4-6 of the intake path for a
// single element; batch fan-out lives in the HTTP handler so each element's
// success/failure stays independent (partial success is allowed by design).
func (e *Engine) Insert(ctx context.Context, item IntakeItem, signature string, now time.Time) (IntakeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.Insert",
		attribute.String("event_type", item.EventType),
		attribute.Bool("has_idempotency_key", item.IdempotencyKey != ""),
	)
	defer span.End()

	ev := store.NewEvent(item.IdempotencyKey, item.EventType, item.Payload, signature, now)
	id, err := e.Store.Insert(ctx, ev)
	if err != nil {
		if err == store.ErrDuplicate {
			return IntakeResult{ID: id, Duplicate: true}, nil
		}
		tracing.SetSpanError(ctx, err)
		return IntakeResult{}, fmt.Errorf("insert event: %w", err)
	}

	metrics.RecordEventReceived()

	if err := e.Queue.Enqueue(ctx, id, now); err != nil {
		tracing.SetSpanError(ctx, err)
		return IntakeResult{}, fmt.Errorf("enqueue event: %w", err)
	}

	return IntakeResult{ID: id, Duplicate: false}, nil
}

// Process is the worker path for one dequeued event_id: claim, rate-limit,
// deliver, classify, record, and either terminate or re-enqueue.
func (e *Engine) Process(ctx context.Context, eventID int64) error {
	now := time.Now().UTC()
	ctx, span := tracing.StartSpan(ctx, "delivery.Process", attribute.Int64("event_id", eventID))
	defer span.End()

	staleBefore := now.Add(-e.ClaimStale)
	ev, err := e.Store.Claim(ctx, eventID, now, staleBefore)
	if err != nil {
		if err == store.ErrNotClaimable {
			tracing.AddSpanEvent(ctx, "claim.not_claimable")
			return nil
		}
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("claim event: %w", err) // STORE_UNAVAILABLE: let the queue redeliver
	}

	if err := e.Limiter.Acquire(ctx, now, e.RateLimit.AcquireTimeout); err != nil {
		tracing.AddSpanEvent(ctx, "ratelimit.local_timeout")
		delay := LocalRateLimitDelay(ev.AttemptCount, e.Retry)
		// Counted without a latency sample: no downstream POST was made.
		metrics.RetryAttemptsTotal.WithLabelValues("rate_limited").Inc()
		if err := e.Queue.Enqueue(ctx, eventID, now.Add(delay)); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("re-enqueue after rate limit: %w", err)
		}
		return nil
	}

	httpStatus, doErr, latency := e.deliver(ctx, ev)
	outcome := Classify(httpStatus, doErr)
	n := ev.AttemptCount + 1

	attempt := store.Attempt{
		N:       n,
		At:      now,
		Success: outcome == Success,
		Error:   errString(doErr),
	}
	if httpStatus > 0 {
		attempt.HTTPStatus = &httpStatus
	}

	span.SetAttributes(
		attribute.String("outcome", outcome.String()),
		attribute.Int("http_status", httpStatus),
		attribute.Int("attempt_n", n),
	)

	switch outcome {
	case Success:
		terminal := store.StatusDelivered
		if err := e.Store.RecordAttempt(ctx, eventID, attempt, &terminal, nil); err != nil {
			return e.handleRecordError(ctx, err)
		}
		metrics.RecordDeliverySucceeded(latency)
		return nil

	case Permanent:
		terminal := store.StatusFailedPermanently
		if err := e.Store.RecordAttempt(ctx, eventID, attempt, &terminal, nil); err != nil {
			return e.handleRecordError(ctx, err)
		}
		metrics.RecordDeliveryFailed("permanent_4xx")
		return nil

	default: // Retryable
		reason := RetryReason(httpStatus, doErr)
		metrics.RecordRetryAttempt(reason, latency)

		if n >= e.Retry.MaxAttempts {
			terminal := store.StatusFailedPermanently
			if err := e.Store.RecordAttempt(ctx, eventID, attempt, &terminal, nil); err != nil {
				return e.handleRecordError(ctx, err)
			}
			metrics.RecordDeliveryFailed("attempts_exhausted")
			return nil
		}

		delay := Backoff(n, e.Retry)
		nextAttemptAt := now.Add(delay)
		if err := e.Store.RecordAttempt(ctx, eventID, attempt, nil, &nextAttemptAt); err != nil {
			return e.handleRecordError(ctx, err)
		}
		if err := e.Queue.Enqueue(ctx, eventID, nextAttemptAt); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("re-enqueue after retryable attempt: %w", err)
		}
		return nil
	}
}

// ReapStale finds events abandoned mid-delivery (worker crashed after claim,
// before record_attempt) and re-enqueues them for immediate redelivery. The
// actual status reclaim happens in Store.Claim when the task is dequeued.
func (e *Engine) ReapStale(ctx context.Context) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "delivery.ReapStale")
	defer span.End()

	staleBefore := time.Now().UTC().Add(-e.ClaimStale)
	ids, err := e.Store.ReapStale(ctx, staleBefore)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		if err := e.Queue.Enqueue(ctx, id, now); err != nil {
			tracing.SetSpanError(ctx, err)
			return 0, fmt.Errorf("re-enqueue stale event %d: %w", id, err)
		}
	}
	span.SetAttributes(attribute.Int("reaped_count", len(ids)))
	return len(ids), nil
}

// handleRecordError silently abandons on CONFLICT (lost the claim to a
// stale-reaper elsewhere) and surfaces anything else as a handler failure.
func (e *Engine) handleRecordError(ctx context.Context, err error) error {
	if err == store.ErrConflict {
		tracing.AddSpanEvent(ctx, "record_attempt.conflict_abandon")
		return nil
	}
	tracing.SetSpanError(ctx, err)
	return fmt.Errorf("record attempt: %w", err)
}

// deliver issues the downstream POST and returns the response status (0 on
// transport failure), the transport error if any, and the observed latency.
func (e *Engine) deliver(ctx context.Context, ev store.Event) (int, error, time.Duration) {
	ctx, span := tracing.StartSpan(ctx, "delivery.deliver")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.DownstreamURL+"/receive", bytes.NewReader(ev.Payload))
	if err != nil {
		return 0, err, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Id", fmt.Sprintf("%d", ev.ID))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	start := time.Now()
	resp, doErr := e.HTTP.Do(req)
	latency := time.Since(start)
	if doErr != nil {
		tracing.SetSpanError(ctx, doErr)
		return 0, doErr, latency
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp.StatusCode, nil, latency
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// marshalEcho is a small helper used by the HTTP handler to report intake
// results (including per-element failures) without reaching back into the
// store.
func marshalEcho(items []IntakeResult) ([]byte, error) {
	type result struct {
		ID        string `json:"id,omitempty"`
		Duplicate bool   `json:"duplicate,omitempty"`
		Error     string `json:"error,omitempty"`
	}
	out := struct {
		Results []result `json:"results"`
	}{}
	for _, it := range items {
		if it.Error != "" {
			out.Results = append(out.Results, result{Error: it.Error})
			continue
		}
		out.Results = append(out.Results, result{ID: fmt.Sprintf("%d", it.ID), Duplicate: it.Duplicate})
	}
	return json.Marshal(out)
}
