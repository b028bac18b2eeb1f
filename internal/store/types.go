package store

import (
	"errors"
	"time"
)

// Status is one of the four states an Event moves through.
type Status string

const (
	StatusReceived           Status = "RECEIVED"
	StatusDelivering         Status = "DELIVERING"
	StatusDelivered          Status = "DELIVERED"
	StatusFailedPermanently  Status = "FAILED_PERMANENTLY"
)

// Sentinel errors returned by store operations in place of exceptions; the
// engine branches on these rather than unwinding.
var (
	ErrDuplicate     = errors.New("store: duplicate idempotency key")
	ErrNotClaimable  = errors.New("store: event not claimable")
	ErrConflict      = errors.New("store: status changed under us")
	ErrNotFound      = errors.New("store: event not found")
)

// Attempt is a finalized, never-mutated record of one delivery try.
type Attempt struct {
	N          int        `json:"n"`
	At         time.Time  `json:"at"`
	HTTPStatus *int       `json:"http_status,omitempty"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

// Event is the durable record of one intake, its lifecycle, and its attempts.
type Event struct {
	ID             int64      `json:"id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	EventType      string     `json:"event_type"`
	Payload        []byte     `json:"payload"`
	Signature      string     `json:"-"`
	Status         Status     `json:"status"`
	ReceivedAt     time.Time  `json:"received_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	Attempts       []Attempt  `json:"attempts,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	NextAttemptAt  *time.Time `json:"next_attempt_at,omitempty"`
}

// NewEvent constructs an Event in the RECEIVED state, ready for insert.
func NewEvent(idempotencyKey, eventType string, payload []byte, signature string, now time.Time) Event {
	return Event{
		IdempotencyKey: idempotencyKey,
		EventType:      eventType,
		Payload:        payload,
		Signature:      signature,
		Status:         StatusReceived,
		ReceivedAt:     now,
	}
}

// Filter describes a search/aggregation query over the event store.
type Filter struct {
	Statuses  []Status
	EventType string
	From      *time.Time
	To        *time.Time
	Skip      int
	Limit     int
}

// Aggregates summarizes a search result set the way the search endpoint needs.
type Aggregates struct {
	ByStatus map[Status]int `json:"by_status"`
	ByType   map[string]int `json:"by_type"`
	Hourly   map[string]int `json:"hourly"` // RFC3339 hour bucket -> count
}

// SearchResult is the page of events plus the aggregates over the full
// filtered set (not just the page).
type SearchResult struct {
	Items      []Event    `json:"items"`
	Aggregates Aggregates `json:"aggregates"`
}
