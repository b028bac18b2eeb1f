package delivery

import (
	"math"
	"time"

	"github.com/caseyvance/webhookrelay/internal/config"
)

// Outcome is the tagged result of classifying one downstream HTTP attempt.
// The engine branches on this value rather than unwinding an error.
type Outcome int

const (
	Success Outcome = iota
	Retryable
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case Retryable:
		return "RETRYABLE"
	case Permanent:
		return "PERMANENT"
	default:
		return "UNKNOWN"
	}
}

// Classify applies the downstream response classification rule: 2xx is a
// success, 429/5xx/a transport error is retryable, any other 4xx is
// permanent. status is 0 when doErr is non-nil (no response was received).
func Classify(status int, doErr error) Outcome {
	if doErr != nil {
		return Retryable
	}
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == 429 || status >= 500:
		return Retryable
	default:
		return Permanent
	}
}

// RetryReason maps a classified failure to a short metrics/logging label.
func RetryReason(status int, doErr error) string {
	if doErr != nil {
		return "network"
	}
	switch {
	case status == 429:
		return "http_429"
	case status >= 500:
		return "http_5xx"
	default:
		return "http_4xx"
	}
}

// Backoff computes B(n) = min(BackoffBase * BackoffFactor^(n-1), BackoffCap)
// for attempt n (1-based). With the spec's defaults (base=1s, factor=2,
// cap=16s) this yields 1, 2, 4, 8, 16 seconds for n in [1..5].
func Backoff(n int, cfg config.Retry) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(cfg.BackoffBase) * math.Pow(cfg.BackoffFactor, float64(n-1))
	cap := float64(cfg.BackoffCap)
	if d > cap {
		d = cap
	}
	return time.Duration(d)
}

// LocalRateLimitDelay is the short re-enqueue delay used when C2 itself times
// out (purely local congestion, not a downstream failure): min(B(n+1), 5s).
// This does not consume an attempt slot.
func LocalRateLimitDelay(attemptCount int, cfg config.Retry) time.Duration {
	d := Backoff(attemptCount+1, cfg)
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
