package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caseyvance/webhookrelay/internal/logging"
)

// intakeHeader extracts the two recognized fields from one intake element.
// Every other field in the element, idempotency_key and event_type included,
// is preserved verbatim: the element's raw bytes become the stored payload.
type intakeHeader struct {
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
}

// IntakeHandler returns the HTTP handler for the webhook intake endpoint. It
// accepts a single JSON object or a JSON array of objects, verifies the
// HMAC-SHA256 signature over the raw request body, and hands each element to
// the engine independently so one bad element in a batch does not sink the
// rest.
func IntakeHandler(e *Engine, hmacSecret string) http.HandlerFunc {
	log := logging.New("webhookrelay-intake")

	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, "BAD_REQUEST: could not read body", http.StatusBadRequest)
			return
		}

		sigHeader := r.Header.Get("X-Signature")
		if !verifySignature(hmacSecret, body, sigHeader) {
			http.Error(w, "INVALID_SIGNATURE", http.StatusUnauthorized)
			return
		}

		items, err := parseIntakeBody(body)
		if err != nil {
			http.Error(w, "BAD_REQUEST: "+err.Error(), http.StatusBadRequest)
			return
		}

		now := time.Now().UTC()
		results := make([]IntakeResult, 0, len(items))
		anyFailed := false
		for _, item := range items {
			res, err := e.Insert(r.Context(), item, sigHeader, now)
			if err != nil {
				log.WithContext(r.Context()).WithError(err).Error("intake insert failed")
				res = IntakeResult{Error: "STORE_UNAVAILABLE"}
				anyFailed = true
			}
			results = append(results, res)
		}

		body, err = marshalEcho(results)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		// Mixed results (some elements failed, others already inserted) get
		// 207 Multi-Status so the client can tell a partial batch from a
		// clean one; an all-succeeding batch keeps the plain 202.
		if anyFailed {
			w.WriteHeader(http.StatusMultiStatus)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
		_, _ = w.Write(body)
	}
}

// verifySignature checks X-Signature as hex(HMAC-SHA256(secret, body)) using
// a constant-time comparison. An unset secret disables verification (used by
// local/dev deployments without a shared key), matching the receiver's own
// permissive-when-unconfigured posture.
func verifySignature(secret string, body []byte, sigHeader string) bool {
	if secret == "" {
		return true
	}
	if sigHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sigHeader))
}

// parseIntakeBody accepts either a single JSON object or a JSON array of
// objects. Each element's raw bytes become its IntakeItem.Payload verbatim
// (per §3.1, payload is the raw body as received); idempotency_key and
// event_type are additionally lifted out for routing and search indexing.
func parseIntakeBody(body []byte) ([]IntakeItem, error) {
	trimmed := trimLeadingSpace(body)
	var raws []json.RawMessage

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
	} else {
		if !json.Valid(body) {
			return nil, fmt.Errorf("invalid JSON body")
		}
		raws = []json.RawMessage{json.RawMessage(body)}
	}

	items := make([]IntakeItem, 0, len(raws))
	for _, raw := range raws {
		var h intakeHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		items = append(items, IntakeItem{
			IdempotencyKey: h.IdempotencyKey,
			EventType:      h.EventType,
			Payload:        []byte(raw),
		})
	}
	return items, nil
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return b[i:]
}
