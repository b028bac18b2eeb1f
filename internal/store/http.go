package store

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// searchRequest is the §6.1 POST /webhooks/search body shape.
type searchRequest struct {
	Status    []string `json:"status"`
	EventType string   `json:"event_type"`
	From      *string  `json:"from"`
	To        *string  `json:"to"`
	Skip      int      `json:"skip"`
	Limit     int      `json:"limit"`
}

// SearchHandler serves the read-only search/aggregation endpoint: a POST
// body of {status?, event_type?, from?, to?, skip?, limit?}, returning
// {items, aggregates}.
func SearchHandler(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "BAD_REQUEST: could not read body", http.StatusBadRequest)
			return
		}

		var req searchRequest
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "BAD_REQUEST: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		f := Filter{
			EventType: req.EventType,
			Skip:      req.Skip,
			Limit:     req.Limit,
		}
		if f.Limit <= 0 {
			f.Limit = 50
		}
		for _, st := range req.Status {
			f.Statuses = append(f.Statuses, Status(strings.ToUpper(st)))
		}
		if req.From != nil {
			if t, err := time.Parse(time.RFC3339, *req.From); err == nil {
				f.From = &t
			}
		}
		if req.To != nil {
			if t, err := time.Parse(time.RFC3339, *req.To); err == nil {
				f.To = &t
			}
		}

		res, err := s.Search(r.Context(), f)
		if err != nil {
			http.Error(w, "STORE_UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	}
}

// GetHandler serves a single event snapshot by id, the HTTP face of C1's
// get(id) primitive: GET /webhooks/events/{id}.
func GetHandler(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := strings.TrimPrefix(r.URL.Path, "/webhooks/events/")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			http.Error(w, "BAD_REQUEST: invalid event id", http.StatusBadRequest)
			return
		}

		ev, err := s.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				http.Error(w, "NOT_FOUND", http.StatusNotFound)
				return
			}
			http.Error(w, "STORE_UNAVAILABLE", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ev)
	}
}
