// Command receiver is a configurable downstream endpoint used to exercise
// the delivery engine end to end: it can fail the first N requests and delay
// its response. When ENDPOINT_SECRET is set it also requires an X-Signature
// header carrying hex HMAC-SHA256 of the body; the delivery engine's own
// POSTs carry no such header.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/caseyvance/webhookrelay/internal/config"
)

var reqCount atomic.Int64

func main() {
	cfg := config.FromEnv().Receiver

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/receive", handleReceive(cfg))

	server := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("receiver listening on %s", cfg.Port)
	log.Fatal(server.ListenAndServe())
}

func handleReceive(cfg config.Receiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := reqCount.Add(1)
		body, _ := io.ReadAll(r.Body)
		defer r.Body.Close()

		if cfg.EndpointSecret != "" {
			if !verifySignature(cfg.EndpointSecret, body, r.Header.Get("X-Signature")) {
				log.Printf("receiver rejected signature for event %s", r.Header.Get("X-Event-Id"))
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
		}

		if n <= int64(cfg.FailFirstN) {
			log.Printf("FAILING (%d/%d) event=%s", n, cfg.FailFirstN, r.Header.Get("X-Event-Id"))
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		if cfg.ResponseDelayMS > 0 {
			time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
		}

		log.Printf("receiver OK event=%s body=%s", r.Header.Get("X-Event-Id"), truncate(string(body), 160))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}
}

func verifySignature(secret string, body []byte, sigHeader string) bool {
	if sigHeader == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(sigHeader)) == 1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
