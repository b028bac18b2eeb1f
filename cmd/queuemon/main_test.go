package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/caseyvance/webhookrelay/internal/metrics"
)

func TestUpdateMetrics(t *testing.T) {
	type label struct {
		topic   string
		channel string
	}

	testCases := []struct {
		name      string
		payload   string
		wantErr   bool
		wantQueue float64
		wantDepth map[label]float64
	}{
		{
			name: "deliveries workers channel updates backlog",
			payload: `{
				"topics": [
					{
						"topic_name": "deliveries",
						"channels": [
							{"channel_name": "workers", "depth": 10},
							{"channel_name": "retries", "depth": 3}
						]
					}
				]
			}`,
			wantQueue: 13,
			wantDepth: map[label]float64{
				{topic: "deliveries", channel: "workers"}: 10,
				{topic: "deliveries", channel: "retries"}: 3,
			},
		},
		{
			name:    "invalid payload returns error",
			payload: `invalid-json`,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/stats" {
					t.Fatalf("unexpected path %q", r.URL.Path)
				}
				_, _ = w.Write([]byte(tc.payload))
			}))
			defer server.Close()

			host := strings.TrimPrefix(server.URL, "http://")
			err := updateMetrics(host, "deliveries")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("updateMetrics returned error: %v", err)
			}

			if got := testutil.ToFloat64(metrics.QueueBacklog); got != tc.wantQueue {
				t.Fatalf("QueueBacklog = %v, want %v", got, tc.wantQueue)
			}
			for lbl, want := range tc.wantDepth {
				got := testutil.ToFloat64(metrics.NSQChannelDepth.WithLabelValues(lbl.topic, lbl.channel))
				if got != want {
					t.Fatalf("NSQChannelDepth[%s/%s] = %v, want %v", lbl.topic, lbl.channel, got, want)
				}
			}
		})
	}
}
