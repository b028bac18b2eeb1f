// Command queuemon polls nsqd's stats endpoint and republishes the
// deliveries topic/channel depth as the shared Prometheus gauges. The ingest
// and worker services register the same gauges but never set them; this
// process is the only writer.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseyvance/webhookrelay/internal/config"
	"github.com/caseyvance/webhookrelay/internal/metrics"
)

type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName string `json:"channel_name"`
			Depth       int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

func main() {
	cfg := config.FromEnv()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	go collectMetrics(cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.DeliveriesTopic, 15*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	addr := ":8084"
	log.Printf("queuemon listening on %s, polling %s", addr, cfg.NSQ.NsqdHTTPAddr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func collectMetrics(nsqdHTTPAddr, topic string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := updateMetrics(nsqdHTTPAddr, topic); err != nil {
			log.Printf("queuemon: error updating metrics: %v", err)
		}
	}
}

func updateMetrics(nsqdHTTPAddr, topic string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
	if err != nil {
		return fmt.Errorf("get nsqd stats: %w", err)
	}
	defer resp.Body.Close()

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsqd stats: %w", err)
	}

	var backlog float64
	for _, t := range stats.Topics {
		for _, ch := range t.Channels {
			metrics.UpdateNSQChannelDepth(t.TopicName, ch.ChannelName, float64(ch.Depth))
			if t.TopicName == topic {
				backlog += float64(ch.Depth)
			}
		}
	}
	metrics.UpdateQueueBacklog(backlog)
	return nil
}
