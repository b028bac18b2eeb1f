// Command worker is the NSQ consumer half of the pipeline: it dequeues task
// messages, drives the delivery engine's worker path, and periodically
// reaps stale in-flight claims left behind by a crashed worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/caseyvance/webhookrelay/internal/config"
	"github.com/caseyvance/webhookrelay/internal/db"
	"github.com/caseyvance/webhookrelay/internal/delivery"
	"github.com/caseyvance/webhookrelay/internal/health"
	"github.com/caseyvance/webhookrelay/internal/logging"
	"github.com/caseyvance/webhookrelay/internal/metrics"
	"github.com/caseyvance/webhookrelay/internal/queue"
	"github.com/caseyvance/webhookrelay/internal/ratelimit"
	"github.com/caseyvance/webhookrelay/internal/store"
	"github.com/caseyvance/webhookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()
	logger := logging.New("webhookrelay-worker")

	shutdown, err := tracing.InitTracing(ctx, "webhookrelay-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer rdb.Close()

	q, err := queue.NewQueue(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeliveriesTopic)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer q.Stop()

	st := store.New(pool)
	limiter := ratelimit.New(rdb, "delivery", cfg.RateLimit.PerSecond)
	engine := delivery.NewEngine(st, q, limiter, cfg.DownstreamURL, cfg.Retry, cfg.RateLimit, cfg.Worker)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, rdb))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	reapStop := startStaleReaper(engine, cfg.Worker.ClaimStale, logger)
	defer close(reapStop)

	consumer, err := queue.Consume(queue.ConsumerConfig{
		Topic:          cfg.NSQ.DeliveriesTopic,
		Channel:        cfg.NSQ.WorkerChannel,
		Concurrency:    cfg.Worker.Concurrency,
		MsgTimeout:     cfg.Worker.QueueVisibility,
		LookupHTTPAddr: cfg.NSQ.LookupHTTPAddr,
		NsqdTCPAddr:    cfg.NSQ.NsqdTCPAddr,
	}, func(ctx context.Context, eventID int64) error {
		return engine.Process(ctx, eventID)
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// startStaleReaper polls for abandoned in-flight claims every claimStale/2
// (at least once a second) and re-enqueues them. Returns a channel that stops the loop when closed.
func startStaleReaper(engine *delivery.Engine, claimStale time.Duration, logger *logging.Logger) chan struct{} {
	stop := make(chan struct{})
	interval := claimStale / 2
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := engine.ReapStale(context.Background())
				if err != nil {
					logger.Plain().WithError(err).Error("stale claim reap failed")
					continue
				}
				if n > 0 {
					logger.Plain().WithField("count", n).Info("reaped stale claims")
				}
			}
		}
	}()

	return stop
}
