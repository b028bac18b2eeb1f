// Command ingest runs the HTTP-facing half of the pipeline: webhook intake
// and the admin search/aggregation endpoint.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/caseyvance/webhookrelay/internal/auth"
	"github.com/caseyvance/webhookrelay/internal/config"
	"github.com/caseyvance/webhookrelay/internal/db"
	"github.com/caseyvance/webhookrelay/internal/delivery"
	"github.com/caseyvance/webhookrelay/internal/health"
	"github.com/caseyvance/webhookrelay/internal/metrics"
	"github.com/caseyvance/webhookrelay/internal/queue"
	"github.com/caseyvance/webhookrelay/internal/ratelimit"
	"github.com/caseyvance/webhookrelay/internal/store"
	"github.com/caseyvance/webhookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer rdb.Close()

	q, err := queue.NewQueue(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeliveriesTopic)
	if err != nil {
		log.Fatalf("nsq producer: %v", err)
	}
	defer q.Stop()

	st := store.New(pool)
	limiter := ratelimit.New(rdb, "delivery", cfg.RateLimit.PerSecond)
	engine := delivery.NewEngine(st, q, limiter, cfg.DownstreamURL, cfg.Retry, cfg.RateLimit, cfg.Worker)

	var jwtValidator *auth.JWTValidator
	if cfg.Admin.JWTIssuer != "" {
		jwtValidator, err = auth.NewJWTValidator(cfg.Admin.JWTPublicKeyPEM, cfg.Admin.JWTIssuer, cfg.Admin.JWTAudience)
		if err != nil {
			log.Fatalf("jwt validator: %v", err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, rdb))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/webhooks/ingest", delivery.IntakeHandler(engine, cfg.HMACSecret))
	mux.Handle("/webhooks/search", jwtValidator.HTTPMiddleware(store.SearchHandler(st)))
	mux.Handle("/webhooks/events/", jwtValidator.HTTPMiddleware(store.GetHandler(st)))

	srv := &http.Server{Addr: cfg.HTTPPort, Handler: mux}

	go func() {
		log.Printf("ingest listening on %s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	_ = srv.Shutdown(context.Background())
	log.Println("ingest stopped")
}
