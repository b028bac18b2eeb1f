package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	NsqdHTTPAddr    string // e.g. nsqd:4151
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic carrying "deliver event" tasks
	WorkerChannel   string // NSQ channel name for workers
}

type Redis struct {
	Addr string
	DB   int
}

// Retry holds the backoff schedule parameters for the delivery engine.
type Retry struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration
}

type RateLimit struct {
	PerSecond      int
	AcquireTimeout time.Duration
}

type Worker struct {
	Concurrency     int
	HTTPTimeout     time.Duration
	QueueVisibility time.Duration
	ClaimStale      time.Duration
	HTTPPort        string
}

// Admin holds optional JWT settings guarding the read-only search endpoint.
type Admin struct {
	JWTPublicKeyPEM string
	JWTIssuer       string
	JWTAudience     string
}

type Receiver struct {
	FailFirstN      int
	EndpointSecret  string
	ResponseDelayMS int
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

type Config struct {
	AppName       string
	HTTPPort      string // intake HTTP port, e.g. :8080
	HMACSecret    string
	DownstreamURL string
	DB            DB
	NSQ           NSQ
	Redis         Redis
	Retry         Retry
	RateLimit     RateLimit
	Worker        Worker
	Admin         Admin
	Receiver      Receiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getenvInt(key, defSeconds)) * time.Second
}

// FromEnv builds a Config from the process environment, falling back to the
// defaults in the delivery pipeline's configuration contract.
func FromEnv() Config {
	return Config{
		AppName:       getenv("APP_NAME", "webhookrelay"),
		HTTPPort:      ":" + getenv("HTTP_PORT", "8080"),
		HMACSecret:    getenv("HMAC_SECRET", ""),
		DownstreamURL: getenv("DOWNSTREAM_URL", ""),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "webhookrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:    getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Redis: Redis{
			Addr: getenv("REDIS_ADDR", "redis:6379"),
			DB:   getenvInt("REDIS_DB", 0),
		},
		Retry: Retry{
			MaxAttempts:   getenvInt("MAX_ATTEMPTS", 5),
			BackoffBase:   getenvSeconds("BACKOFF_BASE_SECONDS", 1),
			BackoffFactor: getenvFloat("BACKOFF_FACTOR", 2),
			BackoffCap:    getenvSeconds("BACKOFF_CAP_SECONDS", 16),
		},
		RateLimit: RateLimit{
			PerSecond:      getenvInt("RATE_LIMIT_PER_SEC", 3),
			AcquireTimeout: getenvDuration("RATE_ACQUIRE_TIMEOUT", 5*time.Second),
		},
		Worker: Worker{
			Concurrency:     getenvInt("WORKER_CONCURRENCY", 8),
			HTTPTimeout:     getenvSeconds("HTTP_TIMEOUT_SECONDS", 10),
			QueueVisibility: getenvSeconds("QUEUE_VISIBILITY_SECONDS", 60),
			ClaimStale:      getenvSeconds("CLAIM_STALE_SECONDS", 120),
			HTTPPort:        ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		Admin: Admin{
			JWTPublicKeyPEM: getenv("ADMIN_JWT_PUBLIC_KEY", ""),
			JWTIssuer:       getenv("ADMIN_JWT_ISSUER", ""),
			JWTAudience:     getenv("ADMIN_JWT_AUDIENCE", "webhookrelay-admin"),
		},
		Receiver: Receiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:  getenv("ENDPOINT_SECRET", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            ":" + getenv("RECEIVER_PORT", "8081"),
			ReadTimeout:     getenvDuration("RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
