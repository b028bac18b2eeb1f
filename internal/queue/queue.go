// Package queue is C3, the at-least-once task queue: "deliver event E" work
// items dispatched to any available worker replica, with ETA-based delay for
// backoff. The contract is enqueue/consume; NSQ is the mechanism.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/caseyvance/webhookrelay/internal/tracing"
)

// Queue wraps an NSQ producer for the deliveries topic.
type Queue struct {
	producer *nsq.Producer
	topic    string
}

// NewQueue dials an NSQ producer against nsqdTCPAddr for the given topic.
func NewQueue(nsqdTCPAddr, topic string) (*Queue, error) {
	prod, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	return &Queue{producer: prod, topic: topic}, nil
}

// Stop tears down the underlying NSQ producer connection.
func (q *Queue) Stop() {
	q.producer.Stop()
}

// Enqueue records a work item for eventID, visible to exactly one worker
// once now >= notBefore. A zero or past notBefore publishes immediately;
// otherwise it uses NSQ's DeferredPublish to hold the message until its ETA.
func (q *Queue) Enqueue(ctx context.Context, eventID int64, notBefore time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "queue.Enqueue")
	defer span.End()

	task := Task{
		EventID:      eventID,
		TraceHeaders: tracing.PropagateTraceToNSQ(ctx),
	}
	body, err := json.Marshal(task)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("marshal task: %w", err)
	}

	delay := time.Until(notBefore)
	if delay <= 0 {
		tracing.AddSpanEvent(ctx, "nsq.publish")
		if err := q.producer.Publish(q.topic, body); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("nsq publish: %w", err)
		}
		return nil
	}

	tracing.AddSpanEvent(ctx, "nsq.deferred_publish")
	if err := q.producer.DeferredPublish(q.topic, delay, body); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("nsq deferred publish: %w", err)
	}
	return nil
}

// Handler processes one dequeued event_id. Returning an error surfaces the
// failure to NSQ as a handler failure: the message redelivers after the
// consumer's visibility timeout (STORE_UNAVAILABLE policy). Returning nil
// finishes the message regardless of the business outcome — deliberate
// re-enqueues for backoff are the engine's own explicit Enqueue calls, not
// NSQ-level requeues.
type Handler func(ctx context.Context, eventID int64) error

// Consumer wraps an NSQ consumer bound to topic/channel with bounded
// concurrency and a configurable message visibility timeout.
type Consumer struct {
	consumer *nsq.Consumer
}

// ConsumerConfig configures Consume.
type ConsumerConfig struct {
	Topic           string
	Channel         string
	Concurrency     int
	MsgTimeout      time.Duration
	LookupHTTPAddr  string
	NsqdTCPAddr     string
}

// Consume starts a long-lived subscription: handler is invoked once per
// successful NSQ delivery, manual-ack, at the configured concurrency.
func Consume(cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Concurrency
	if cfg.MsgTimeout > 0 {
		conf.MsgTimeout = cfg.MsgTimeout
	}

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}

	consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()

		var t Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			m.Finish() // malformed envelope: terminal, not redeliverable
			return nil
		}

		ctx := tracing.ExtractTraceFromNSQ(context.Background(), t.TraceHeaders)
		if err := handler(ctx, t.EventID); err != nil {
			// Left unanswered, so nsqd redelivers it once MsgTimeout elapses.
			return err // redeliver: C1 is unavailable or similarly transient
		}
		m.Finish()
		return nil
	}), cfg.Concurrency)

	if cfg.NsqdTCPAddr != "" {
		if err := consumer.ConnectToNSQD(cfg.NsqdTCPAddr); err != nil {
			return nil, fmt.Errorf("connect to nsqd: %w", err)
		}
	}
	if cfg.LookupHTTPAddr != "" {
		if err := consumer.ConnectToNSQLookupd(cfg.LookupHTTPAddr); err != nil {
			return nil, fmt.Errorf("connect to lookupd: %w", err)
		}
	}

	return &Consumer{consumer: consumer}, nil
}

// Stop gracefully drains and stops the consumer.
func (c *Consumer) Stop() {
	c.consumer.Stop()
	<-c.consumer.StopChan
}
