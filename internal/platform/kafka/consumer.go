package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

// Message is one consumed record, decoupled from kgo so handlers stay
// testable without a broker.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
}

// Header returns the first header value for key, or nil.
func (m *Message) Header(key string) []byte {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return nil
}

// Handler processes one message. Returning nil commits the offset; an error
// withholds the commit so the record is redelivered.
type Handler func(ctx context.Context, msg *Message) error

// Consumer runs a consumer group with manual commits. Offsets advance only
// after the handler succeeds, which makes durable processing the commit
// barrier.
type Consumer struct {
	client      *kgo.Client
	logger      *slog.Logger
	concurrency int
}

type ConsumerOption func(*Consumer)

// WithConcurrency bounds how many partitions are worked in parallel.
// Records within one partition stay strictly ordered.
func WithConcurrency(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 1 {
			c.concurrency = n
		}
	}
}

func NewConsumer(brokers []string, group string, topics []string, logger *slog.Logger, opts ...ConsumerOption) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &Consumer{client: client, logger: logger, concurrency: 8}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until the context is cancelled. Partitions are worked in
// parallel up to the concurrency bound; within a partition records are
// handled in order and each successful record is committed individually, so
// a failure never skips past unprocessed work.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			records := p.Records
			if len(records) == 0 {
				return
			}
			g.Go(func() error {
				return c.handlePartition(gctx, handler, records)
			})
		})
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

func (c *Consumer) handlePartition(ctx context.Context, handler Handler, records []*kgo.Record) error {
	for _, record := range records {
		msg := &Message{
			Topic:     record.Topic,
			Partition: record.Partition,
			Offset:    record.Offset,
			Key:       record.Key,
			Value:     record.Value,
			Timestamp: record.Timestamp,
		}
		for _, h := range record.Headers {
			msg.Headers = append(msg.Headers, Header{Key: h.Key, Value: h.Value})
		}

		// Retry in place: committing a later record would implicitly
		// commit this one, so the offset must not move until the
		// handler succeeds.
		if err := c.handleWithRetry(ctx, handler, msg); err != nil {
			return err
		}
		if err := c.client.CommitRecords(ctx, record); err != nil {
			c.logger.ErrorContext(ctx, "offset commit failed",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
	return nil
}

func (c *Consumer) handleWithRetry(ctx context.Context, handler Handler, msg *Message) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.ErrorContext(ctx, "message handling failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"backoff", backoff,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}
