package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trendscope/internal/domain/content"
	"trendscope/internal/logging"
)

// BatchHandler processes one batch of analyzed content
type BatchHandler func(ctx context.Context, items []content.Item) error

// ConsumerConfig contains configuration for the content consumer
type ConsumerConfig struct {
	Subject       string
	Queue         string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultConsumerConfig returns the production defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Subject:       "content.analyzed",
		Queue:         "trendscope",
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

type received struct {
	items []content.Item
	link  trace.Link
}

// Consumer reads analyzed content from NATS and hands it to a BatchHandler
// in batches of up to BatchSize items, or whatever arrived within
// FlushInterval.
type Consumer struct {
	nc      *nats.Conn
	config  ConsumerConfig
	handler BatchHandler
	logger  *slog.Logger
	tracer  trace.Tracer

	incoming chan received
	sub      *nats.Subscription
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewConsumer creates a new content consumer
func NewConsumer(nc *nats.Conn, config ConsumerConfig, handler BatchHandler, logger *slog.Logger) *Consumer {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{
		nc:       nc,
		config:   config,
		handler:  handler,
		logger:   logger,
		tracer:   otel.Tracer("trendscope/events"),
		incoming: make(chan received, config.BatchSize),
	}
}

// Start subscribes to the content subject and begins batching
func (c *Consumer) Start(ctx context.Context) error {
	sub, err := c.nc.QueueSubscribe(c.config.Subject, c.config.Queue, c.receive)
	if err != nil {
		return fmt.Errorf("error subscribing to %s: %w", c.config.Subject, err)
	}
	c.sub = sub

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)

	c.logger.Info("consuming content", "subject", c.config.Subject, "batch_size", c.config.BatchSize)
	return nil
}

func (c *Consumer) receive(msg *nats.Msg) {
	items, err := DecodeItems(msg.Data)
	if err != nil {
		c.logger.Warn("dropping malformed content message", "subject", msg.Subject, "error", err)
		return
	}
	if len(items) == 0 {
		return
	}
	c.incoming <- received{
		items: items,
		link:  trace.LinkFromContext(extract(msg)),
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	var (
		batch []content.Item
		links []trace.Link
	)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		ctx, span := c.tracer.Start(ctx, "content.batch",
			trace.WithLinks(links...),
			trace.WithAttributes(attribute.Int("items", len(batch))),
		)
		if err := c.handler(ctx, batch); err != nil {
			span.RecordError(err)
			c.logger.Error("failed to process content batch", "items", len(batch), "error", err)
		}
		span.End()
		batch, links = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			// drain what the subscription already delivered
			for {
				select {
				case r := <-c.incoming:
					batch = append(batch, r.items...)
					links = append(links, r.link)
				default:
					flush(context.WithoutCancel(ctx))
					return
				}
			}
		case r := <-c.incoming:
			batch = append(batch, r.items...)
			links = append(links, r.link)
			if len(batch) >= c.config.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Stop unsubscribes, processes pending items and waits for the batcher
func (c *Consumer) Stop(ctx context.Context) error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", "subject", c.config.Subject, "error", err)
		}
	}
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DecodeItems accepts a single JSON item or a JSON array of items
func DecodeItems(data []byte) ([]content.Item, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var items []content.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("error decoding content items: %w", err)
		}
		return items, nil
	}

	var item content.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("error decoding content item: %w", err)
	}
	return []content.Item{item}, nil
}
