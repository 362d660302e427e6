// internal/adapter/events/nats.go

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"trendscope/internal/domain/trend"
)

// Event types carried in TrendEvent.Type, also the last subject token
const (
	TypeUpdated       = "updated"
	TypeStatusChanged = "status_changed"
	TypeSuperseded    = "superseded"
	TypePrediction    = "prediction"
)

// TrendEvent is the payload of every trend event
type TrendEvent struct {
	Type         string                 `json:"type"`
	TrendID      string                 `json:"trendId"`
	Name         string                 `json:"name,omitempty"`
	Score        float64                `json:"score"`
	Velocity     float64                `json:"velocity"`
	Status       trend.Status           `json:"status,omitempty"`
	From         trend.Status           `json:"from,omitempty"`
	SupersededBy string                 `json:"supersededBy,omitempty"`
	Prediction   *trend.TrendPrediction `json:"prediction,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// headerCarrier adapts nats.Msg headers for trace propagation
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// publish serializes v as JSON and injects the trace context of ctx
func publish(ctx context.Context, nc *nats.Conn, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling event: %w", err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("error publishing to %s: %w", subject, err)
	}
	return nil
}

// extract returns a context carrying the trace context found in msg
func extract(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
}

// Publisher publishes trend events to NATS under <prefix>.<type>
type Publisher struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

// NewPublisher creates a new trend event publisher
func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "trend"
	}
	return &Publisher{
		nc:     nc,
		prefix: prefix,
		now:    time.Now,
	}
}

// Subject returns the subject events of type typ are published on
func (p *Publisher) Subject(typ string) string {
	return fmt.Sprintf("%s.%s", p.prefix, typ)
}

func (p *Publisher) event(typ string, t trend.Trend) TrendEvent {
	return TrendEvent{
		Type:         typ,
		TrendID:      t.ID,
		Name:         t.Name,
		Score:        t.Score,
		Velocity:     t.Velocity,
		Status:       t.Status,
		SupersededBy: t.SupersededBy,
		Timestamp:    p.now(),
	}
}

// TrendUpdated publishes a recomputed trend
func (p *Publisher) TrendUpdated(ctx context.Context, t trend.Trend) error {
	return publish(ctx, p.nc, p.Subject(TypeUpdated), p.event(TypeUpdated, t))
}

// StatusChanged publishes a lifecycle transition
func (p *Publisher) StatusChanged(ctx context.Context, t trend.Trend, from trend.Status) error {
	ev := p.event(TypeStatusChanged, t)
	ev.From = from
	return publish(ctx, p.nc, p.Subject(TypeStatusChanged), ev)
}

// TrendSuperseded publishes a trend that was folded into another one
func (p *Publisher) TrendSuperseded(ctx context.Context, retired trend.Trend) error {
	return publish(ctx, p.nc, p.Subject(TypeSuperseded), p.event(TypeSuperseded, retired))
}

// PredictionGenerated publishes a fresh forecast
func (p *Publisher) PredictionGenerated(ctx context.Context, pred trend.TrendPrediction) error {
	ev := TrendEvent{
		Type:       TypePrediction,
		TrendID:    pred.TrendID,
		Prediction: &pred,
		Timestamp:  p.now(),
	}
	return publish(ctx, p.nc, p.Subject(TypePrediction), ev)
}
