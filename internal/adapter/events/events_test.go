package events_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"trendscope/internal/adapter/events"
	"trendscope/internal/domain/content"
	"trendscope/internal/domain/trend"
	"trendscope/internal/logging"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	gt.NoError(t, err)
	ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	gt.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func receiveEvent(t *testing.T, ch chan *nats.Msg) (string, events.TrendEvent) {
	t.Helper()
	select {
	case msg := <-ch:
		var ev events.TrendEvent
		gt.NoError(t, json.Unmarshal(msg.Data, &ev))
		return msg.Subject, ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return "", events.TrendEvent{}
}

func TestPublisherSubjects(t *testing.T) {
	nc := startNATS(t)
	ch := make(chan *nats.Msg, 8)
	sub, err := nc.ChanSubscribe("trend.>", ch)
	gt.NoError(t, err)
	defer sub.Unsubscribe()
	gt.NoError(t, nc.Flush())

	ctx := context.Background()
	pub := events.NewPublisher(nc, "")
	tr := trend.Trend{ID: "t1", Name: "gpu", Score: 72, Velocity: 4, Status: trend.StatusPeak}

	gt.NoError(t, pub.TrendUpdated(ctx, tr))
	subject, ev := receiveEvent(t, ch)
	gt.Equal(t, subject, "trend.updated")
	gt.Equal(t, ev.Type, events.TypeUpdated)
	gt.Equal(t, ev.TrendID, "t1")
	gt.Equal(t, ev.Score, 72.0)

	gt.NoError(t, pub.StatusChanged(ctx, tr, trend.StatusEmerging))
	subject, ev = receiveEvent(t, ch)
	gt.Equal(t, subject, "trend.status_changed")
	gt.Equal(t, ev.From, trend.StatusEmerging)
	gt.Equal(t, ev.Status, trend.StatusPeak)

	retired := tr
	retired.SupersededBy = "t0"
	gt.NoError(t, pub.TrendSuperseded(ctx, retired))
	subject, ev = receiveEvent(t, ch)
	gt.Equal(t, subject, "trend.superseded")
	gt.Equal(t, ev.SupersededBy, "t0")

	gt.NoError(t, pub.PredictionGenerated(ctx, trend.TrendPrediction{TrendID: "t1", Horizon: 7, Confidence: 0.9}))
	subject, ev = receiveEvent(t, ch)
	gt.Equal(t, subject, "trend.prediction")
	gt.True(t, ev.Prediction != nil)
	gt.Equal(t, ev.Prediction.Horizon, 7)
}

func TestDecodeItems(t *testing.T) {
	items, err := events.DecodeItems([]byte(`{"itemId":"a","platform":"tiktok","embedding":[1,0]}`))
	gt.NoError(t, err)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].ID, "a")
	gt.Equal(t, items[0].Embedding, []float64{1, 0})

	items, err = events.DecodeItems([]byte(` [{"itemId":"a"},{"itemId":"b"}]`))
	gt.NoError(t, err)
	gt.A(t, items).Length(2)

	items, err = events.DecodeItems(nil)
	gt.NoError(t, err)
	gt.A(t, items).Length(0)

	_, err = events.DecodeItems([]byte(`{"itemId":`))
	gt.Error(t, err)
}

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]string
	done    chan struct{}
	want    int
	total   int
}

func newBatchRecorder(want int) *batchRecorder {
	return &batchRecorder{done: make(chan struct{}), want: want}
}

func (r *batchRecorder) handle(ctx context.Context, items []content.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	r.batches = append(r.batches, ids)
	r.total += len(items)
	if r.total == r.want {
		close(r.done)
	}
	return nil
}

func (r *batchRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for batches")
	}
}

func publishItem(t *testing.T, nc *nats.Conn, subject, id string) {
	t.Helper()
	data, err := json.Marshal(content.Item{ID: id, Platform: "youtube", Embedding: []float64{1, 0}})
	gt.NoError(t, err)
	gt.NoError(t, nc.Publish(subject, data))
}

func TestConsumerFlushesOnBatchSize(t *testing.T) {
	nc := startNATS(t)
	rec := newBatchRecorder(4)

	c := events.NewConsumer(nc, events.ConsumerConfig{
		Subject:       "content.analyzed",
		Queue:         "test",
		BatchSize:     2,
		FlushInterval: time.Hour,
	}, rec.handle, logging.New("error", io.Discard))
	gt.NoError(t, c.Start(context.Background()))

	for _, id := range []string{"a", "b", "c", "d"} {
		publishItem(t, nc, "content.analyzed", id)
	}
	gt.NoError(t, nc.Publish("content.analyzed", []byte("not json")))
	gt.NoError(t, nc.Flush())
	rec.wait(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gt.NoError(t, c.Stop(ctx))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	gt.Equal(t, rec.batches, [][]string{{"a", "b"}, {"c", "d"}})
}

func TestConsumerFlushesOnInterval(t *testing.T) {
	nc := startNATS(t)
	rec := newBatchRecorder(1)

	c := events.NewConsumer(nc, events.ConsumerConfig{
		Subject:       "content.analyzed",
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, rec.handle, logging.New("error", io.Discard))
	gt.NoError(t, c.Start(context.Background()))

	publishItem(t, nc, "content.analyzed", "solo")
	gt.NoError(t, nc.Flush())
	rec.wait(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gt.NoError(t, c.Stop(ctx))
}

func TestConsumerFlushesPendingOnStop(t *testing.T) {
	nc := startNATS(t)
	rec := newBatchRecorder(3)

	c := events.NewConsumer(nc, events.ConsumerConfig{
		Subject:       "content.analyzed",
		BatchSize:     100,
		FlushInterval: time.Hour,
	}, rec.handle, logging.New("error", io.Discard))
	gt.NoError(t, c.Start(context.Background()))

	data, err := json.Marshal([]content.Item{{ID: "x"}, {ID: "y"}, {ID: "z"}})
	gt.NoError(t, err)
	gt.NoError(t, nc.Publish("content.analyzed", data))
	gt.NoError(t, nc.Flush())

	// give the subscription a moment to hand the message over
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gt.NoError(t, c.Stop(ctx))
	rec.wait(t)
}
