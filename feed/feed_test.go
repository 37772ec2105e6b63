package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbukum/regd/clock"
	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/kafka"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/registry"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	fail   error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Stats() kafkago.WriterStats { return kafkago.WriterStats{} }

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) messages() []kafkago.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafkago.Message(nil), w.msgs...)
}

func setup(t *testing.T, w *recordingWriter, cfg Config) (*Feed, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(registry.Config{NodeID: "node-a"}, logger.NewNop())
	require.NoError(t, err)

	producer := kafka.NewProducerWithWriter(kafka.Config{Retries: 1}, w, nil)
	f := New(reg, cfg, logger.NewNop(), WithProducer(producer), WithClock(clock.NewFake(epoch)))
	return f, reg
}

func orders(id string) registry.Instance {
	return registry.Instance{ServiceName: "orders", InstanceID: id, Host: "10.0.0.1", Port: 8080}
}

func TestFeed_WritesChanges(t *testing.T) {
	w := &recordingWriter{}
	f, reg := setup(t, w, Config{Enabled: true})
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	defer f.Stop(ctx)

	require.NoError(t, reg.Register(orders("i-1"), 0))
	reg.Cancel("orders", "i-1")

	require.Eventually(t, func() bool { return len(w.messages()) == 2 }, 2*time.Second, 10*time.Millisecond)
	msgs := w.messages()

	assert.Equal(t, "orders/i-1", string(msgs[0].Key))
	assert.Equal(t, epoch, msgs[0].Time)

	var first, second kafka.Event
	require.NoError(t, json.Unmarshal(msgs[0].Value, &first))
	require.NoError(t, json.Unmarshal(msgs[1].Value, &second))
	assert.Equal(t, "regd.instance.added", first.Type)
	assert.Equal(t, "regd.instance.deleted", second.Type)
	assert.Equal(t, "node-a", first.Source)
	assert.Equal(t, "orders/i-1", first.Subject)
	assert.NotEqual(t, first.ID, second.ID)

	var data ChangeData
	require.NoError(t, json.Unmarshal(first.Data, &data))
	assert.Equal(t, uint64(1), data.Version)
	assert.Equal(t, "i-1", data.Instance.InstanceID)

	assert.EqualValues(t, 2, f.Stats().Written)
	assert.Equal(t, component.StatusHealthy, f.Health(ctx).Status)
}

func TestFeed_IgnoresRemoteChanges(t *testing.T) {
	w := &recordingWriter{}
	f, reg := setup(t, w, Config{Enabled: true})
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))

	require.NoError(t, reg.ApplyRemoteUpdate(orders("r-1"), registry.ActionAdded, "node-b"))
	require.NoError(t, reg.Register(orders("i-1"), 0))
	require.NoError(t, f.Stop(ctx))

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "orders/i-1", string(msgs[0].Key))
	assert.True(t, w.closed)
}

func TestFeed_WriteFailureDegrades(t *testing.T) {
	w := &recordingWriter{fail: errors.New("[3] Unknown Topic Or Partition")}
	f, reg := setup(t, w, Config{Enabled: true})
	ctx := context.Background()
	require.NoError(t, f.Start(ctx))
	defer f.Stop(ctx)

	require.NoError(t, reg.Register(orders("i-1"), 0))
	require.Eventually(t, func() bool { return f.Stats().Failed == 1 }, 2*time.Second, 10*time.Millisecond)

	h := f.Health(ctx)
	assert.Equal(t, component.StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "Unknown Topic")

	// Registry writes are unaffected by the broker.
	_, ok := reg.GetInstance("orders", "i-1")
	assert.True(t, ok)
}

func TestFeed_QueueOverflowDrops(t *testing.T) {
	f, _ := setup(t, &recordingWriter{}, Config{QueueSize: 2})

	for i := 0; i < 5; i++ {
		f.enqueue(registry.ChangeEvent{Action: registry.ActionAdded, Instance: orders("i-1")})
	}
	s := f.Stats()
	assert.Equal(t, 2, s.Queued)
	assert.EqualValues(t, 3, s.Dropped)
}

func TestFeed_CollectBatches(t *testing.T) {
	f, _ := setup(t, &recordingWriter{}, Config{MaxBatch: 3})
	for i := 0; i < 4; i++ {
		f.enqueue(registry.ChangeEvent{Version: uint64(i + 2)})
	}

	batch := f.collect(registry.ChangeEvent{Version: 1})
	require.Len(t, batch, 3)
	assert.Equal(t, uint64(1), batch[0].Version)
	assert.Equal(t, uint64(3), batch[2].Version)
	assert.Equal(t, 2, f.Stats().Queued)
}

func TestFeed_Lifecycle(t *testing.T) {
	f, _ := setup(t, &recordingWriter{}, Config{Enabled: true})
	ctx := context.Background()

	assert.Equal(t, component.StatusUnhealthy, f.Health(ctx).Status)
	require.NoError(t, f.Stop(ctx), "stop before start")
	require.NoError(t, f.Start(ctx))
	assert.Error(t, f.Start(ctx))
	require.NoError(t, f.Stop(ctx))
	assert.Equal(t, "kafka", f.Describe().Type)
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "regd.instance.added", EventType(registry.ActionAdded))
	assert.Equal(t, "regd.instance.modified", EventType(registry.ActionModified))
	assert.Equal(t, "regd.instance.deleted", EventType(registry.ActionDeleted))
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 4096, cfg.QueueSize)
	assert.Equal(t, "regd.changes", cfg.Kafka.Topic)
	assert.NoError(t, cfg.Validate())

	cfg.Enabled = true
	cfg.Kafka.Compression = "brotli"
	assert.Error(t, cfg.Validate())
}
