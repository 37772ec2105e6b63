package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/regd/clock"
	"github.com/kbukum/regd/component"
	"github.com/kbukum/regd/kafka"
	"github.com/kbukum/regd/logger"
	"github.com/kbukum/regd/observability"
	"github.com/kbukum/regd/registry"
)

// Source is the part of the registry the feed listens to.
type Source interface {
	OnLocalChange(fn registry.ChangeListener) (unsubscribe func())
}

// Feed writes registry changes to Kafka.
type Feed struct {
	src   Source
	cfg   Config
	log   *logger.Logger
	clock clock.Clock

	queue chan registry.ChangeEvent

	mu       sync.Mutex
	producer *kafka.Producer
	unsub    func()
	cancel   context.CancelFunc
	done     chan struct{}

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	lastErr atomic.Value // string
}

var (
	_ component.Component   = (*Feed)(nil)
	_ component.Describable = (*Feed)(nil)
)

// Option configures a Feed.
type Option func(*Feed)

// WithProducer uses p instead of building a producer from Config.Kafka.
func WithProducer(p *kafka.Producer) Option {
	return func(f *Feed) { f.producer = p }
}

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(f *Feed) { f.clock = c }
}

// New creates the feed. Nothing is written until Start.
func New(src Source, cfg Config, log *logger.Logger, opts ...Option) *Feed {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	f := &Feed{
		src:   src,
		cfg:   cfg,
		log:   log.WithComponent("feed"),
		clock: clock.Real{},
		queue: make(chan registry.ChangeEvent, cfg.QueueSize),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Name returns the component name.
func (f *Feed) Name() string { return "feed" }

// Start creates the producer and subscribes to local changes.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return fmt.Errorf("feed already started")
	}
	if f.producer == nil {
		p, err := kafka.NewProducer(f.cfg.Kafka, f.log)
		if err != nil {
			return fmt.Errorf("feed start: %w", err)
		}
		f.producer = p
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	f.done = make(chan struct{})
	f.unsub = f.src.OnLocalChange(f.enqueue)
	go f.loop(loopCtx, f.producer, f.done)

	f.log.Info("change feed started", logger.Fields(
		"brokers", strings.Join(f.cfg.Kafka.Brokers, ","),
		"topic", f.cfg.Kafka.Topic,
	))
	return nil
}

// Stop unsubscribes, writes what is still queued while ctx allows, and
// closes the producer.
func (f *Feed) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel, done, unsub, producer := f.cancel, f.done, f.unsub, f.producer
	f.cancel, f.done, f.unsub, f.producer = nil, nil, nil, nil
	f.mu.Unlock()
	if cancel == nil {
		return nil
	}

	unsub()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		_ = producer.Close()
		return ctx.Err()
	}

	f.flush(ctx, producer)
	if n := len(f.queue); n > 0 {
		f.log.Warn("change feed stopped with unwritten changes", logger.Fields("pending", n))
	}
	f.log.Info("change feed stopped", logger.Fields(
		"written", f.written.Load(),
		"failed", f.failed.Load(),
		"dropped", f.dropped.Load(),
	))
	return producer.Close()
}

// enqueue is the registry change listener; it never blocks.
func (f *Feed) enqueue(ev registry.ChangeEvent) {
	select {
	case f.queue <- ev:
	default:
		if n := f.dropped.Add(1); n == 1 || n%1000 == 0 {
			f.log.Warn("feed queue full, dropping change", logger.Fields(
				"dropped_total", n,
				"service", ev.Instance.ServiceName,
				"instance", ev.Instance.InstanceID,
			))
		}
	}
}

func (f *Feed) loop(ctx context.Context, p *kafka.Producer, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			// A batch already dequeued is written even if Stop races it.
			f.write(context.WithoutCancel(ctx), p, f.collect(ev))
		}
	}
}

// collect gathers first and whatever else is already queued, up to MaxBatch.
func (f *Feed) collect(first registry.ChangeEvent) []registry.ChangeEvent {
	batch := []registry.ChangeEvent{first}
	for len(batch) < f.cfg.MaxBatch {
		select {
		case ev := <-f.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// flush writes the remaining queue during shutdown.
func (f *Feed) flush(ctx context.Context, p *kafka.Producer) {
	for ctx.Err() == nil {
		select {
		case ev := <-f.queue:
			f.write(ctx, p, f.collect(ev))
		default:
			return
		}
	}
}

func (f *Feed) write(ctx context.Context, p *kafka.Producer, batch []registry.ChangeEvent) {
	ctx, span := observability.StartSpan(ctx, "feed.write", observability.AttrBatchSize.Int(len(batch)))
	defer span.End()

	now := f.clock.Now()
	msgs := make([]kafkago.Message, 0, len(batch))
	for _, ev := range batch {
		msg, err := toMessage(ev, now)
		if err != nil {
			f.failed.Add(1)
			f.log.Error("failed to encode change", logger.Fields("error", err.Error()))
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return
	}

	if err := p.WriteMessages(ctx, msgs...); err != nil {
		observability.Fail(span, err)
		f.failed.Add(int64(len(msgs)))
		f.lastErr.Store(err.Error())
		f.log.Error("failed to write changes to kafka", logger.Fields(
			"error", err.Error(),
			"class", kafka.Classify(err).String(),
			"count", len(msgs),
			"topic", p.Topic(),
		))
		return
	}
	f.written.Add(int64(len(msgs)))
	f.lastErr.Store("")
}

// Stats reports feed counters.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`

	Producer *kafka.ProducerStats `json:"producer,omitempty"`
}

// Stats returns the feed counters.
func (f *Feed) Stats() Stats {
	s := Stats{
		Written: f.written.Load(),
		Failed:  f.failed.Load(),
		Dropped: f.dropped.Load(),
		Queued:  len(f.queue),
	}
	f.mu.Lock()
	p := f.producer
	f.mu.Unlock()
	if p != nil {
		ps := p.Stats()
		s.Producer = &ps
	}
	return s
}

// Health is degraded while the last write failed or after changes were
// dropped.
func (f *Feed) Health(ctx context.Context) component.Health {
	f.mu.Lock()
	running := f.cancel != nil
	f.mu.Unlock()

	h := component.Health{Name: f.Name(), Status: component.StatusHealthy}
	lastErr, _ := f.lastErr.Load().(string)
	switch {
	case !running:
		h.Status, h.Message = component.StatusUnhealthy, "not started"
	case lastErr != "":
		h.Status, h.Message = component.StatusDegraded, "last write failed: "+lastErr
	case f.dropped.Load() > 0:
		h.Status, h.Message = component.StatusDegraded, fmt.Sprintf("%d changes dropped", f.dropped.Load())
	}
	return h
}

// Describe returns infrastructure summary info for the bootstrap display.
func (f *Feed) Describe() component.Description {
	return component.Description{
		Name:    "Change feed",
		Type:    "kafka",
		Details: fmt.Sprintf("%s topic=%s", strings.Join(f.cfg.Kafka.Brokers, ","), f.cfg.Kafka.Topic),
	}
}
