package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/regd/logger"
)

// Writer is the subset of *kafkago.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Stats() kafkago.WriterStats
	Close() error
}

// Producer wraps a kafka-go Writer with retries and classified errors.
type Producer struct {
	writer Writer
	cfg    Config
	log    *logger.Logger
	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	totals  ProducerStats
}

// ProducerStats are cumulative writer counters.
type ProducerStats struct {
	Writes     int64   `json:"writes"`
	Messages   int64   `json:"messages"`
	Bytes      int64   `json:"bytes"`
	Errors     int64   `json:"errors"`
	Retries    int64   `json:"retries"`
	MaxWriteMs float64 `json:"maxWriteMs"`
}

// NewProducer creates a producer for cfg.Topic. kafka-go connects lazily
// on the first write.
func NewProducer(cfg Config, log *logger.Logger) (*Producer, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka producer config: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.WithComponent("kafka.producer")

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Transport:    transport,
		Balancer:     &kafkago.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafkago.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error("kafka writer error", logger.Fields("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	log.Info("Kafka producer initialized", map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
		"batch_size":  cfg.BatchSize,
	})

	return &Producer{writer: w, cfg: cfg, log: log}, nil
}

// NewProducerWithWriter creates a producer over an existing writer.
func NewProducerWithWriter(cfg Config, w Writer, log *logger.Logger) *Producer {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.NewNop()
	}
	return &Producer{writer: w, cfg: cfg, log: log.WithComponent("kafka.producer")}
}

// Topic returns the destination topic.
func (p *Producer) Topic() string { return p.cfg.Topic }

// Brokers returns the configured broker addresses.
func (p *Producer) Brokers() []string { return p.cfg.Brokers }

// WriteMessages sends one or more messages with retry. Errors Kafka reports
// as permanent are returned without retrying.
func (p *Producer) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer is closed")
	}
	p.mu.RUnlock()

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retries; attempt++ {
		err := p.writer.WriteMessages(ctx, msgs...)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsNonRetryableError(err) {
			return fmt.Errorf("write: %w", err)
		}
		if attempt < p.cfg.Retries {
			p.log.Warn("kafka write failed, retrying", logger.Fields(
				"attempt", attempt,
				"error", err.Error(),
			))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
	}
	return fmt.Errorf("write after %d retries: %w", p.cfg.Retries, lastErr)
}

// SendEvent writes event as JSON with the given partition key.
func (p *Producer) SendEvent(ctx context.Context, key string, event Event) error {
	msg, err := EventMessage(key, event)
	if err != nil {
		return err
	}
	return p.WriteMessages(ctx, msg)
}

// EventMessage encodes event into a kafka-go message.
func EventMessage(key string, event Event) (kafkago.Message, error) {
	data, err := event.ToJSON()
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafkago.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}

// Stats returns counters accumulated since the producer was created.
// kafka-go resets its own counters on every read, so reads are folded
// into running totals here.
func (p *Producer) Stats() ProducerStats {
	ws := p.writer.Stats()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.totals.Writes += ws.Writes
	p.totals.Messages += ws.Messages
	p.totals.Bytes += ws.Bytes
	p.totals.Errors += ws.Errors
	p.totals.Retries += ws.Retries
	if ms := float64(ws.WriteTime.Max) / float64(time.Millisecond); ms > p.totals.MaxWriteMs {
		p.totals.MaxWriteMs = ms
	}
	return p.totals
}

// Close flushes pending messages and shuts down the producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.log.Info("Kafka producer closing")
	return p.writer.Close()
}
