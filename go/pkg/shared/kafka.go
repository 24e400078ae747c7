package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Message is a consumed broker message.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Record is one keyed payload for a batched write.
type Record struct {
	Key   []byte
	Value []byte
	Time  time.Time
}

// Producer abstracts Kafka production.
type Producer interface {
	ProduceBatch(ctx context.Context, topic string, records []Record) error
	ProduceJSON(ctx context.Context, topic string, key []byte, v any) error
	Close() error
}

// Consumer abstracts Kafka consumption with explicit commits.
type Consumer interface {
	Poll(ctx context.Context) (*Message, error)
	Commit(ctx context.Context, msg *Message) error
	Close() error
}

// KafkaProducer keeps one writer per topic.
type KafkaProducer struct {
	cfg     KafkaConfig
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	closed  bool
}

func NewProducer(cfg KafkaConfig) *KafkaProducer {
	return &KafkaProducer{cfg: cfg, writers: make(map[string]*kafka.Writer)}
}

var errProducerClosed = errors.New("kafka producer closed")

func (k *KafkaProducer) writer(topic string) (*kafka.Writer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, errProducerClosed
	}
	if w, ok := k.writers[topic]; ok {
		return w, nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.BrokerList()...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: writerAcks(k.cfg.ProducerAcks),
		BatchTimeout: time.Duration(max(k.cfg.LingerMS, 0)) * time.Millisecond,
		BatchBytes:   int64(max(k.cfg.BatchBytes, 1)),
	}
	k.writers[topic] = w
	return w, nil
}

func (k *KafkaProducer) ProduceBatch(ctx context.Context, topic string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	w, err := k.writer(topic)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	msgs := make([]kafka.Message, len(records))
	for i, rec := range records {
		ts := rec.Time
		if ts.IsZero() {
			ts = now
		}
		msgs[i] = kafka.Message{Key: rec.Key, Value: rec.Value, Time: ts}
	}
	return w.WriteMessages(ctx, msgs...)
}

func (k *KafkaProducer) ProduceJSON(ctx context.Context, topic string, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return k.ProduceBatch(ctx, topic, []Record{{Key: key, Value: b}})
}

// Close flushes and closes every writer.
func (k *KafkaProducer) Close() error {
	k.mu.Lock()
	ws := make([]*kafka.Writer, 0, len(k.writers))
	for _, w := range k.writers {
		ws = append(ws, w)
	}
	k.writers = map[string]*kafka.Writer{}
	k.closed = true
	k.mu.Unlock()

	var errs []error
	for _, w := range ws {
		errs = append(errs, w.Close())
	}
	return errors.Join(errs...)
}

// KafkaConsumer reads one topic as part of a consumer group.
type KafkaConsumer struct {
	r *kafka.Reader
}

func NewConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("consumer topic required")
	}
	// The window rebuilds from live data, so a new group starts at the tail.
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.BrokerList(),
		GroupID:        cfg.GroupID,
		Topic:          topic,
		StartOffset:    kafka.LastOffset,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
	return &KafkaConsumer{r: r}, nil
}

func (k *KafkaConsumer) Poll(ctx context.Context) (*Message, error) {
	msg, err := k.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
	}, nil
}

func (k *KafkaConsumer) Commit(ctx context.Context, msg *Message) error {
	if msg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return k.r.CommitMessages(ctx, kafka.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

func (k *KafkaConsumer) Close() error { return k.r.Close() }

func writerAcks(raw string) kafka.RequiredAcks {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "all", "-1":
		return kafka.RequireAll
	case "none", "0":
		return kafka.RequireNone
	default:
		return kafka.RequireOne
	}
}
