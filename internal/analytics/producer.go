package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes events to a Kafka topic keyed by game id, so every
// event of one game lands on the same partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Track(ctx context.Context, event string, payload map[string]any) error {
	if p == nil || p.writer == nil {
		return nil
	}
	data, err := encode(event, payload, time.Now())
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	msg := kafka.Message{Value: data}
	if id, ok := payload["gameId"].(string); ok {
		msg.Key = []byte(id)
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", event, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// KafkaSource reads events as part of a consumer group.
type KafkaSource struct {
	reader *kafka.Reader
}

func NewKafkaSource(brokers []string, topic, group string) *KafkaSource {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSource{reader: kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})}
}

func (s *KafkaSource) Next(ctx context.Context) (Event, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return Event{}, err
	}
	e, err := decode(msg.Value)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return e, nil
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
