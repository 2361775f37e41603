package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, e.Message,
		"run_id", e.RunID,
		"stage", e.Stage,
		"progress", e.Overall,
		"stage_progress", e.StageProgress,
	)
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by run ID.
type KafkaSink struct {
	w messageWriter
}

// NewKafkaSink writes to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              1,
		WriteTimeout:           10 * time.Second,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return s.w.WriteMessages(ctx, kafka.Message{Key: []byte(e.RunID), Value: payload})
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes events to a RabbitMQ exchange.
type AMQPSink struct {
	conn       *amqp.Connection
	ch         publisher
	exchange   string
	routingKey string
}

// NewAMQPSink dials url and opens a channel.
func NewAMQPSink(url, exchange, routingKey string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (s *AMQPSink) Send(_ context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	err = s.ch.Publish(s.exchange, s.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	if c, ok := s.ch.(*amqp.Channel); ok && c != nil {
		c.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
