package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ReadingEvent is published once an accepted reading has been committed
type ReadingEvent struct {
	EventID   string   `json:"event_id"`
	DeviceID  string   `json:"device_id"`
	Count     int64    `json:"count"`
	Liters    float64  `json:"liters"`
	Timestamp string   `json:"timestamp"`
	Owners    []string `json:"owners"`
}

// Publisher publishes JSON messages to a topic exchange under a fixed routing key
type Publisher struct {
	mu         sync.Mutex
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher opens a channel and declares the events exchange
func NewPublisher(conn *Connection, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopicExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}

	return &Publisher{
		channel:    ch,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// TelemetryFrame is a raw device report, in the same shape devices send over the relay
type TelemetryFrame struct {
	DeviceID string `json:"device_id"`
	Count    int64  `json:"count"`
}

// PublishReading publishes an accepted reading event
func (p *Publisher) PublishReading(ctx context.Context, event ReadingEvent) error {
	if err := p.publish(ctx, event.EventID, event); err != nil {
		return err
	}

	p.logger.Debug("published reading event",
		zap.String("routing_key", p.routingKey),
		zap.String("event_id", event.EventID),
		zap.String("device_id", event.DeviceID),
	)
	return nil
}

// PublishTelemetry publishes a raw device report, as a queue-connected meter would
func (p *Publisher) PublishTelemetry(ctx context.Context, messageID string, frame TelemetryFrame) error {
	if err := p.publish(ctx, messageID, frame); err != nil {
		return err
	}

	p.logger.Debug("published telemetry frame",
		zap.String("routing_key", p.routingKey),
		zap.String("device_id", frame.DeviceID),
		zap.Int64("count", frame.Count),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.exchange, err)
	}
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}

func declareTopicExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return nil
}
