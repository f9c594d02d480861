package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/buildpass/buildpass-backend/pkg/logger"
)

// MaxDeliveryAttempts is the number of handler attempts before a message is dead-lettered
const MaxDeliveryAttempts = 3

// HeaderRetryCount carries the number of failed attempts on a republished message
const HeaderRetryCount = "x-retry-count"

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// noRetryError marks a handler failure that must not be redelivered
type noRetryError struct {
	err error
}

func (e *noRetryError) Error() string { return e.err.Error() }
func (e *noRetryError) Unwrap() error { return e.err }

// NoRetry wraps err so the consumer acknowledges the message instead of requeueing it.
// Use it when a later event will repair the outcome anyway.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &noRetryError{err: err}
}

// IsNoRetry reports whether err was wrapped with NoRetry
func IsNoRetry(err error) bool {
	var nr *noRetryError
	return errors.As(err, &nr)
}

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	retry     channelPublisher
	logger    *logger.Logger
}

// NewConsumer creates a new consumer for the given queue
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start starts consuming messages from the queue
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Str("queue", c.queueName).Msg("message channel closed")
					return
				}
				c.handleMessage(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		// malformed messages go straight to the DLQ
		_ = msg.Reject(false)
		return
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().
			Str("event_type", event.Type).
			Msg("no handler registered for event type")
		_ = msg.Ack(false)
		return
	}

	c.logger.Debug().
		Str("event_type", event.Type).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("processing event")

	if err := handler(ctx, &event); err != nil {
		if IsNoRetry(err) {
			c.logger.Warn().
				Err(err).
				Str("event_type", event.Type).
				Str("event_id", event.ID).
				Msg("event handled with non-retryable error")
			_ = msg.Ack(false)
			return
		}

		c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID).
			Msg("failed to process event")

		c.retryOrDeadLetter(ctx, msg, &event)
		return
	}

	_ = msg.Ack(false)
}

// retryOrDeadLetter republishes a failed message with an incremented retry
// count, or rejects it to the dead letter exchange once the attempts are used up
func (c *Consumer) retryOrDeadLetter(ctx context.Context, msg amqp.Delivery, event *Event) {
	attempts := getRetryCount(msg) + 1
	if attempts >= MaxDeliveryAttempts {
		c.logger.Warn().
			Str("event_id", event.ID).
			Int("retry_count", attempts).
			Msg("max retries exceeded, sending to DLQ")
		_ = msg.Reject(false)
		return
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempts)

	err := c.retryChannel().PublishWithContext(ctx,
		"",          // default exchange
		c.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			Headers:       headers,
			ContentType:   msg.ContentType,
			DeliveryMode:  amqp.Persistent,
			MessageId:     msg.MessageId,
			Type:          msg.Type,
			Timestamp:     msg.Timestamp,
			CorrelationId: msg.CorrelationId,
			Body:          msg.Body,
		},
	)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("event_id", event.ID).
			Msg("failed to republish event for retry, sending to DLQ")
		_ = msg.Reject(false)
		return
	}

	c.logger.Debug().
		Str("event_id", event.ID).
		Int("retry_count", attempts).
		Msg("event republished for retry")
	_ = msg.Ack(false)
}

func (c *Consumer) retryChannel() channelPublisher {
	if c.retry != nil {
		return c.retry
	}
	return c.rmq.Channel()
}

// getRetryCount returns the failed attempts recorded on msg, from our own
// header or from the broker's dead-letter history
func getRetryCount(msg amqp.Delivery) int {
	if msg.Headers == nil {
		return 0
	}

	count := 0
	switch v := msg.Headers[HeaderRetryCount].(type) {
	case int32:
		count = int(v)
	case int64:
		count = int(v)
	case int:
		count = v
	}

	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		for _, death := range deaths {
			if d, ok := death.(amqp.Table); ok {
				if n, ok := d["count"].(int64); ok && int(n) > count {
					count = int(n)
				}
			}
		}
	}

	return count
}
