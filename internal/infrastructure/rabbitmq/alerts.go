// Package rabbitmq carries compensation-failed alerts from the gateway to the
// notification service on a durable queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

const DefaultAlertQueue = "saga.compensation_failed"

type AlertPublisher struct {
	url   string
	queue string
	log   logger.Logger
}

func NewAlertPublisher(url, queue string, log logger.Logger) *AlertPublisher {
	if queue == "" {
		queue = DefaultAlertQueue
	}
	return &AlertPublisher{url: url, queue: queue, log: log}
}

// PublishCompensationFailed dials per publish. Alerts are rare, so a held
// connection is not worth its reconnect handling.
func (p *AlertPublisher) PublishCompensationFailed(ctx context.Context, alert domain.CompensationAlert) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error("RabbitMQ dial failed", "error", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error("RabbitMQ channel open failed", "error", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := declareQueue(ch, p.queue); err != nil {
		return err
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    alert.SagaID,
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.log.Error("RabbitMQ publish failed", "saga_id", alert.SagaID, "error", err)
		return err
	}

	p.log.Info("Published compensation alert", "saga_id", alert.SagaID, "step", alert.Step, "abandoned", alert.Abandoned)
	return nil
}

type AlertConsumer struct {
	url   string
	queue string
	log   logger.Logger
}

func NewAlertConsumer(url, queue string, log logger.Logger) *AlertConsumer {
	if queue == "" {
		queue = DefaultAlertQueue
	}
	return &AlertConsumer{url: url, queue: queue, log: log}
}

// SubscribeToAlerts consumes until ctx is done, reconnecting with backoff.
func (c *AlertConsumer) SubscribeToAlerts(ctx context.Context, handler domain.AlertHandler) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("Alert consumer failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn, handler)
		_ = conn.Close()
		if ctx.Err() != nil {
			c.log.Info("Alert consumer stopped")
			return ctx.Err()
		}
		c.log.Warn("Alert consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *AlertConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection, handler domain.AlertHandler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(20, 0, false); err != nil {
		c.log.Warn("Alert consumer set QoS failed", "error", err)
	}
	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleDelivery(d.Body, handler); err != nil {
				c.log.Error("Failed to handle alert", "error", err)
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleDelivery(body []byte, handler domain.AlertHandler) error {
	var alert domain.CompensationAlert
	if err := json.Unmarshal(body, &alert); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if alert.SagaID == "" {
		return errors.New("alert without saga id")
	}
	return handler(alert)
}

func declareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
