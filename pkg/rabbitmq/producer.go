/**
 * @description
 * This package publishes business events (purchase completed, subscription
 * cancelled) to a RabbitMQ topic exchange so downstream systems can react to
 * storefront activity without being called synchronously from the webhook path.
 *
 * Key features:
 * - Manages the AMQP connection and channel.
 * - Declares the topic exchange once, when the producer is created.
 * - Provides a `Publish` method that marshals a Go struct into JSON and sends it.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 * - go.uber.org/zap: structured logging.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys of the events this service publishes.
const (
	RoutingKeyPurchaseCompleted     = "purchase.completed"
	RoutingKeySubscriptionCancelled = "subscription.cancelled"
)

// Publisher is the subset of EventProducer used by the orchestrator.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
}

// EventProducer is a client for publishing events to RabbitMQ.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *zap.Logger
}

// normalizeAMQPURL strips quotes and whitespace left over from env files and
// checks the scheme and host. An empty path becomes "/" (the default vhost).
func normalizeAMQPURL(raw string) (string, error) {
	u, err := url.Parse(strings.Trim(strings.TrimSpace(raw), `"'`))
	if err != nil {
		return "", fmt.Errorf("invalid rabbitmq url: %w", err)
	}
	switch u.Scheme {
	case "amqp", "amqps":
	default:
		return "", fmt.Errorf("rabbitmq url scheme %q must be amqp or amqps", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("rabbitmq url has no host")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// NewEventProducer connects to RabbitMQ and declares exchange as a durable topic exchange.
func NewEventProducer(amqpURL, exchange string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := normalizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	return &EventProducer{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger.Named("rabbitmq"),
	}, nil
}

// Publish sends body as JSON to the producer's exchange with routingKey.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         jsonBody,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Info("Published message", zap.String("exchange", p.exchange), zap.String("routing_key", routingKey))
	return nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
