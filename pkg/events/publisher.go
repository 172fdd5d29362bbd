package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/xhad/assessor/internal/models"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// Publisher sends finished assessment results to the grading store over
// RabbitMQ.
type Publisher struct {
	config  Config
	conn    *amqp.Connection
	channel Channel
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPublisher dials the broker and declares the topic exchange.
func NewPublisher(config Config, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p, err := NewPublisherWithChannel(ch, config, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func NewPublisherWithChannel(ch Channel, config Config, logger zerolog.Logger) (*Publisher, error) {
	if config.Exchange == "" {
		config.Exchange = "assessments"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "assessment.finished"
	}

	if err := ch.ExchangeDeclare(config.Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", config.Exchange, err)
	}

	return &Publisher{config: config, channel: ch, logger: logger, now: time.Now}, nil
}

// routingKey appends the terminal state, e.g. assessment.finished.completed.
func (p *Publisher) routingKey(result *models.AssessmentResult) string {
	return p.config.RoutingKey + "." + string(result.Status.State)
}

func (p *Publisher) PublishResult(ctx context.Context, result *models.AssessmentResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(
		publishCtx,
		p.config.Exchange,
		p.routingKey(result),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now(),
			MessageId:    result.RunID,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish result %s: %w", result.RunID, err)
	}

	p.logger.Debug().
		Str("run_id", result.RunID).
		Str("routing_key", p.routingKey(result)).
		Msg("Published assessment result")
	return nil
}

func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to close channel")
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
