package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned by operations on a closed client
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URI renders the connection string with credentials and vhost escaped.
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// Client carries scheduled job IDs from the dispatcher to the workers over a
// single durable queue.
type Client struct {
	config *Config
	conn   *amqp.Connection
	logger *slog.Logger

	// amqp channels are not safe for concurrent publishes and acks
	mu        sync.Mutex
	channel   *amqp.Channel
	connected atomic.Bool
}

// NewClient dials the broker and declares the job exchange and queue
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	c := &Client{
		config: config,
		logger: logger,
	}

	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(ch, config); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.connected.Store(true)

	logger.Info("RabbitMQ client initialized",
		slog.String("exchange", config.ExchangeName),
		slog.String("queue", config.QueueName),
	)

	return c, nil
}

func (c *Client) dial() (*amqp.Connection, error) {
	attempts := max(c.config.RetryAttempts, 1)
	cfg := amqp.Config{Heartbeat: c.config.Heartbeat, Locale: "en_US"}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := amqp.DialConfig(c.config.URI(), cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Any("error", err),
		)
		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}

func declareTopology(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType, cfg.ExchangeDurable, cfg.ExchangeAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.QueueName, cfg.QueueDurable, cfg.QueueAutoDelete, cfg.QueueExclusive, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// backoff returns the wait before each publish retry.
func backoff(retries int, base time.Duration, mult float64) []time.Duration {
	if retries <= 0 {
		retries = 3
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if mult <= 0 {
		mult = 2.0
	}

	delays := make([]time.Duration, retries)
	d := base
	for i := range delays {
		delays[i] = d
		d = time.Duration(float64(d) * mult)
	}
	return delays
}

// PublishWithRetry publishes a persistent message, retrying with exponential
// backoff until the retries run out or ctx is done.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	msg := amqp.Publishing{
		ContentType:  contentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
	delays := backoff(c.config.PublishRetries, c.config.PublishRetryDelay, c.config.PublishBackoffMult)

	var err error
	for attempt := 0; ; attempt++ {
		msg.Timestamp = time.Now()

		c.mu.Lock()
		err = c.channel.PublishWithContext(ctx, c.config.ExchangeName, c.config.RoutingKey, false, false, msg)
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		if attempt == len(delays) {
			break
		}

		c.logger.Warn("Publish failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", delays[attempt]),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		case <-time.After(delays[attempt]):
		}
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", len(delays)+1, err)
}

// Qos sets the per-consumer prefetch count
func (c *Client) Qos(prefetchCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel.Qos(prefetchCount, 0, false)
}

// Consume starts a manual-ack consumer on the job queue
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	deliveries, err := c.channel.Consume(c.config.QueueName, consumerTag, false, false, false, false, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Consuming job queue",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return deliveries, nil
}

// Ack acknowledges a single delivery
func (c *Client) Ack(deliveryTag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel.Ack(deliveryTag, false)
}

// Nack rejects a single delivery, optionally requeueing it
func (c *Client) Nack(deliveryTag uint64, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.channel.Nack(deliveryTag, false, requeue)
}

// IsConnected reports whether the underlying connection is still open
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the channel and the connection
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.channel.Close(); err != nil {
		c.logger.Warn("Failed to close RabbitMQ channel", slog.Any("error", err))
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close RabbitMQ connection: %w", err)
	}

	c.logger.Info("RabbitMQ connection closed")
	return nil
}
