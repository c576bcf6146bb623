package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/nerrad567/firewatch-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	connectionName = "firewatch-core"

	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 60 * time.Second
)

// Logger is the logging interface used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Client publishes JSON messages to one topic exchange.
type Client struct {
	cfg config.AMQPConfig

	// mu guards conn and ch; a channel must not be used by two
	// publishers at once.
	mu     sync.Mutex
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	closed bool
	done   chan struct{}

	logger Logger
}

// Connect dials the broker and declares the exchange.
// It returns ErrDisabled when the integration is turned off.
func Connect(ctx context.Context, cfg config.AMQPConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		cfg:    cfg,
		done:   make(chan struct{}),
		logger: noopLogger{},
	}

	conn, ch, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn, c.ch = conn, ch

	go c.watch(conn)

	return c, nil
}

// SetLogger sets the logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

func (c *Client) dial(ctx context.Context) (*amqp091.Connection, *amqp091.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	props := amqp091.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	conn, err := amqp091.DialConfig(c.cfg.URL, amqp091.Config{
		Dial:       amqp091.DefaultDial(connectTimeout),
		Properties: props,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %w", ErrConnectionFailed, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: open channel: %w", ErrConnectionFailed, err)
	}

	err = ch.ExchangeDeclare(
		c.cfg.Exchange,
		amqp091.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: declare exchange %q: %w", ErrConnectionFailed, c.cfg.Exchange, err)
	}

	return conn, ch, nil
}

// watch redials after an unexpected connection loss.
func (c *Client) watch(conn *amqp091.Connection) {
	for {
		closeErr, ok := <-conn.NotifyClose(make(chan *amqp091.Error, 1))

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.conn, c.ch = nil, nil
		logger := c.logger
		c.mu.Unlock()

		if ok {
			logger.Warn("amqp connection lost", "error", closeErr)
		} else {
			logger.Warn("amqp connection lost")
		}

		next, ok := c.redial(logger)
		if !ok {
			return
		}
		conn = next
	}
}

func (c *Client) redial(logger Logger) (*amqp091.Connection, bool) {
	delay := reconnectInitialDelay
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		conn, ch, err := c.dial(context.Background())
		if err != nil {
			logger.Warn("amqp reconnect failed", "error", err, "retry_in", delay)
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil, false
		}
		c.conn, c.ch = conn, ch
		c.mu.Unlock()

		logger.Info("amqp reconnected", "exchange", c.cfg.Exchange)
		return conn, true
	}
}

// PublishJSON marshals v and publishes it as a persistent message.
func (c *Client) PublishJSON(ctx context.Context, routingKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("amqp: marshal payload: %w", err)
	}

	if c == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.ch == nil {
		return ErrNotConnected
	}

	err = c.ch.PublishWithContext(ctx,
		c.cfg.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			AppId:        connectionName,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, routingKey, err)
	}
	return nil
}

// HealthCheck reports whether the connection is open.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Close stops reconnecting and closes the connection. Safe to call twice.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn, c.ch = nil, nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("amqp: close: %w", err)
	}
	return nil
}

// RoutingKey builds device.<code>.<kind>. Dots in the code are replaced so
// the key keeps exactly three words.
func RoutingKey(deviceCode, kind string) string {
	return "device." + strings.ReplaceAll(deviceCode, ".", "_") + "." + kind
}
