// Package amqp publishes and consumes the expense change feed.
package amqp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"expensedash/internal/core"
	applog "expensedash/internal/log"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// channel is the part of *amqp091.Channel the client uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	IsClosed() bool
	Close() error
}

// dialFunc opens a connection and a channel on it.
type dialFunc func(url string) (channel, io.Closer, error)

func dialBroker(url string) (channel, io.Closer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn, nil
}

// Client connects lazily and reconnects after connection loss. Publishing
// is guarded by a circuit breaker so a dead broker does not slow down
// every mutation.
//
// Changes go to a fanout exchange. Every consuming process binds its own
// exclusive, auto-deleted queue, so each process sees every change. A
// process skips the changes it published itself.
type Client struct {
	url          string
	exchangeName string
	queuePrefix  string
	instanceID   string
	dial         dialFunc
	logger       *applog.Logger

	mu      sync.Mutex
	conn    io.Closer
	channel channel

	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewClient dials url and declares the exchange. queuePrefix names the
// per-process queue created when consuming.
func NewClient(url, exchangeName, queuePrefix string, logger *applog.Logger) (*Client, error) {
	c := newClient(url, exchangeName, queuePrefix, dialBroker, logger)
	if _, err := c.ensureChannel(); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(url, exchangeName, queuePrefix string, dial dialFunc, logger *applog.Logger) *Client {
	if logger == nil {
		logger = applog.Discard()
	}
	return &Client{
		url:          url,
		exchangeName: exchangeName,
		queuePrefix:  queuePrefix,
		instanceID:   newInstanceID(),
		dial:         dial,
		logger:       logger.WithComponent(applog.ComponentAMQP),
	}
}

func newInstanceID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// InstanceID identifies this process in published messages.
func (c *Client) InstanceID() string { return c.instanceID }

func (c *Client) ensureChannel() (channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	ch, conn, err := c.dial(c.url)
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch, c.exchangeName); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange: %w", err)
	}

	c.conn = conn
	c.channel = ch
	return ch, nil
}

func declareExchange(ch channel, exchangeName string) error {
	return ch.ExchangeDeclare(
		exchangeName, // name
		"fanout",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
}

// bindQueue declares this process's private queue and binds it to the
// exchange. The broker drops the queue when the consumer goes away.
func (c *Client) bindQueue(ch channel) (string, error) {
	q, err := ch.QueueDeclare(
		c.queuePrefix+"."+c.instanceID, // name
		false,                          // durable
		true,                           // delete when unused
		true,                           // exclusive
		false,                          // no-wait
		nil,                            // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.exchangeName, false, nil); err != nil {
		return "", fmt.Errorf("bind queue: %w", err)
	}
	return q.Name, nil
}

// Notify publishes change; it makes the client usable as a repository
// notifier.
func (c *Client) Notify(ctx context.Context, change core.Change) error {
	return c.PublishChange(ctx, change)
}

// PublishChange publishes one change message.
func (c *Client) PublishChange(ctx context.Context, change core.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish change: %w", ErrCircuitOpen)
	}

	msg := NewChangeMessage(change)
	msg.Source = c.instanceID
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(
		pubCtx,
		c.exchangeName,       // exchange
		msg.OwnerID.String(), // routing key, ignored by fanout
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reset()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.logger.DebugContext(ctx, "Published change",
		applog.FieldOperation, applog.OpPublish,
		"op", string(msg.Op),
		applog.FieldOwnerID, msg.OwnerID.String(),
		applog.FieldExpenseID, msg.ExpenseID.String(),
		"exchange", c.exchangeName)
	return nil
}

// ConsumeChanges delivers change messages to handler until ctx is done,
// reconnecting with exponential backoff when the broker goes away.
// Malformed messages are dropped; handler failures are requeued.
func (c *Client) ConsumeChanges(ctx context.Context, handler func(context.Context, core.Change) error) error {
	for attempt := 0; ; attempt++ {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := exponentialBackoff(attempt)
		c.logger.WarnContext(ctx, "Change feed interrupted, reconnecting",
			applog.FieldOperation, applog.OpConsume,
			applog.FieldError, err,
			"retry_in", wait)
		c.reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, handler func(context.Context, core.Change) error) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}

	queue, err := c.bindQueue(ch)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "Consuming change feed", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := ChangeMessageFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "Dropping malformed change message", applog.FieldError, err)
				delivery.Nack(false, false)
				continue
			}
			if msg.Source == c.instanceID {
				delivery.Ack(false)
				continue
			}

			if err := handler(ctx, msg.Change()); err != nil {
				c.logger.ErrorContext(ctx, "Failed to handle change",
					applog.FieldError, err,
					applog.FieldExpenseID, msg.ExpenseID.String())
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
			c.logger.DebugContext(ctx, "Handled change",
				applog.FieldOperation, applog.OpConsume,
				"op", string(msg.Op),
				applog.FieldOwnerID, msg.OwnerID.String())
		}
	}
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	return min(d, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
