package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterSuffix     = ".dlq"
	headerDeadReason     = "x-opal-dead-reason"
	headerDeadDesc       = "x-opal-dead-description"
	headerDeliveryCount  = "x-delivery-count"
	rabbitPollInterval   = 200 * time.Millisecond
	rabbitConfirmTimeout = 10 * time.Second
)

// RabbitOptions tunes the RabbitMQ transport.
type RabbitOptions struct {
	MaxDeliveryCount int
	Queues           []string
}

// RabbitTransport implements Transport on RabbitMQ quorum queues. Unacked
// deliveries stay invisible until acked, nacked, or the channel closes, so
// RenewLock has nothing to extend. A closed connection or channel is
// redialed on the next call; deliveries taken on the old channel are lost
// to this receiver and the broker requeues them.
type RabbitTransport struct {
	url  string
	opts RabbitOptions
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	closed   chan *amqp.Error
	pending  map[string]uint64
	shut     bool
}

// OpenRabbit dials url, enables publisher confirms, and declares every queue
// with its dead-letter companion.
func OpenRabbit(ctx context.Context, url string, opts RabbitOptions) (*RabbitTransport, error) {
	if opts.MaxDeliveryCount <= 0 {
		opts.MaxDeliveryCount = 5
	}
	if len(opts.Queues) == 0 {
		opts.Queues = Names()
	}
	t := &RabbitTransport{
		url:     url,
		opts:    opts,
		dial:    amqp.Dial,
		pending: make(map[string]uint64),
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

// connect dials a fresh connection and channel and declares the queues.
// Callers hold t.mu.
func (t *RabbitTransport) connect() error {
	conn, err := t.dial(t.url)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publish confirmations: %w", err)
	}
	t.conn = conn
	t.channel = channel
	t.confirms = channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	t.closed = channel.NotifyClose(make(chan *amqp.Error, 1))
	for _, name := range t.opts.Queues {
		if err := t.declare(name, t.opts.MaxDeliveryCount); err != nil {
			t.drop()
			return err
		}
	}
	return nil
}

// drop discards the current connection and every delivery taken on it.
// Callers hold t.mu.
func (t *RabbitTransport) drop() {
	if t.channel != nil {
		_ = t.channel.Close()
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn, t.channel, t.confirms, t.closed = nil, nil, nil, nil
	clear(t.pending)
}

// ready redials when the channel or connection has closed. Callers hold t.mu.
func (t *RabbitTransport) ready() error {
	if t.shut {
		return errors.New("rabbitmq transport closed")
	}
	if t.channel != nil && !t.conn.IsClosed() {
		select {
		case <-t.closed:
		default:
			return nil
		}
	}
	t.drop()
	if err := t.connect(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	return nil
}

func (t *RabbitTransport) declare(name string, maxDelivery int) error {
	dlq := name + deadLetterSuffix
	if _, err := t.channel.QueueDeclare(dlq, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", dlq, err)
	}
	if _, err := t.channel.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(maxDelivery),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

// Close closes the channel and connection. The transport does not redial
// afterwards.
func (t *RabbitTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shut = true
	var errs []error
	if t.channel != nil {
		errs = append(errs, t.channel.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}

// Ping reports whether a channel is open, redialing if it is not.
func (t *RabbitTransport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready()
}

// Send publishes body persistently and waits for the broker confirm.
func (t *RabbitTransport) Send(ctx context.Context, queue string, body []byte) error {
	return t.publish(ctx, queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (t *RabbitTransport) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	if err := t.channel.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	timer := time.NewTimer(rabbitConfirmTimeout)
	defer timer.Stop()
	select {
	case confirmed, ok := <-t.confirms:
		if !ok {
			return fmt.Errorf("publish to %s: confirm channel closed", queue)
		}
		if !confirmed.Ack {
			return fmt.Errorf("publish to %s: broker nacked message", queue)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("publish to %s: confirm timed out", queue)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive pulls up to max messages with basic.get, polling until one
// arrives, wait elapses, or ctx is done.
func (t *RabbitTransport) Receive(ctx context.Context, queue string, max int, wait time.Duration) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)
	for {
		msgs, err := t.getBatch(queue, max)
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		delay := rabbitPollInterval
		if remaining < delay {
			delay = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *RabbitTransport) getBatch(queue string, max int) ([]*Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	var msgs []*Message
	for len(msgs) < max {
		delivery, ok, err := t.channel.Get(queue, false)
		if err != nil {
			return msgs, fmt.Errorf("receive from %s: %w", queue, err)
		}
		if !ok {
			break
		}
		id := delivery.MessageId
		if id == "" {
			id = uuid.NewString()
		}
		token := strconv.FormatUint(delivery.DeliveryTag, 10)
		t.pending[token] = delivery.DeliveryTag
		msgs = append(msgs, &Message{
			ID:            id,
			Queue:         queue,
			Body:          delivery.Body,
			DeliveryCount: deliveryCount(delivery),
			EnqueuedAt:    delivery.Timestamp,
			LockToken:     token,
		})
	}
	return msgs, nil
}

func deliveryCount(delivery amqp.Delivery) int {
	// quorum queues count prior deliveries in x-delivery-count
	switch v := delivery.Headers[headerDeliveryCount].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if delivery.Redelivered {
		return 2
	}
	return 1
}

func (t *RabbitTransport) take(msg *Message) (uint64, error) {
	if msg == nil {
		return 0, ErrLockLost
	}
	tag, ok := t.pending[msg.LockToken]
	if !ok {
		return 0, fmt.Errorf("message %s: %w", msg.ID, ErrLockLost)
	}
	delete(t.pending, msg.LockToken)
	return tag, nil
}

// Complete acks the delivery.
func (t *RabbitTransport) Complete(_ context.Context, msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag, err := t.take(msg)
	if err != nil {
		return err
	}
	if err := t.channel.Ack(tag, false); err != nil {
		return fmt.Errorf("ack message %s: %w", msg.ID, err)
	}
	return nil
}

// Abandon nacks the delivery with requeue.
func (t *RabbitTransport) Abandon(_ context.Context, msg *Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag, err := t.take(msg)
	if err != nil {
		return err
	}
	if err := t.channel.Nack(tag, false, true); err != nil {
		return fmt.Errorf("nack message %s: %w", msg.ID, err)
	}
	return nil
}

// DeadLetter copies the message onto the queue's ".dlq" with the reason in
// headers, then acks the original.
func (t *RabbitTransport) DeadLetter(ctx context.Context, msg *Message, reason, description string) error {
	if msg == nil {
		return ErrLockLost
	}
	if err := t.publish(ctx, msg.Queue+deadLetterSuffix, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			headerDeadReason:    reason,
			headerDeadDesc:      description,
			headerDeliveryCount: int64(msg.DeliveryCount),
		},
		Body: msg.Body,
	}); err != nil {
		return err
	}
	return t.Complete(ctx, msg)
}

// RenewLock is a no-op: RabbitMQ holds unacked deliveries until the channel
// closes or the broker consumer timeout fires.
func (t *RabbitTransport) RenewLock(_ context.Context, msg *Message, duration time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if msg == nil {
		return ErrLockLost
	}
	if _, ok := t.pending[msg.LockToken]; !ok {
		return fmt.Errorf("message %s: %w", msg.ID, ErrLockLost)
	}
	msg.LockedUntil = time.Now().Add(duration)
	return nil
}

// Stats reports ready message and consumer counts per queue.
func (t *RabbitTransport) Stats(context.Context) ([]Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return nil, fmt.Errorf("inspect queues: %w", err)
	}
	out := make([]Stats, 0, len(Names()))
	for _, name := range Names() {
		q, err := t.channel.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("inspect queue %s: %w", name, err)
		}
		dlq, err := t.channel.QueueDeclarePassive(name+deadLetterSuffix, true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("inspect queue %s: %w", name+deadLetterSuffix, err)
		}
		out = append(out, Stats{Queue: name, Active: q.Messages, Consumers: q.Consumers, Dead: dlq.Messages})
	}
	return out, nil
}
