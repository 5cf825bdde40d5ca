package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrConnectionClosed = errors.New("rabbitmq connection is closed")

func connectToRabbitMQ(url string) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < MaxConnectRetry; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			slog.Info("connected to rabbitmq")
			return conn, nil
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", i+1, "max_attempts", MaxConnectRetry, "error", err)
		time.Sleep(RetryDelay)
	}
	slog.Error("failed to connect to rabbitmq", "attempts", MaxConnectRetry, "error", err)
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", MaxConnectRetry, err)
}

// openQueue connects, opens a channel and declares the durable automl queue.
// prefetch limits unacknowledged deliveries on the channel; 0 leaves it unset.
func openQueue(url string, prefetch int) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := connectToRabbitMQ(url)
	if err != nil {
		return nil, nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	if prefetch > 0 {
		if err := channel.Qos(prefetch, 0, false); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to set channel qos: %w", err)
		}
	}

	if _, err := channel.QueueDeclare(AutoMLQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare rabbitmq queue %s: %w", AutoMLQueue, err)
	}

	return conn, channel, nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)

type RabbitMQPublisher struct {
	url string

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewRabbitMQPublisher(rabbitMQURL string) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{url: rabbitMQURL}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called without holding mu.
func (p *RabbitMQPublisher) connect() error {
	conn, channel, err := openQueue(p.url, 0)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.conn, p.channel = conn, channel
	p.mu.Unlock()

	slog.Info("rabbitmq publisher ready", "queue", AutoMLQueue)

	go p.watch(channel)

	return nil
}

// watch reconnects once channel is closed by the broker or the network.
func (p *RabbitMQPublisher) watch(channel *amqp.Channel) {
	err, ok := <-channel.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		return
	}

	slog.Warn("rabbitmq publisher channel closed, reconnecting", "error", err)

	p.mu.Lock()
	p.conn, p.channel = nil, nil
	p.mu.Unlock()

	for {
		p.mu.RLock()
		closed := p.closed
		p.mu.RUnlock()
		if closed {
			return
		}

		if err := p.connect(); err == nil {
			slog.Info("rabbitmq publisher reconnected")
			return
		}
		time.Sleep(RetryDelay * 10)
	}
}

func (p *RabbitMQPublisher) PublishRunSessionTask(ctx context.Context, payload RunSessionPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", AutoMLQueue, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil || p.channel.IsClosed() {
		return ErrConnectionClosed
	}

	err = p.channel.PublishWithContext(ctx, "", AutoMLQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    payload.TrainingRunId.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		slog.Error("failed to publish task", "queue", AutoMLQueue, "session_id", payload.SessionId, "error", err)
		return fmt.Errorf("failed to publish %s: %w", AutoMLQueue, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	}
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack does not requeue: a failed run is recorded on the session and never
// retried.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

type RabbitMQReceiver struct {
	url   string
	tasks chan Task

	stop      chan struct{}
	closeOnce sync.Once
	tasksOnce sync.Once
}

var _ Reciever = (*RabbitMQReceiver)(nil)

func NewRabbitMQReceiver(rabbitMQURL string) (*RabbitMQReceiver, error) {
	c := &RabbitMQReceiver{
		url:   rabbitMQURL,
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}

	if err := c.receiveTasks(); err != nil {
		return nil, err
	}
	return c, nil
}

// consume forwards deliveries until msgs is closed. Once the receiver is
// stopped, the tasks channel is closed too so consumers can drain and exit.
func (c *RabbitMQReceiver) consume(msgs <-chan amqp.Delivery, consumed chan<- struct{}) {
	defer close(consumed)

	for d := range msgs {
		c.tasks <- &RabbitMQTask{d: d}
	}

	select {
	case <-c.stop:
		c.tasksOnce.Do(func() { close(c.tasks) })
	default:
	}
}

func (c *RabbitMQReceiver) receiveTasks() error {
	// AutoML runs saturate the engine, so each worker takes one at a time.
	conn, channel, err := openQueue(c.url, 1)
	if err != nil {
		return err
	}

	msgs, err := channel.Consume(AutoMLQueue, "", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", AutoMLQueue, err)
	}

	consumed := make(chan struct{})
	go c.consume(msgs, consumed)
	go c.watch(conn, channel, consumed)

	return nil
}

func (c *RabbitMQReceiver) watch(conn *amqp.Connection, channel *amqp.Channel, consumed <-chan struct{}) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case err, ok := <-notifyClose:
		if !ok {
			return
		}

		slog.Warn("rabbitmq consumer channel closed, reconnecting", "error", err)

		for {
			select {
			case <-c.stop:
				<-consumed
				c.tasksOnce.Do(func() { close(c.tasks) })
				return
			default:
			}

			if c.receiveTasks() == nil {
				slog.Info("rabbitmq consumer reconnected")
				return
			}
			time.Sleep(RetryDelay * 10)
		}
	case <-c.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq conn", "error", err)
		}
	}
}

func (c *RabbitMQReceiver) Tasks() <-chan Task {
	return c.tasks
}

func (c *RabbitMQReceiver) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}
