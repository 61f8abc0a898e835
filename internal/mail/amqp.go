package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tessera.org/internal/obs"
)

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher writes mail requests as persistent JSON messages to a durable queue.
type Publisher struct {
	queue string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	declared bool
	now      func() time.Time
}

// NewPublisher dials the broker and opens a channel.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	p := newPublisher(ch, queue)
	p.conn = conn
	return p, nil
}

func newPublisher(ch amqpChannel, queue string) *Publisher {
	return &Publisher{queue: queue, ch: ch, now: time.Now}
}

// Send publishes m to the mail queue.
func (p *Publisher) Send(ctx context.Context, m Mail) error {
	if err := m.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal mail: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared {
		// Durable so messages survive broker restarts.
		if _, err := p.ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: queue declare: %w", err)
		}
		p.declared = true
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	if p.ch != nil {
		firstErr = p.ch.Close()
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogSender writes mail requests to the service log. Used when no broker is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, m Mail) error {
	if err := m.Validate(); err != nil {
		return err
	}
	obs.Logger().Info("mail_logged",
		"to", m.To,
		"template", m.Template,
		"parameters", m.Parameters,
	)
	return nil
}
