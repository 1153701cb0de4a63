package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of *amqp091.Channel the registry uses.
type Publisher interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPRegistry publishes jobs to a durable queue.
type AMQPRegistry struct {
	ch      Publisher
	queue   string
	closers []io.Closer
}

func NewAMQPRegistry(ch Publisher, queue string) *AMQPRegistry {
	return &AMQPRegistry{ch: ch, queue: queue}
}

// DialAMQP connects to the broker at url and opens a channel.
func DialAMQP(url, queue string) (*AMQPRegistry, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	r := NewAMQPRegistry(ch, queue)
	r.closers = []io.Closer{ch, conn}
	return r, nil
}

func (r *AMQPRegistry) Submit(ctx context.Context, spec Spec) (string, error) {
	job := newJob(spec)
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if _, err := r.ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	msg := amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		MessageId:    job.ID,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if err := r.ch.PublishWithContext(ctx, "", r.queue, false, false, msg); err != nil {
		return "", fmt.Errorf("publish job: %w", err)
	}
	log.Ctx(ctx).Debug().Str("job_id", job.ID).Str("queue", r.queue).Int("size", len(body)).Msg("job published")
	return job.ID, nil
}

func (r *AMQPRegistry) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
