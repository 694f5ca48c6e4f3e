// Package events publishes job status changes to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bdougie/cutout/internal/models"
)

// JobEvent is the message body published when a job finishes.
type JobEvent struct {
	JobID       string           `json:"job_id"`
	Kind        models.JobKind   `json:"kind"`
	Status      models.JobStatus `json:"status"`
	Stage       models.Stage     `json:"stage"`
	SourceName  string           `json:"source_name"`
	ArchiveKey  string           `json:"archive_key,omitempty"`
	FrameCount  int              `json:"frame_count,omitempty"`
	Duration    float64          `json:"duration_seconds"`
	Error       string           `json:"error_message,omitempty"`
	PublishedAt time.Time        `json:"published_at"`
}

func NewJobEvent(job *models.Job, now time.Time) JobEvent {
	return JobEvent{
		JobID:       job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		Stage:       job.Stage,
		SourceName:  job.SourceName,
		ArchiveKey:  job.ArchiveKey,
		FrameCount:  job.FrameCount,
		Duration:    job.UpdatedAt.Sub(job.CreatedAt).Seconds(),
		Error:       job.Error,
		PublishedAt: now.UTC(),
	}
}

// RoutingKey is "job.<kind>.<status>", e.g. job.video.failed.
func RoutingKey(job *models.Job) string {
	return fmt.Sprintf("job.%s.%s", job.Kind, job.Status)
}

type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, job *models.Job) error {
	body, err := json.Marshal(NewJobEvent(job, time.Now()))
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(job),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			MessageId:    job.ID,
		},
	)
}

func (p *Publisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
