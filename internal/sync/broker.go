package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/medrec/patient-registry/internal/domain/patient"
)

// Broker wraps a RabbitMQ connection and channel with publisher confirms
// enabled. The same connection serves both the relay (publish) and the
// consumer (deliver) sides.
type Broker struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	logger     zerolog.Logger
	connClosed chan *amqp.Error
	chanClosed chan *amqp.Error
	closeOnce  stdsync.Once
	healthy    atomic.Bool
	cancel     context.CancelFunc
}

// NewBroker dials the broker, declares the durable sync queue and enables
// publisher confirms.
func NewBroker(url, queue string, logger zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		conn:       conn,
		channel:    ch,
		queue:      queue,
		logger:     logger,
		connClosed: make(chan *amqp.Error, 1),
		chanClosed: make(chan *amqp.Error, 1),
		cancel:     cancel,
	}
	b.healthy.Store(true)

	b.conn.NotifyClose(b.connClosed)
	b.channel.NotifyClose(b.chanClosed)
	go func() {
		select {
		case err := <-b.connClosed:
			b.healthy.Store(false)
			logger.Warn().Err(err).Msg("broker connection closed")
		case err := <-b.chanClosed:
			b.healthy.Store(false)
			logger.Warn().Err(err).Msg("broker channel closed")
		case <-ctx.Done():
		}
	}()

	logger.Info().Str("queue", queue).Msg("connected to broker")
	return b, nil
}

// Publish sends an outbox entry to the sync queue and blocks until the
// broker confirms persistence.
func (b *Broker) Publish(ctx context.Context, entry OutboxEntry) error {
	if !b.healthy.Load() {
		return fmt.Errorf("broker connection is closed")
	}

	body, err := entry.Event()
	if err != nil {
		return fmt.Errorf("render change event %d: %w", entry.ID, err)
	}

	deferred, err := b.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"", // default exchange routes by queue name
		b.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%d", entry.ID),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deferred.Done():
		if !deferred.Acked() {
			return fmt.Errorf("broker nack: message not persisted")
		}
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("publisher confirm timeout")
	}
}

// Consume delivers queued change events to the synchronizer until the
// context is cancelled. Malformed messages are dropped; index failures are
// already absorbed by the synchronizer, so every well-formed delivery acks.
func (b *Broker) Consume(ctx context.Context, syncer *Synchronizer) error {
	// Prefetch 1 keeps deliveries strictly ordered per queue.
	if err := b.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := b.channel.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	b.logger.Info().Str("queue", b.queue).Msg("consumer online, waiting for change events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var ev patient.ChangeEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil {
				b.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("dropping malformed change event")
				d.Nack(false, false)
				continue
			}

			res := syncer.Process(ctx, ev)
			if res.Failed > 0 {
				b.logger.Warn().
					Str("record_id", ev.RecordID).
					Str("kind", string(ev.Kind)).
					Msg("index write failed, event will be retried")
				// Throttle the retry without holding up shutdown.
				select {
				case <-ctx.Done():
					d.Nack(false, true)
					return ctx.Err()
				case <-time.After(5 * time.Second):
				}
				d.Nack(false, true)
				continue
			}

			if err := d.Ack(false); err != nil {
				b.logger.Error().Err(err).Str("record_id", ev.RecordID).Msg("failed to ack delivery")
			}
		}
	}
}

// Close shuts down the channel and connection.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		b.logger.Info().Msg("closing broker connection")
		b.cancel()
		b.channel.Close()
		b.conn.Close()
	})
}
