package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDispatcher publishes persistent messages to a durable queue on the
// default exchange.
type AMQPDispatcher struct {
	conn  *amqp.Connection
	queue string

	mu      sync.Mutex
	channel *amqp.Channel
}

func NewAMQPDispatcher(url, queue string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPDispatcher{conn: conn, queue: queue, channel: ch}, nil
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channel.PublishWithContext(ctx,
		"",
		d.queue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(msg.MessageKind()),
			MessageId:    msg.MessageID(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
}

func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		d.channel.Close()
	}
	return d.conn.Close()
}

// Handler processes one decoded message. A returned error requeues the
// delivery once; a second failure drops it.
type Handler func(ctx context.Context, msg Message) error

// Consume reads the queue until ctx is done, running up to workers handlers
// at a time.
func Consume(ctx context.Context, url, queue string, workers int, handle Handler) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	slog.Info("consuming dispatch queue", "queue", queue, "workers", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					processDelivery(ctx, d, handle, id)
				}
			}
		}(i)
	}
	wg.Wait()
	return nil
}

func processDelivery(ctx context.Context, d amqp.Delivery, handle Handler, workerID int) {
	msg, err := Decode(d.Body)
	if err != nil {
		slog.Warn("dropping undecodable dispatch message", "worker_id", workerID, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := handle(ctx, msg); err != nil {
		slog.Warn("dispatch message failed", "worker_id", workerID, "kind", msg.MessageKind(), "id", msg.MessageID(), "redelivered", d.Redelivered, "error", err)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}
