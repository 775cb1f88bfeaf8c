package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/streadway/amqp"
)

type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dialFunc opens a channel with the queue declared; the closer releases the connection
type dialFunc func(url, queue string) (publisher, io.Closer, error)

// AMQPSink publishes JSON summaries to a durable queue. The connection is
// opened lazily and reopened after a failed publish.
type AMQPSink struct {
	url   string
	queue string
	dial  dialFunc

	mu     sync.Mutex
	pub    publisher
	closer io.Closer
}

// NewAMQP creates an AMQP sink
func NewAMQP(url, queue string) *AMQPSink {
	return &AMQPSink{url: url, queue: queue, dial: dialAMQP}
}

func dialAMQP(url, queue string) (publisher, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	return ch, conn, nil
}

// Name implements Sink
func (a *AMQPSink) Name() string {
	return "amqp"
}

// Notify implements Sink
func (a *AMQPSink) Notify(ctx context.Context, s Summary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pub == nil {
		pub, closer, err := a.dial(a.url, a.queue)
		if err != nil {
			return err
		}
		a.pub, a.closer = pub, closer
	}

	err = a.pub.Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.CampaignID,
		Timestamp:    s.FinishedAt,
		Body:         body,
	})
	if err != nil {
		a.reset()
		return fmt.Errorf("failed to publish summary: %w", err)
	}
	return nil
}

func (a *AMQPSink) reset() {
	if a.closer != nil {
		a.closer.Close()
	}
	a.pub, a.closer = nil, nil
}

// Close closes the broker connection
func (a *AMQPSink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
	return nil
}
