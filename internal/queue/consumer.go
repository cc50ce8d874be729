package queue

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const prefetch = 50

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	q      string
	logger *zap.Logger
}

// NewConsumer makes sure the exchange and queue exist and are bound by key.
func NewConsumer(url, exchange, queue, key string, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbit")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	fail := func(err error, what string) (*Consumer, error) {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, what)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fail(err, "declare exchange")
	}
	qd, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fail(err, "declare queue")
	}
	if err := ch.QueueBind(qd.Name, key, exchange, false, nil); err != nil {
		return fail(err, "bind queue")
	}

	return &Consumer{conn: conn, ch: ch, q: qd.Name, logger: logger}, nil
}

func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Consume runs workers goroutines until ctx is cancelled or the delivery
// channel closes. Losing the broker connection is reported as an error.
func (c *Consumer) Consume(ctx context.Context, workers int, handle func(Envelope) error) error {
	if c == nil || c.ch == nil {
		return errors.New("consumer is not initialized")
	}
	if workers <= 0 {
		workers = 1
	}

	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return errors.Wrap(err, "qos")
	}
	msgs, err := c.ch.Consume(c.q, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-msgs:
					if !ok {
						return
					}
					c.dispatch(d, handle)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("delivery channel closed")
}

type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Consumer) dispatch(d amqp.Delivery, handle func(Envelope) error) {
	settle(c.logger, &d, d.Redelivered, handle(envelopeOf(d)))
}

// settle acks on success. A failed first delivery is requeued once; a failed
// redelivery is dropped.
func settle(logger *zap.Logger, a acker, redelivered bool, err error) {
	if err == nil {
		_ = a.Ack(false)
		return
	}
	logger.Warn("event handling failed", zap.Bool("redelivered", redelivered), zap.Error(err))
	_ = a.Nack(false, !redelivered)
}

func envelopeOf(d amqp.Delivery) Envelope {
	env := Envelope{Key: d.RoutingKey, MessageID: d.MessageId, Body: d.Body}
	if v, ok := d.Headers["X-Request-ID"].(string); ok {
		env.RequestID = v
	}
	return env
}
