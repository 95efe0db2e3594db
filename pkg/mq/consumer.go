package mq

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/swecc-uw/swecc-sockets/pkg/log"
)

// MessageHandler receives the raw body of a delivery.
type MessageHandler func(ctx context.Context, body []byte)

// ConsumerSpec describes a queue subscription. The queue is declared
// durable; when DeclareExchange is set the exchange is declared too (topic
// unless ExchangeType says otherwise) and the queue is bound with RoutingKey.
type ConsumerSpec struct {
	Queue           string
	Exchange        string
	RoutingKey      string
	ExchangeType    string
	DeclareExchange bool
	Handler         MessageHandler
}

type consumer struct {
	spec   ConsumerSpec
	logger *log.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// RegisterConsumer adds a subscription. Call before Start.
func (b *Bridge) RegisterConsumer(spec ConsumerSpec) {
	if spec.ExchangeType == "" {
		spec.ExchangeType = "topic"
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers = append(b.consumers, &consumer{spec: spec, logger: b.logger})
}

func (c *consumer) channel() *amqp.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *consumer) reset() {
	c.mu.Lock()
	c.ch = nil
	c.mu.Unlock()
}

// setup opens a channel, declares the topology and starts the delivery
// loop. Deliveries are auto-acked and handled one at a time per the
// prefetch window, each on its own goroutine.
func (c *consumer) setup(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if c.spec.DeclareExchange {
		if err := ch.ExchangeDeclare(c.spec.Exchange, c.spec.ExchangeType, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
	}
	if _, err := ch.QueueDeclare(c.spec.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	if c.spec.Exchange != "" {
		if err := ch.QueueBind(c.spec.Queue, c.spec.RoutingKey, c.spec.Exchange, false, nil); err != nil {
			_ = ch.Close()
			return err
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(c.spec.Queue, "", true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	go c.consume(ctx, ch, deliveries)

	c.logger.Infof("consuming queue %s", c.spec.Queue)
	return nil
}

func (c *consumer) consume(ctx context.Context, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		go c.spec.Handler(ctx, d.Body)
	}
	// the broker closed the channel; the monitor will re-establish it.
	// Only clear our own channel: a stale loop draining after a reconnect
	// must not wipe the replacement the monitor already installed.
	c.clearIf(ch)
	c.logger.Warnf("delivery stream for queue %s closed", c.spec.Queue)
}

func (c *consumer) clearIf(ch *amqp.Channel) {
	c.mu.Lock()
	if c.ch == ch {
		c.ch = nil
	}
	c.mu.Unlock()
}

// Decoded adapts a typed handler to a MessageHandler. Bodies that fail to
// decode are dropped with a log line.
func Decoded[T any](fn func(ctx context.Context, msg T)) MessageHandler {
	logger := log.ForService("mq")
	return func(ctx context.Context, body []byte) {
		var msg T
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Errorf("dropping undecodable message: %v", err)
			return
		}
		fn(ctx, msg)
	}
}
