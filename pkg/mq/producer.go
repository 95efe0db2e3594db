package mq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/swecc-uw/swecc-sockets/pkg/log"
)

// Producer publishes to one exchange over its own channel. Obtain one from
// RegisterProducer before Start; the bridge keeps its channel alive.
type Producer struct {
	name         string
	exchange     string
	exchangeType string
	defaultKey   string
	logger       *log.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// RegisterProducer adds a named producer publishing to exchange. The
// exchange is declared durable on setup; type defaults to topic. defaultKey
// is used when Publish is called with an empty routing key. Call before
// Start.
func (b *Bridge) RegisterProducer(name, exchange, exchangeType, defaultKey string) *Producer {
	if exchangeType == "" {
		exchangeType = "topic"
	}
	p := &Producer{
		name:         name,
		exchange:     exchange,
		exchangeType: exchangeType,
		defaultKey:   defaultKey,
		logger:       b.logger,
	}
	b.mu.Lock()
	b.producers[name] = p
	b.mu.Unlock()
	return p
}

func (p *Producer) channel() *amqp.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch
}

func (p *Producer) reset() {
	p.mu.Lock()
	p.ch = nil
	p.mu.Unlock()
}

func (p *Producer) setup(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, p.exchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}

	p.mu.Lock()
	p.ch = ch
	p.mu.Unlock()

	p.logger.Infof("producer %s ready on exchange %s", p.name, p.exchange)
	return nil
}

func (p *Producer) resolveKey(routingKey string) string {
	if routingKey == "" {
		return p.defaultKey
	}
	return routingKey
}

// encodeBody renders a publish body. Raw bytes and strings pass through
// untouched; anything else is JSON-encoded.
func encodeBody(payload any) ([]byte, string, error) {
	switch v := payload.(type) {
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		return []byte(v), "text/plain", nil
	default:
		body, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return body, "application/json", nil
	}
}

// Publish sends payload to the producer's exchange. An empty routingKey
// falls back to the producer's default; mandatory is passed through to the
// broker. A missing channel or a failed publish is retried a few times with
// a short delay; a publish error also drops the channel so the monitor
// rebuilds it. Reports whether the message was handed to the broker.
func (p *Producer) Publish(ctx context.Context, payload any, routingKey string, mandatory bool) bool {
	routingKey = p.resolveKey(routingKey)

	body, contentType, err := encodeBody(payload)
	if err != nil {
		p.logger.Errorf("encoding message for %s: %v", p.name, err)
		return false
	}

	for attempt := 1; attempt <= publishAttempts; attempt++ {
		ch := p.channel()
		if ch != nil {
			err := ch.PublishWithContext(ctx, p.exchange, routingKey, mandatory, false, amqp.Publishing{
				ContentType: contentType,
				Body:        body,
			})
			if err == nil {
				return true
			}
			p.logger.Warnf("publish attempt %d on %s failed: %v", attempt, p.name, err)
			p.reset()
		}

		if attempt == publishAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(publishRetryDelay):
		}
	}

	p.logger.Errorf("giving up publishing to %s after %d attempts", p.name, publishAttempts)
	return false
}
