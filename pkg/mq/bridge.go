// Package mq bridges the gateway to RabbitMQ. A single shared connection
// carries every consumer and producer channel; a background monitor
// reconnects and re-establishes channels after broker outages.
package mq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/swecc-uw/swecc-sockets/pkg/log"
)

const (
	// DefaultExchange is the topic exchange the gateway publishes on.
	DefaultExchange = "swecc-socket-exchange"

	monitorInterval   = 30 * time.Second
	reconnectBackoff  = 20 * time.Second
	publishAttempts   = 3
	publishRetryDelay = time.Second
)

// Bridge owns the broker connection and the registered consumers and
// producers. Register everything before Start; a broker that is down at
// startup is not fatal, the monitor keeps retrying in the background.
type Bridge struct {
	url    string
	logger *log.Logger

	mu          sync.Mutex
	conn        *amqp.Connection
	consumers   []*consumer
	producers   map[string]*Producer
	lastAttempt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func NewBridge(url string) *Bridge {
	return &Bridge{
		url:       url,
		logger:    log.ForService("mq"),
		producers: make(map[string]*Producer),
		done:      make(chan struct{}),
	}
}

// Start connects to the broker and sets up every registered consumer and
// producer, then launches the health monitor. Connection failure is logged
// and left to the monitor; Start itself does not fail on broker outage.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if err := b.connectLocked(); err != nil {
		b.logger.Warnf("broker unavailable at startup: %v", err)
	} else {
		b.setupAllLocked(ctx)
	}
	b.mu.Unlock()

	go b.monitor(ctx)
}

// Close tears down the connection and stops the monitor.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			b.logger.Warnf("closing broker connection: %v", err)
		}
	}
	b.conn = nil
}

// connectLocked dials the broker. Callers hold b.mu.
func (b *Bridge) connectLocked() error {
	b.lastAttempt = time.Now()

	conn, err := amqp.Dial(b.url)
	if err != nil {
		return err
	}
	b.conn = conn
	b.logger.Infof("connected to broker")
	return nil
}

// setupAllLocked (re-)establishes channels for every consumer and producer
// that lacks one. Callers hold b.mu.
func (b *Bridge) setupAllLocked(ctx context.Context) {
	for _, c := range b.consumers {
		if c.channel() != nil {
			continue
		}
		if err := c.setup(ctx, b.conn); err != nil {
			b.logger.Errorf("setting up consumer for queue %s: %v", c.spec.Queue, err)
		}
	}
	for name, p := range b.producers {
		if p.channel() != nil {
			continue
		}
		if err := p.setup(b.conn); err != nil {
			b.logger.Errorf("setting up producer %s: %v", name, err)
		}
	}
}

func (b *Bridge) healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return false
	}
	for _, c := range b.consumers {
		if c.channel() == nil {
			return false
		}
	}
	for _, p := range b.producers {
		if p.channel() == nil {
			return false
		}
	}
	return true
}

// monitor wakes periodically, reconnects a dead connection (rate limited by
// the backoff window) and restores any channels the outage took down.
func (b *Bridge) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
		}

		if b.healthy() {
			continue
		}

		b.mu.Lock()
		if b.conn == nil || b.conn.IsClosed() {
			if time.Since(b.lastAttempt) < reconnectBackoff {
				b.mu.Unlock()
				continue
			}
			b.logger.Warnf("broker connection lost, reconnecting")
			if err := b.connectLocked(); err != nil {
				b.logger.Errorf("reconnect failed: %v", err)
				b.mu.Unlock()
				continue
			}
			// a fresh connection invalidates every channel
			for _, c := range b.consumers {
				c.reset()
			}
			for _, p := range b.producers {
				p.reset()
			}
		}
		b.setupAllLocked(ctx)
		b.mu.Unlock()
	}
}
