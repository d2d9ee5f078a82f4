package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/proxyfetch/internal/model"
	"github.com/sells-group/proxyfetch/internal/resilience"
)

// Publish outcomes reported to an Observer.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

// Observer receives one outcome per submitted message.
type Observer interface {
	ObservePublish(outcome string)
}

// PoolConfig sizes the publish pool.
type PoolConfig struct {
	Workers        int
	QueueSize      int
	PublishRetries int
	RetryBackoff   time.Duration
	PublishTimeout time.Duration

	// Observer is optional.
	Observer Observer
}

// DefaultPoolConfig returns the pool sizing used when no config is given.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        4,
		QueueSize:      256,
		PublishRetries: 3,
		RetryBackoff:   500 * time.Millisecond,
		PublishTimeout: 10 * time.Second,
	}
}

// PoolStats counts pool outcomes since construction.
type PoolStats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

// Pool publishes messages on a bounded set of workers fed by a bounded queue.
// Submit never blocks; a full queue drops the message.
type Pool struct {
	broker Broker
	cfg    PoolConfig
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
	queue  chan *model.Message
	done   chan struct{}

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func (p *Pool) count(outcome string) {
	switch outcome {
	case OutcomePublished:
		p.published.Add(1)
	case OutcomeFailed:
		p.failed.Add(1)
	case OutcomeDropped:
		p.dropped.Add(1)
	}
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObservePublish(outcome)
	}
}

// NewPool starts a pool that publishes through broker until Close is called.
// ctx bounds every publish; cancelling it fails queued messages fast.
func NewPool(ctx context.Context, broker Broker, cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PublishRetries < 1 {
		cfg.PublishRetries = def.PublishRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}

	p := &Pool{
		broker: broker,
		cfg:    cfg,
		ctx:    ctx,
		queue:  make(chan *model.Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Submit enqueues msg. It reports false when the message was dropped because
// the queue is full or the pool is closed.
func (p *Pool) Submit(msg *model.Message) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.count(OutcomeDropped)
		zap.L().Warn("publish: pool closed, dropping message", zap.String("source_id", msg.Source.ID))
		return false
	}

	select {
	case p.queue <- msg:
		return true
	default:
		p.count(OutcomeDropped)
		zap.L().Error("publish: queue full, dropping message",
			zap.String("source_id", msg.Source.ID),
			zap.Int("queue_size", p.cfg.QueueSize),
		)
		return false
	}
}

// Close stops accepting messages and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}

// Stats returns the outcome counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

func (p *Pool) run() {
	defer close(p.done)

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.Workers)
	for msg := range p.queue {
		g.Go(func() error {
			p.publishOne(msg)
			return nil // one failed publish never stops the pool
		})
	}
	_ = g.Wait()
}

func (p *Pool) publishOne(msg *model.Message) {
	log := zap.L().With(zap.String("source_id", msg.Source.ID), zap.String("message_id", msg.ID))

	defer func() {
		if r := recover(); r != nil {
			p.count(OutcomeFailed)
			log.Error("publish: broker panicked", zap.Any("panic", r))
		}
	}()

	retry := resilience.RetryConfig{
		MaxAttempts:    p.cfg.PublishRetries,
		InitialBackoff: p.cfg.RetryBackoff,
		MaxBackoff:     30 * p.cfg.RetryBackoff,
		Multiplier:     2.0,
		JitterFraction: 0.25,
		OnRetry:        resilience.RetryLogger("publish", "broker"),
	}

	err := resilience.Do(p.ctx, retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
		return p.broker.Publish(ctx, msg)
	})
	if err != nil {
		p.count(OutcomeFailed)
		log.Error("publish: message failed",
			zap.String("error_type", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		return
	}

	p.count(OutcomePublished)
	log.Debug("publish: message sent")
}
