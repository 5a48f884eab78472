package events

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/escrow_service/internal/app/system"
	"github.com/R3E-Network/escrow_service/pkg/logger"
)

// RedisOptions configures the event fanout publisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisPublisher forwards escrow events to a Redis pub/sub channel so
// external consumers can follow records without polling the API. Publishing
// is best effort: a slow or absent broker never delays an operation.
type RedisPublisher struct {
	ring    *RingBuffer
	client  *redis.Client
	channel string
	log     *logger.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	running     bool

	queue   chan Event
	dropped atomic.Uint64
}

var _ system.Service = (*RedisPublisher)(nil)

// NewRedisPublisher wires a publisher to the ring buffer. The connection is
// established on Start.
func NewRedisPublisher(ring *RingBuffer, opts RedisOptions, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.NewDefault("events-redis")
	}
	channel := opts.Channel
	if channel == "" {
		channel = "escrow.events"
	}
	return &RedisPublisher{
		ring: ring,
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		channel: channel,
		log:     log,
		queue:   make(chan Event, 256),
	}
}

func (p *RedisPublisher) Name() string { return "events-redis" }

// Start verifies the broker connection, subscribes to the ring buffer, and
// begins draining the publish queue.
func (p *RedisPublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(pingCtx).Err(); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	p.cancel = runCancel
	p.running = true

	p.unsubscribe = p.ring.Subscribe(p.enqueue)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case ev := <-p.queue:
				p.publish(runCtx, ev)
			}
		}
	}()

	p.log.WithField("channel", p.channel).Info("redis event publisher started")
	return nil
}

// Stop detaches from the ring buffer and closes the client.
func (p *RedisPublisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	unsubscribe := p.unsubscribe
	p.running = false
	p.cancel = nil
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if n := p.dropped.Load(); n > 0 {
		p.log.Warnf("dropped %d events while the publish queue was full", n)
	}
	return p.client.Close()
}

// enqueue runs on the caller's goroutine whenever the ring buffer logs an
// event; it must never block an escrow operation on the broker.
func (p *RedisPublisher) enqueue(ev Event) {
	select {
	case p.queue <- ev:
	default:
		p.dropped.Add(1)
	}
}

func (p *RedisPublisher) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Warn("marshal event for redis")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Publish(pubCtx, p.channel, payload).Err(); err != nil {
		p.log.WithError(err).WithField("event_id", ev.ID).Debug("redis publish failed")
	}
}
