package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/evolvai/evolv/core"
)

// RedisBus carries events over Redis lists for durable cross-process
// delivery. Publish pushes a JSON envelope with LPUSH; each subscriber
// runs a consumer loop that moves messages into a per-consumer processing
// list with BRPOPLPUSH and removes them with LREM once handled. A message
// whose handler fails is removed without requeue.
type RedisBus struct {
	client   *redis.Client
	logger   core.Logger
	mu       sync.Mutex
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	poll     time.Duration
	consumer string
}

// RedisBusConfig configures the Redis transport. Password should come
// from the environment, never from persisted configuration.
type RedisBusConfig struct {
	Addr     string
	Password string
	DB       int
	// PollTimeout bounds each BRPOPLPUSH wait so the consumer notices
	// shutdown promptly.
	PollTimeout time.Duration
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg RedisBusConfig, logger core.Logger) (*RedisBus, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &core.FrameworkError{Op: "redisbus.New", Kind: "messaging", Err: core.ErrConnectionFailed, Message: fmt.Sprintf("redis ping %s", cfg.Addr)}
	}
	logger.Info("Redis bus connected", map[string]interface{}{
		"operation": "redis_connect",
		"addr":      cfg.Addr,
		"db":        cfg.DB,
	})
	return &RedisBus{
		client:   client,
		logger:   logger,
		poll:     cfg.PollTimeout,
		consumer: fmt.Sprintf("consumer:%d", time.Now().UnixNano()),
	}, nil
}

func topicKey(topic string) string {
	return "evolv:topic:" + topic
}

func (b *RedisBus) processingKey(topic string) string {
	return "evolv:processing:" + topic + ":" + b.consumer
}

// Publish enqueues the event. The envelope survives process restarts
// until a consumer removes it.
func (b *RedisBus) Publish(ctx context.Context, topic string, evt EventEnvelope) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.LPush(ctx, topicKey(topic), payload).Err(); err != nil {
		return &core.FrameworkError{Op: "redisbus.Publish", Kind: "messaging", ID: topic, Err: core.ErrConnectionFailed, Message: err.Error()}
	}
	return nil
}

// Subscribe starts a consumer loop for the topic. The returned function
// stops the loop.
func (b *RedisBus) Subscribe(topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, &core.FrameworkError{Op: "redisbus.Subscribe", Kind: "messaging", Message: "bus closed"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancels = append(b.cancels, cancel)

	b.wg.Add(1)
	go b.consume(ctx, topic, handler)

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

func (b *RedisBus) consume(ctx context.Context, topic string, handler Handler) {
	defer b.wg.Done()
	src := topicKey(topic)
	proc := b.processingKey(topic)
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := b.client.BRPopLPush(ctx, src, proc, b.poll).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("Redis consume failed", map[string]interface{}{
				"operation": "redis_consume",
				"topic":     topic,
				"error":     err.Error(),
			})
			time.Sleep(b.poll)
			continue
		}

		var evt EventEnvelope
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			b.logger.Error("Dropping malformed event", map[string]interface{}{
				"operation": "redis_consume",
				"topic":     topic,
				"error":     err.Error(),
			})
			b.ack(topic, proc, payload)
			continue
		}

		if err := handler(ctx, evt); err != nil {
			b.logger.Warn("Event handler failed", map[string]interface{}{
				"operation": "redis_consume",
				"topic":     topic,
				"type":      string(evt.Type),
				"error":     err.Error(),
			})
		}
		// Handled or rejected, the message leaves the processing list.
		b.ack(topic, proc, payload)
	}
}

func (b *RedisBus) ack(topic, proc, payload string) {
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.LRem(ackCtx, proc, 1, payload).Err(); err != nil {
		b.logger.Warn("Event ack failed", map[string]interface{}{
			"operation": "redis_ack",
			"topic":     topic,
			"error":     err.Error(),
		})
	}
}

// Depth reports the number of undelivered events on a topic.
func (b *RedisBus) Depth(ctx context.Context, topic string) (int64, error) {
	return b.client.LLen(ctx, topicKey(topic)).Result()
}

// Close stops all consumers and releases the connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancels := b.cancels
	b.cancels = nil
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	b.wg.Wait()
	return b.client.Close()
}
