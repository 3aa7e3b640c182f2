package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rpattn/fleetload/internal/domain"
	"github.com/rpattn/fleetload/internal/metrics"
)

const (
	defaultChannelPrefix = "fleetload:progress:"
	defaultQueueSize     = 256
	publishTimeout       = 2 * time.Second
)

type envelope struct {
	Origin string               `json:"origin"`
	Event  domain.ProgressEvent `json:"event"`
}

// RedisRelay shares progress between instances. Events published locally reach the
// local hub immediately and are forwarded to redis from a bounded queue; events
// from other instances are replayed into the local hub.
type RedisRelay struct {
	client redis.UniversalClient
	hub    *Hub
	prefix string
	origin string
	queue  chan envelope
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type RelayOption func(*RedisRelay)

func WithChannelPrefix(prefix string) RelayOption {
	return func(r *RedisRelay) {
		if strings.TrimSpace(prefix) != "" {
			r.prefix = prefix
		}
	}
}

func WithQueueSize(size int) RelayOption {
	return func(r *RedisRelay) {
		if size > 0 {
			r.queue = make(chan envelope, size)
		}
	}
}

func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(r *RedisRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRedisRelay(client redis.UniversalClient, hub *Hub, opts ...RelayOption) *RedisRelay {
	relay := &RedisRelay{
		client: client,
		hub:    hub,
		prefix: defaultChannelPrefix,
		origin: uuid.NewString(),
		queue:  make(chan envelope, defaultQueueSize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(relay)
	}
	return relay
}

// Publish never blocks; when the outbound queue is full the remote copy is dropped.
func (r *RedisRelay) Publish(event domain.ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	r.hub.Publish(event)
	select {
	case r.queue <- envelope{Origin: r.origin, Event: event}:
	default:
		metrics.RecordProgressDrop("relay_queue_full")
	}
}

// Start runs the outbound publisher and the inbound pattern subscription until Stop.
func (r *RedisRelay) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.forward(ctx)
	}()
	go func() {
		defer r.wg.Done()
		defer pubsub.Close()
		r.receive(ctx, pubsub.Channel())
	}()
}

// Stop ends both loops and waits for them to exit.
func (r *RedisRelay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *RedisRelay) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.queue:
			payload, err := json.Marshal(env)
			if err != nil {
				r.logger.Warn("failed to encode progress event", zap.Error(err))
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err = r.client.Publish(pubCtx, r.channel(env.Event.BatchID), payload).Err()
			cancel()
			if err != nil {
				metrics.RecordProgressDrop("relay_publish_failed")
				r.logger.Debug("failed to relay progress event", zap.String("batch_id", env.Event.BatchID.String()), zap.Error(err))
			}
		}
	}
}

func (r *RedisRelay) receive(ctx context.Context, messages <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			env, err := decodeEnvelope(msg.Payload)
			if err != nil {
				r.logger.Warn("discarding malformed progress message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.Publish(env.Event)
		}
	}
}

func (r *RedisRelay) channel(batchID uuid.UUID) string {
	return r.prefix + batchID.String()
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("decode progress envelope: %w", err)
	}
	if env.Event.BatchID == uuid.Nil {
		return envelope{}, fmt.Errorf("progress envelope has no batch id")
	}
	return env, nil
}
