package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"warden/pkg/platform/sentinel"
)

const nonceKeyPrefix = "warden:nonce:"

// minKeyTTL keeps a consumed nonce around even when the token is within a
// clock tick of expiring.
const minKeyTTL = time.Second

// Redis shares the replay set across instances. SETNX decides the winner;
// a failed commit deletes the key again so the token is not burned.
type Redis struct {
	client  *redis.Client
	now     func() time.Time
	latency prometheus.Histogram
}

type RedisOption func(*Redis)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRedisMetrics registers the consume latency histogram with reg.
func WithRedisMetrics(reg prometheus.Registerer) RedisOption {
	return func(r *Redis) {
		r.latency = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_replay_consume_duration_ms",
			Help:    "Latency of nonce consume in the Redis replay set in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		})
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) Seen(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Exists(ctx, nonceKeyPrefix+nonce).Result()
	if err != nil {
		return false, fmt.Errorf("check nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (r *Redis) Consume(ctx context.Context, nonce string, expiresAt time.Time, commit CommitFunc) error {
	if nonce == "" {
		return fmt.Errorf("nonce is required: %w", sentinel.ErrInvalidState)
	}
	if r.latency != nil {
		start := time.Now()
		defer func() {
			r.latency.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
		}()
	}

	key := nonceKeyPrefix + nonce
	ttl := max(expiresAt.Sub(r.now()), minKeyTTL)
	won, err := r.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("consume nonce: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !won {
		return fmt.Errorf("nonce %s: %w", nonce, sentinel.ErrAlreadyUsed)
	}
	if commit == nil {
		return nil
	}
	if err := commit(ctx); err != nil {
		if delErr := r.client.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil {
			return fmt.Errorf("%w (releasing nonce: %v)", err, delErr)
		}
		return err
	}
	return nil
}
