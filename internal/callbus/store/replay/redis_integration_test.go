//go:build integration

package replay_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"warden/internal/callbus/store/replay"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil/containers"
)

type RedisReplaySuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *replay.Redis
}

func TestRedisReplaySuite(t *testing.T) {
	suite.Run(t, new(RedisReplaySuite))
}

func (s *RedisReplaySuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = replay.NewRedis(s.redis.Client, replay.WithRedisMetrics(prometheus.NewRegistry()))
}

func (s *RedisReplaySuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisReplaySuite) TestConsumeOnce() {
	ctx := context.Background()
	exp := time.Now().Add(30 * time.Second)

	s.Require().NoError(s.store.Consume(ctx, "n1", exp, nil))
	seen, err := s.store.Seen(ctx, "n1")
	s.Require().NoError(err)
	s.True(seen)
	s.ErrorIs(s.store.Consume(ctx, "n1", exp, nil), sentinel.ErrAlreadyUsed)

	ttl, err := s.redis.Client.TTL(ctx, "warden:nonce:n1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
	s.LessOrEqual(ttl, 30*time.Second)
}

func (s *RedisReplaySuite) TestFailedCommitReleasesNonce() {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.store.Consume(ctx, "n2", time.Now().Add(time.Minute), func(context.Context) error { return boom })
	s.ErrorIs(err, boom)

	seen, err := s.store.Seen(ctx, "n2")
	s.Require().NoError(err)
	s.False(seen)
}

func (s *RedisReplaySuite) TestConcurrentConsume() {
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.store.Consume(ctx, "shared", time.Now().Add(time.Minute), nil) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}
