package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/platform/config"
)

func TestNewWithoutURLIsDisabled(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestOptionsOverrideURLDefaults(t *testing.T) {
	opts, err := options(config.RedisConfig{
		URL:         "redis://localhost:6379/2",
		PoolSize:    7,
		DialTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)
}

func TestOptionsRejectsBadURL(t *testing.T) {
	_, err := options(config.RedisConfig{URL: "http://nope"})
	assert.Error(t, err)
}
