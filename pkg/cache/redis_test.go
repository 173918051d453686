package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/pkg/config"
)

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6380, Password: "pw", DB: 2})
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false, Host: "unreachable"})
	require.NoError(t, err)
	assert.Nil(t, client)
}
