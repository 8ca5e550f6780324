package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"casino-ewallet/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisAddr(t *testing.T) {
	cfg := config.RedisConfig{
		Host: "redis.example.com",
		Port: 6380,
	}

	assert.Equal(t, "redis.example.com:6380", cfg.Addr())
}

func TestNewClient_ConnectsAndReportsHealthy(t *testing.T) {
	s := miniredis.RunT(t)
	host, portStr, ok := strings.Cut(s.Addr(), ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	hc := NewHealthCheck(client)
	assert.NoError(t, hc.Ping(context.Background()))
	assert.Equal(t, "redis", hc.Name())
}

func TestNewClient_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(s.Addr(), ":")
	port, _ := strconv.Atoi(portStr)
	s.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Host: host, Port: port}, zerolog.Nop())
	assert.Error(t, err)
}
