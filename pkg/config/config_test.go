package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "bitfinex", c.Exchange.Name)
	assert.True(t, c.Exchange.TickerStream)
	assert.Equal(t, "wss://api-pub.bitfinex.com/ws/2", c.Exchange.WebSocketURL)
	assert.Equal(t, 5000, c.Grid.MaxLevels)
	assert.Equal(t, "config.json", c.Grid.ConfigPath)
	assert.Equal(t, "immediate", c.Supervisor.RetryPolicy)
	assert.False(t, c.Supervisor.FlatDirection)
	assert.Equal(t, "none", c.Backend.Type)
	assert.Equal(t, 15*time.Second, c.Exchange.PingInterval)
	assert.NoError(t, c.Validate())
}

func TestLoad(t *testing.T) {
	c, err := Load("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, 100, c.Grid.MaxLevels)
	assert.Equal(t, "stub", c.Exchange.Name)
	assert.False(t, c.Exchange.TickerStream, "explicit false must survive defaults")
	assert.Equal(t, 5*time.Second, c.Exchange.PingInterval)
	assert.Equal(t, 10*time.Second, c.Exchange.HandshakeTimeout, "unset field keeps its default")
	assert.Equal(t, "exponential", c.Supervisor.RetryPolicy)
	assert.Equal(t, 250*time.Millisecond, c.Supervisor.BackoffInitial)
	assert.True(t, c.Supervisor.FlatDirection)
	assert.False(t, c.Server.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "observations", c.Kafka.Topic)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)

	_, err = Load("testdata/invalid.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("grid: [oops"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestValidate_CrossField(t *testing.T) {
	c := Default()
	c.Backend.Type = "kafka"
	c.Kafka.Brokers = nil
	assert.ErrorIs(t, c.Validate(), ErrInvalid)

	c = Default()
	c.Kafka.Consumer.Enabled = true
	assert.ErrorIs(t, c.Validate(), ErrInvalid)
	c.ClickHouse.Enabled = true
	assert.NoError(t, c.Validate())
	assert.True(t, c.UsesClickHouse())
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("EXCHANGE_NAME", "bitfinex")
	t.Setenv("BACKEND", "none")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("GRID_CONFIG_PATH", "/etc/grid.json")
	t.Setenv("REDIS_ADDR", "cache:6380")

	c, err := LoadWithEnv("testdata/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "bitfinex", c.Exchange.Name)
	assert.Equal(t, "none", c.Backend.Type)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, "/etc/grid.json", c.Grid.ConfigPath)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "cache:6380", c.RedisAddr())

	t.Setenv("REDIS_ADDR", "no-port")
	_, err = LoadWithEnv("testdata/config.yaml")
	assert.Error(t, err)
}
