package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDriverConfigDefaults(t *testing.T) {
	t.Setenv("DRIVER_ID", "4")
	cfg, err := LoadDriverConfig()
	require.NoError(t, err)
	require.Equal(t, int64(4), cfg.DriverID)
	require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 5*time.Second, cfg.ReconnectDelay)
	require.Equal(t, 3*time.Second, cfg.LocationInterval)
	require.Equal(t, 20, cfg.DefaultOfferSeconds)
	require.False(t, cfg.StartOnline)
}

func TestLoadDriverConfigOverrides(t *testing.T) {
	t.Setenv("DRIVER_TOKEN", "tok")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("START_ONLINE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg, err := LoadDriverConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	require.True(t, cfg.StartOnline)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDriverConfigCollectsErrors(t *testing.T) {
	t.Setenv("DRIVER_ID", "abc")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")
	t.Setenv("DEFAULT_OFFER_SECONDS", "0")
	_, err := LoadDriverConfig()
	require.Error(t, err)
	require.ErrorContains(t, err, "DRIVER_ID")
	require.ErrorContains(t, err, "HEARTBEAT_INTERVAL")
	require.ErrorContains(t, err, "DEFAULT_OFFER_SECONDS")
}

func TestLoadDriverConfigRequiresIdentity(t *testing.T) {
	t.Setenv("DRIVER_ID", "")
	t.Setenv("DRIVER_TOKEN", "")
	_, err := LoadDriverConfig()
	require.ErrorContains(t, err, "DRIVER_ID or DRIVER_TOKEN")
}
