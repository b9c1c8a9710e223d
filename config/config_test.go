package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/MNS-Vic/marketprism-sub020/config"
)

func TestLoadDefaults(t *testing.T) {
	conf := config.Load()

	assert.Equal(t, ":50052", conf.HTTPListenAddr)
	assert.Equal(t, 1000, conf.UpdateBufferCapacity)
	assert.Equal(t, 25, conf.ChecksumDepth)
	assert.Equal(t, 5, conf.MaxConsecutiveErrors)
	assert.Equal(t, 10*time.Second, conf.SnapshotTimeout)
	assert.Equal(t, 30*time.Minute, conf.ResyncInterval)
	assert.Equal(t, []string{"binance", "okx", "kucoin"}, conf.SupportedProviders)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("UPDATE_BUFFER_CAPACITY", "50")
	t.Setenv("SNAPSHOT_TIMEOUT", "3s")
	t.Setenv("DEBUG_MODE", "true")
	t.Setenv("SUPPORTED_PROVIDERS", "binance, okx")

	conf := config.Load()

	assert.Equal(t, 50, conf.UpdateBufferCapacity)
	assert.Equal(t, 3*time.Second, conf.SnapshotTimeout)
	assert.True(t, conf.DebugMode)
	assert.Equal(t, []string{"binance", "okx"}, conf.SupportedProviders)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("UPDATE_BUFFER_CAPACITY", "lots")
	t.Setenv("RESYNC_INTERVAL", "soon")

	conf := config.Load()

	assert.Equal(t, 1000, conf.UpdateBufferCapacity)
	assert.Equal(t, 30*time.Minute, conf.ResyncInterval)
}
