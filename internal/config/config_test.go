package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint32(5), cfg.MaxEventDepth)
	assert.Equal(t, 10, cfg.MaxFanOutPerEvent)
	assert.Equal(t, 5*time.Second, cfg.PluginTimeout())
	assert.Equal(t, 1000, cfg.EventHistorySize)
	assert.Equal(t, 24*time.Hour, cfg.EventRetention())
	assert.Equal(t, 256, cfg.EventQueueCapacity)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SYNAPD_MAX_EVENT_DEPTH", "12")
	t.Setenv("SYNAPD_RATE_LIMIT_PER_SECOND", "99")
	t.Setenv("SYNAPD_ADMIN_API_KEY", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), cfg.MaxEventDepth)
	assert.Equal(t, 99, cfg.RateLimitPerSecond)
	assert.Equal(t, "hunter2", cfg.AdminAPIKey)
}

func TestLoadClampsZeroValues(t *testing.T) {
	t.Setenv("SYNAPD_RATE_LIMIT_PER_SECOND", "0")
	t.Setenv("SYNAPD_RATE_LIMIT_BURST", "0")
	t.Setenv("SYNAPD_MAX_EVENT_DEPTH", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.RateLimitPerSecond, "zero clamps to 1, never crashes")
	assert.Equal(t, 1, cfg.RateLimitBurst)
	assert.Equal(t, uint32(1), cfg.MaxEventDepth)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synapd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_event_depth: 7\nhttp_addr: \":9000\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.MaxEventDepth)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
}

func TestWatchFiresOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synapd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_event_depth: 3\n"), 0o644))

	changed := make(chan Config, 1)
	stop, err := Watch(path, func(cfg Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("max_event_depth: 9\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, uint32(9), cfg.MaxEventDepth)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
