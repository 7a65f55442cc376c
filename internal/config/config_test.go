package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Note: t.Parallel() is omitted in this package.
// These tests share process-global environment variables.

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Boot.CriticalTimeout)
	assert.Equal(t, 5*time.Second, cfg.Boot.HardwareTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Boot.PollInterval)
	assert.Equal(t, 36100*time.Millisecond, cfg.Boot.Baseline)
	assert.Equal(t, 20*time.Second, cfg.Boot.Targets.Excellent)
	assert.Equal(t, int64(64<<10), cfg.Boot.Capacity)
	assert.True(t, cfg.Boot.StrictSignals)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "rm01.boot.report", cfg.NATS.Subject)
	assert.Equal(t, uint32(3), cfg.NATS.Breaker.MaxFailures)
	assert.Equal(t, 30*time.Second, cfg.NATS.Breaker.OpenTimeout)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRatio)
	assert.Equal(t, 10*time.Second, cfg.Telemetry.ExportInterval)
	assert.Equal(t, 600*time.Millisecond, cfg.Devices.Webserver.Duration)
	assert.False(t, cfg.Devices.W5500.Fail)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BOOTSEQ_BOOT_HARDWARE_TIMEOUT", "2s")
	t.Setenv("BOOTSEQ_BOOT_SEQUENTIAL", "true")
	t.Setenv("BOOTSEQ_NATS_URL", "nats://custom:4222")
	t.Setenv("BOOTSEQ_DEVICES_NETMON_HANG", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Boot.HardwareTimeout)
	assert.True(t, cfg.Boot.Sequential)
	assert.Equal(t, "nats://custom:4222", cfg.NATS.URL)
	assert.True(t, cfg.Devices.Netmon.Hang)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootseq.yaml")
	content := `
boot:
  service_timeout: 1500ms
  targets:
    excellent: 15s
    warning: 18s
server:
  port: 9090
nats:
  breaker:
    max_failures: 5
    open_timeout: 1m
devices:
  w5500:
    fail: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, cfg.Boot.ServiceTimeout)
	assert.Equal(t, 15*time.Second, cfg.Boot.Targets.Excellent)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, uint32(5), cfg.NATS.Breaker.MaxFailures)
	assert.Equal(t, time.Minute, cfg.NATS.Breaker.OpenTimeout)
	assert.True(t, cfg.Devices.W5500.Fail)
	assert.Equal(t, 300*time.Millisecond, cfg.Devices.W5500.Duration)
}

func TestLoad_InvalidBootConfig(t *testing.T) {
	t.Setenv("BOOTSEQ_BOOT_POLL_INTERVAL", "10s")

	_, err := Load("")
	assert.ErrorContains(t, err, "poll_interval")
}

func TestLoad_InvalidFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
