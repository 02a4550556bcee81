package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/pkg/transfer"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const fleetConfig = `
[paths]
local_sync_path = "/srv/ktp/sync"
local_logs_path = "/srv/ktp/logs"

[[hosts]]
region = "NY"
hostname = "dod-nyc-1"
address = "10.0.0.1"
port = 21
username = "ktp"
secret = "pw"

[[hosts]]
region = "ny"
hostname = "dod-nyc-2"
address = "10.0.0.2"
port = 22
username = "ktp"
secret = "pw"
protocol = "sftp"
enabled = false

[[hosts]]
region = "EU"
hostname = "dod-lon-1"
address = "10.1.0.1"
port = 21
username = "ktp"
secret = "pw"

[[hosts]]
region = "EU"
address = "10.1.0.9"
port = 21
`

func TestLoadFromFileDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, fleetConfig))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Transfer.MaxConcurrent)
	assert.Equal(t, 300, cfg.Transfer.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Transfer.RetryAttempts)
	assert.True(t, cfg.Transfer.ExponentialBackoff)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 7*24*time.Hour, cfg.ReportTTL())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.False(t, cfg.Archive.Enabled)

	require.Len(t, cfg.Deploy.Sets, 5)
	assert.Equal(t, "core", cfg.Deploy.Sets[0].Name)
	assert.NotEmpty(t, cfg.Deploy.Files)
	require.Len(t, cfg.Collections, 3)
	assert.Equal(t, "filecheck", cfg.Collections[1].Contains)
}

func TestHostSelection(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, fleetConfig))
	require.NoError(t, err)

	enabled := cfg.EnabledHosts()
	require.Len(t, enabled, 3)
	assert.Equal(t, "dod-nyc-1", enabled[0].Hostname)

	ny := cfg.HostsByRegion("ny")
	require.Len(t, ny, 1, "disabled hosts are not selected by region")
	assert.Equal(t, "NY/dod-nyc-1", ny[0].DisplayName())

	h, ok := cfg.HostByName("DOD-NYC-2")
	require.True(t, ok)
	assert.False(t, h.Enabled)
	assert.Equal(t, transfer.ProtocolSFTP, h.Protocol)

	_, ok = cfg.HostByName("dod-chi-1")
	assert.False(t, ok)

	assert.Equal(t, map[string]int{"NY": 1, "ny": 1, "EU": 2}, cfg.RegionCounts())
	assert.Equal(t, []string{"(no hostname)"}, cfg.InvalidHosts())
}

func TestOrchestratorOptions(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, fleetConfig+`
[transfer]
max_concurrent = 2
timeout_seconds = 30
connect_retry_delay_ms = 500
exponential_backoff = false
`))
	require.NoError(t, err)

	opts := cfg.OrchestratorOptions(nil)
	assert.Equal(t, 2, opts.MaxConcurrent)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 500*time.Millisecond, opts.ConnectRetryDelay)
	assert.Equal(t, 2*time.Second, opts.FileRetryDelay)
	assert.False(t, opts.ExponentialBackoff)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FLEETSYNC_TRANSFER_MAX_CONCURRENT", "9")
	cfg, err := LoadFromFile(writeConfig(t, fleetConfig))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Transfer.MaxConcurrent)
}

func TestCustomDeployReplacesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, fleetConfig+`
[[deploy.sets]]
name = "maps"
local_dir = "maps"
remote_dir = "/dod/maps"
pattern = "*.bsp"
enabled = true
`))
	require.NoError(t, err)
	require.Len(t, cfg.Deploy.Sets, 1)
	assert.Empty(t, cfg.Deploy.Files)
}

func TestLoadFromFileValidation(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"concurrency out of range", "[transfer]\nmax_concurrent = 0\n"},
		{"bad protocol", "[[hosts]]\nhostname = \"x\"\nprotocol = \"scp\"\n"},
		{"bad log level", "[daemon]\nlog_level = \"loud\"\n"},
		{"archive without bucket", "[archive]\nenabled = true\nendpoint = \"http://minio:9000\"\naccess_key = \"a\"\nsecret_key = \"b\"\n"},
		{"hook without command", "[hook]\nenabled = true\n"},
		{"set without remote dir", "[[deploy.sets]]\nname = \"maps\"\nlocal_dir = \"maps\"\n"},
		{"file in unknown set", "[[deploy.files]]\nlocal = \"a\"\nremote = \"/a\"\nset = \"nope\"\n"},
		{"duplicate set", "[[deploy.sets]]\nname = \"core\"\n[[deploy.sets]]\nname = \"CORE\"\n"},
		{"duplicate collection", "[[collections]]\nname = \"game\"\nremote_dir = \"/a\"\n[[collections]]\nname = \"game\"\nremote_dir = \"/b\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, fleetConfig+tt.extra))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
