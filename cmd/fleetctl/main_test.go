package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/pkg/fleet"
)

func writeFleet(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	maps := filepath.Join(root, "sync", "dod", "maps")
	require.NoError(t, os.MkdirAll(maps, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(maps, "dod_kalt.bsp"), []byte("bsp"), 0o644))

	cfg := fmt.Sprintf(`
[paths]
local_sync_path = %q
local_logs_path = %q

[[hosts]]
region = "NY"
hostname = "dod-nyc-1"
address = "10.0.0.1"
port = 21
username = "ktp"
secret = "pw"
`, filepath.Join(root, "sync"), filepath.Join(root, "logs"))

	path := filepath.Join(root, "fleet.toml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func TestRunPlan(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), options{
		configPath: writeFleet(t),
		operation:  "plan",
		sets:       "maps",
		format:     "console",
	}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "plan on 1 host(s):")
	assert.Contains(t, stdout.String(), "NY/dod-nyc-1 (10.0.0.1:21)")
	assert.Contains(t, stdout.String(), "-> /dod/maps/dod_kalt.bsp")
}

func TestRunDryRunCollect(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), options{
		configPath:  writeFleet(t),
		operation:   "collect",
		collections: "game, cvar",
		dryRun:      true,
	}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "collections: game, cvar")
}

func TestRunRejectsBadInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	path := writeFleet(t)

	assert.Equal(t, 2, run(context.Background(), options{configPath: path, operation: "restart"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), options{configPath: path, operation: "deploy", format: "xml"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), options{configPath: path, operation: "deploy", hosts: "dod-chi-1"}, &stdout, &stderr))
	assert.Equal(t, 2, run(context.Background(), options{configPath: filepath.Join(t.TempDir(), "none.toml"), operation: "plan"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown host")
}

func TestWriteReportFile(t *testing.T) {
	rep := &fleet.FleetReport{
		RunID: "run-1",
		Kind:  fleet.KindUpload,
		Results: []fleet.OperationResult{
			{Host: fleet.HostTarget{Hostname: "dod-nyc-1"}, Succeeded: true, TotalFiles: 1, SuccessfulFiles: 1},
		},
	}
	dir := t.TempDir()

	require.NoError(t, writeReportFile(filepath.Join(dir, "out", "report.csv"), rep))
	data, err := os.ReadFile(filepath.Join(dir, "out", "report.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "run_id,region,hostname")

	require.NoError(t, writeReportFile(filepath.Join(dir, "report.txt"), rep))
	data, err = os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "dod-nyc-1: ✓ 1/1 files")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
}
