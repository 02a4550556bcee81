package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/pkg/fleet"
)

func sampleReport() *fleet.FleetReport {
	return &fleet.FleetReport{
		RunID:     "run-1",
		Operation: "deploy",
		Kind:      fleet.KindUpload,
		Duration:  1500 * time.Millisecond,
		Results: []fleet.OperationResult{
			{
				Host:            fleet.HostTarget{Region: "NY", Hostname: "dod-nyc-1", Secret: "hunter2"},
				Kind:            fleet.KindUpload,
				Succeeded:       true,
				TotalFiles:      3,
				SuccessfulFiles: 3,
				Retries:         2,
				Duration:        900 * time.Millisecond,
			},
			{
				Host:          fleet.HostTarget{Region: "EU", Hostname: "dod-lon-1", Secret: "hunter2"},
				Kind:          fleet.KindUpload,
				TotalFiles:    3,
				TopLevelError: "connect failed: dial tcp: i/o timeout",
				Errors:        []string{"connect failed: dial tcp: i/o timeout"},
			},
			{
				Host:            fleet.HostTarget{Region: "EU", Hostname: "dod-fra-1"},
				Kind:            fleet.KindUpload,
				TotalFiles:      3,
				SuccessfulFiles: 2,
				FailedFiles:     1,
				Errors:          []string{"/sync/dod/maps/dod_flash.bsp: permission denied"},
			},
		},
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleReport()))

	assert.Equal(t, strings.Join([]string{
		"NY/dod-nyc-1: ✓ 3/3 files",
		"EU/dod-lon-1: ✗ connect failed: dial tcp: i/o timeout (0/3 succeeded)",
		"EU/dod-fra-1: ✗ 1 file(s) failed (2/3 succeeded)",
		"    /sync/dod/maps/dod_flash.bsp: permission denied",
		"upload: 1/3 hosts succeeded in 1.50s",
		"",
	}, "\n"), buf.String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"run-1", "NY", "dod-nyc-1", "upload", "true", "3", "3", "0", "2", "900", ""}, rows[1])
	assert.Equal(t, "connect failed: dial tcp: i/o timeout", rows[2][10])
}

func TestWriteJSONOmitsSecrets(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))
	assert.NotContains(t, buf.String(), "hunter2")

	var decoded fleet.FleetReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.SuccessCount())
	assert.Equal(t, "dod-fra-1", decoded.Results[2].Host.Hostname)
}

func TestWriteConsole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteConsole(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "DEPLOY")
	assert.Contains(t, out, "dod-nyc-1")
	assert.Contains(t, out, "(2 retries)")
	assert.Contains(t, out, "1 file(s) failed")
	assert.Contains(t, out, "upload: 1/3 hosts succeeded")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatConsole, f)

	f, err = ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
	assert.Error(t, Write(&bytes.Buffer{}, sampleReport(), Format("xml")))
}
