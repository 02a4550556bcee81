package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/pkg/transfer"
)

func TestHostValidate(t *testing.T) {
	assert.NoError(t, testHost("ok").Validate())

	h := HostTarget{Hostname: "dod-chi-1", Port: 0}
	err := h.Validate()
	assert.ErrorIs(t, err, ErrInvalidHost)
	assert.Contains(t, err.Error(), "dod-chi-1")
	assert.Equal(t, []string{"address", "port", "username", "secret"}, h.MissingFields())
}

func TestHostDisplayNameAndEndpoint(t *testing.T) {
	h := testHost("dod-fra-2")
	assert.Equal(t, "eu/dod-fra-2", h.DisplayName())
	h.Region = ""
	assert.Equal(t, "dod-fra-2", h.DisplayName())

	ep := h.Endpoint(time.Minute)
	assert.Equal(t, time.Minute, ep.Timeout)
	assert.Equal(t, "addr-dod-fra-2", ep.Address)

	h.Timeout = 5 * time.Second
	h.Protocol = transfer.ProtocolSFTP
	ep = h.Endpoint(time.Minute)
	assert.Equal(t, 5*time.Second, ep.Timeout)
	assert.Equal(t, transfer.ProtocolSFTP, ep.Protocol)
}

func TestFileMappingValidate(t *testing.T) {
	assert.ErrorIs(t, FileMapping{}.Validate(KindUpload), ErrEmptyMapping)
	assert.Error(t, FileMapping{{Source: " ", Destination: "/a"}}.Validate(KindUpload))
	assert.NoError(t, DeletePaths("/dod/logs/a.log").Validate(KindDelete))
	assert.Error(t, DeletePaths("/dod/logs/a.log").Validate(KindUpload))
}

func TestFileMappingForHost(t *testing.T) {
	m := FileMapping{
		{Source: "/dod/logs/x.log", Destination: "logs/{region}/{host}/x.log"},
		{Source: "/dod/logs/y.log", Destination: "logs/y.log"},
	}

	out := m.ForHost(testHost("ams-1"))

	assert.Equal(t, "logs/eu/ams-1/x.log", out[0].Destination)
	assert.Equal(t, "logs/y.log", out[1].Destination)
	assert.Equal(t, "logs/{region}/{host}/x.log", m[0].Destination)

	plain := FileMapping{{Source: "a", Destination: "b"}}
	assert.Equal(t, plain, plain.ForHost(testHost("x")))
}

func TestOperationResultInvariants(t *testing.T) {
	r := OperationResult{TotalFiles: 3}
	r.record(TransferOutcome{Path: "a", Succeeded: true, Attempts: 1})
	r.record(TransferOutcome{Path: "b", ErrorDetail: "boom", Attempts: 3})
	r.record(TransferOutcome{Path: "c", Succeeded: true, Attempts: 1})
	r.finalize()

	assert.False(t, r.Succeeded)
	assert.Equal(t, r.TotalFiles, r.SuccessfulFiles+r.FailedFiles)
	assert.Equal(t, []string{"b: boom"}, r.Errors)
	assert.Equal(t, "✗ 1 file(s) failed (2/3 succeeded)", r.String())

	ok := OperationResult{TotalFiles: 1}
	ok.record(TransferOutcome{Path: "a", Succeeded: true})
	ok.finalize()
	assert.True(t, ok.Succeeded)
	assert.Equal(t, "✓ 1/1 files", ok.String())

	top := OperationResult{TotalFiles: 2}
	top.fail("connect failed: refused")
	top.finalize()
	assert.False(t, top.Succeeded)
	assert.Equal(t, "connect failed: refused", top.Reason())
}

func TestFleetReportCounts(t *testing.T) {
	r := &FleetReport{
		Kind:     KindUpload,
		Duration: 1500 * time.Millisecond,
		Results: []OperationResult{
			{Host: testHost("a"), Succeeded: true},
			{Host: testHost("b")},
			{Host: testHost("c"), Succeeded: true},
		},
	}

	assert.Equal(t, 2, r.SuccessCount())
	assert.Equal(t, 1, r.FailureCount())
	assert.False(t, r.Succeeded())
	require.Len(t, r.Failed(), 1)
	assert.Equal(t, "b", r.Failed()[0].Host.Hostname)
	_, ok := r.Result("missing")
	assert.False(t, ok)
	assert.Equal(t, "upload: 2/3 hosts succeeded in 1.50s", r.Summary())
}

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{850 * time.Millisecond, "850ms"},
		{1234 * time.Millisecond, "1.23s"},
		{4*time.Minute + 5*time.Second, "4m 5s"},
		{2*time.Hour + 3*time.Minute + 10*time.Second, "2h 3m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatElapsed(tt.in))
	}
}

func TestGateBlocksWhenFull(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(ctx), context.DeadlineExceeded)

	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()

	assert.Equal(t, 1, NewGate(0).Size())
}

func TestSinkFunc(t *testing.T) {
	var got []ProgressEvent
	var s ProgressSink = SinkFunc(func(e ProgressEvent) { got = append(got, e) })
	s.Report(ProgressEvent{Hostname: "a"})
	NopSink().Report(ProgressEvent{})
	assert.Len(t, got, 1)
}
