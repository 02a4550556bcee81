package fleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fleetsync/pkg/logger"
	"fleetsync/pkg/transfer"
)

// fakeHost scripts how one host behaves. A negative count means "always".
type fakeHost struct {
	connectFailures int
	failures        map[string]int
	missing         map[string]bool
	listings        map[string][]transfer.RemoteFile
	hold            time.Duration
	onOp            func(path string)
	panicOn         string
}

type fakeFleet struct {
	mu          sync.Mutex
	hosts       map[string]*fakeHost
	open        int
	maxOpen     int
	created     int
	calls       map[string][]string
	disconnects map[string]int
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{
		hosts:       make(map[string]*fakeHost),
		calls:       make(map[string][]string),
		disconnects: make(map[string]int),
	}
}

func (f *fakeFleet) add(addr string, h *fakeHost) {
	f.hosts[addr] = h
}

func (f *fakeFleet) New(ep transfer.Endpoint) (transfer.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	h, ok := f.hosts[ep.Address]
	if !ok {
		h = &fakeHost{}
	}
	return &fakeClient{fleet: f, addr: ep.Address, host: h, attempts: make(map[string]int)}, nil
}

func (f *fakeFleet) record(addr, call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[addr] = append(f.calls[addr], call)
}

func (f *fakeFleet) callsFor(addr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[addr]...)
}

func (f *fakeFleet) opened() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
}

func (f *fakeFleet) closed(addr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open--
	f.disconnects[addr]++
}

type fakeClient struct {
	fleet        *fakeFleet
	addr         string
	host         *fakeHost
	connected    bool
	connectCalls int
	attempts     map[string]int
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.connectCalls++
	c.fleet.record(c.addr, "connect")
	if c.host.connectFailures < 0 || c.connectCalls <= c.host.connectFailures {
		return &transfer.Error{Kind: transfer.KindNetwork, Op: "dial", Path: c.addr, Cause: errors.New("connection refused")}
	}
	c.fleet.opened()
	c.connected = true
	if c.host.hold > 0 {
		time.Sleep(c.host.hold)
	}
	return nil
}

func (c *fakeClient) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	c.fleet.record(c.addr, "disconnect")
	c.fleet.closed(c.addr)
	return nil
}

func (c *fakeClient) op(name, path string) error {
	if !c.connected {
		return transfer.ErrNotConnected
	}
	c.fleet.record(c.addr, name+" "+path)
	if c.host.panicOn == path {
		panic("corrupt listing for " + path)
	}
	if c.host.onOp != nil {
		c.host.onOp(path)
	}
	c.attempts[path]++
	n, scripted := c.host.failures[path]
	if scripted && (n < 0 || c.attempts[path] <= n) {
		return fmt.Errorf("transfer error on %s attempt %d", path, c.attempts[path])
	}
	return nil
}

func (c *fakeClient) Upload(_ context.Context, localPath, remotePath string) error {
	return c.op("upload", localPath)
}

func (c *fakeClient) Download(_ context.Context, remotePath, localPath string) error {
	return c.op("download", remotePath)
}

func (c *fakeClient) Delete(_ context.Context, remotePath string) error {
	if c.host.missing[remotePath] {
		c.fleet.record(c.addr, "delete "+remotePath)
		return &transfer.Error{Kind: transfer.KindNotFound, Op: "delete", Path: remotePath}
	}
	return c.op("delete", remotePath)
}

func (c *fakeClient) List(_ context.Context, remoteDir string) ([]transfer.RemoteFile, error) {
	if !c.connected {
		return nil, transfer.ErrNotConnected
	}
	files, ok := c.host.listings[remoteDir]
	if !ok {
		return nil, &transfer.Error{Kind: transfer.KindNotFound, Op: "list", Path: remoteDir}
	}
	return files, nil
}

func testHost(name string) HostTarget {
	return HostTarget{
		Region:   "eu",
		Hostname: name,
		Address:  "addr-" + name,
		Port:     21,
		Username: "dod",
		Secret:   "secret",
		Enabled:  true,
	}
}

func testOrchestrator(f transfer.Factory, maxConcurrent int) (*Orchestrator, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	o := NewOrchestrator(f, Options{
		MaxConcurrent:      maxConcurrent,
		RetryAttempts:      3,
		ExponentialBackoff: true,
		Logger:             logger.New(buf),
	})
	return o, buf
}

// localFiles creates n local files and maps them to /dod/maps.
func localFiles(t *testing.T, names ...string) FileMapping {
	t.Helper()
	dir := t.TempDir()
	m := make(FileMapping, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte(n), 0o644))
		m = append(m, FilePair{Source: p, Destination: "/dod/maps/" + n})
	}
	return m
}

type recordingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (s *recordingSink) Report(e ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(host string, typ EventType) []ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProgressEvent
	for _, e := range s.events {
		if e.Hostname == host && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
