package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLocalOverwrites(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a", "b", "server.cfg")

	n, err := writeLocal(context.Background(), dst, strings.NewReader("first version"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len("first version")), n)

	_, err = writeLocal(context.Background(), dst, strings.NewReader("second"), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files should be left behind")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteLocalKeepsOldFileOnFailure(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "motd.txt")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	_, err := writeLocal(context.Background(), dst, failingReader{}, nil)
	require.Error(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteLocalCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := writeLocal(ctx, filepath.Join(t.TempDir(), "x.log"), strings.NewReader("data"), nil)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteLocalConcurrentSamePath(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "shared.log")
	payloads := []string{"aaaaaaaa", "bbbbbbbb", "cccccccc", "dddddddd"}

	var wg sync.WaitGroup
	for _, p := range payloads {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			_, err := writeLocal(context.Background(), dst, strings.NewReader(p), nil)
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, payloads, string(data))
}

func TestStripedLockIndexStable(t *testing.T) {
	sl := newStripedLock(0)
	assert.Len(t, sl.locks, 256)
	assert.Equal(t, sl.index("/tmp/a"), sl.index("/tmp/a"))
}
