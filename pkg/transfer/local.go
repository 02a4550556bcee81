package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// stripedLock serializes writers of the same local path without keeping a
// lock per path around forever.
type stripedLock struct {
	locks []sync.Mutex
}

func newStripedLock(count int) *stripedLock {
	if count <= 0 {
		count = 256
	}
	return &stripedLock{
		locks: make([]sync.Mutex, count),
	}
}

func (sl *stripedLock) Lock(key string) {
	sl.locks[sl.index(key)].Lock()
}

func (sl *stripedLock) Unlock(key string) {
	sl.locks[sl.index(key)].Unlock()
}

func (sl *stripedLock) index(key string) uint64 {
	return xxhash.Sum64String(key) % uint64(len(sl.locks))
}

// localLocks is shared by every client so that two host jobs downloading to
// the same destination never interleave their writes.
var localLocks = newStripedLock(256)

// writeLocal streams src into localPath, creating parent directories and
// replacing any existing file only once the copy has completed. A non-nil
// commit runs after the copy and before the rename; if it fails the copy is
// discarded and its error returned as is.
func writeLocal(ctx context.Context, localPath string, src io.Reader, commit func() error) (int64, error) {
	localPath = filepath.Clean(localPath)
	localLocks.Lock(localPath)
	defer localLocks.Unlock(localPath)

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create local directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := copyWithContext(ctx, tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("write local file: %w", err)
	}

	if commit != nil {
		if err := commit(); err != nil {
			_ = os.Remove(tmpName)
			return n, err
		}
	}

	if err := os.Rename(tmpName, localPath); err != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("replace local file: %w", err)
	}
	return n, nil
}

type readerFunc func(p []byte) (n int, err error)

func (rf readerFunc) Read(p []byte) (n int, err error) { return rf(p) }

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, contextReader(ctx, src))
}

func contextReader(ctx context.Context, src io.Reader) io.Reader {
	return readerFunc(func(p []byte) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
			return src.Read(p)
		}
	})
}
