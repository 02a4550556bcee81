package fleet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"fleetsync/pkg/logger"
	"fleetsync/pkg/retry"
	"fleetsync/pkg/transfer"
)

// Session is one authenticated connection to one host for the lifetime of a
// host job. It is not safe for concurrent use.
type Session struct {
	host          HostTarget
	client        transfer.Client
	connectPolicy retry.Policy
	filePolicy    retry.Policy
	log           *logger.Logger
	connected     bool

	// onRetry observes every retried attempt, keyed by the path (or address) involved.
	onRetry func(path string, a retry.Attempt)
}

func NewSession(host HostTarget, client transfer.Client, connectPolicy, filePolicy retry.Policy, log *logger.Logger) *Session {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Session{
		host:          host,
		client:        client,
		connectPolicy: connectPolicy,
		filePolicy:    filePolicy,
		log:           log,
	}
}

func (s *Session) Connected() bool {
	return s.connected
}

func (s *Session) policy(base retry.Policy, path string) retry.Policy {
	p := base
	if p.Logger == nil {
		p.Logger = s.log
	}
	prev := base.OnRetry
	p.OnRetry = func(a retry.Attempt) {
		if prev != nil {
			prev(a)
		}
		if s.onRetry != nil {
			s.onRetry(path, a)
		}
	}
	return p
}

// Connect establishes the connection, retrying transient failures.
func (s *Session) Connect(ctx context.Context) error {
	if s.connected {
		return nil
	}

	p := s.policy(s.connectPolicy, s.host.Address)
	err := p.Do(ctx, "connect "+s.host.DisplayName(), func(ctx context.Context) error {
		err := s.client.Connect(ctx)
		if err != nil && transfer.KindOf(err) == transfer.KindInvalidInput {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	s.connected = true
	s.log.Debug("connected", map[string]any{"host": s.host.DisplayName()})
	return nil
}

// Disconnect releases the connection. Failures are logged and otherwise ignored.
func (s *Session) Disconnect() {
	if !s.connected {
		return
	}
	s.connected = false

	if err := s.client.Disconnect(); err != nil {
		s.log.Warn("disconnect failed", map[string]any{
			"host":  s.host.DisplayName(),
			"error": err.Error(),
		})
	}
}

func (s *Session) Upload(ctx context.Context, localPath, remotePath string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("local file %s: %w", localPath, err)
	}

	p := s.policy(s.filePolicy, localPath)
	return p.Do(ctx, "upload "+remotePath, func(ctx context.Context) error {
		return permanentIfHopeless(s.client.Upload(ctx, localPath, remotePath))
	})
}

func (s *Session) Download(ctx context.Context, remotePath, localPath string) error {
	if !s.connected {
		return ErrNotConnected
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local directory: %w", err)
	}

	p := s.policy(s.filePolicy, remotePath)
	return p.Do(ctx, "download "+remotePath, func(ctx context.Context) error {
		return permanentIfHopeless(s.client.Download(ctx, remotePath, localPath))
	})
}

// Delete removes a remote file once. A file that is already gone counts as deleted.
func (s *Session) Delete(ctx context.Context, remotePath string) error {
	if !s.connected {
		return ErrNotConnected
	}

	err := s.client.Delete(ctx, remotePath)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		s.log.Debug("remote file already absent", map[string]any{
			"host": s.host.DisplayName(),
			"path": remotePath,
		})
		return nil
	default:
		return fmt.Errorf("delete %s: %w", remotePath, err)
	}
}

// ListFiles returns the regular files in remoteDir, or nothing if the listing fails.
func (s *Session) ListFiles(ctx context.Context, remoteDir string) []transfer.RemoteFile {
	if !s.connected {
		s.log.Error("list before connect", ErrNotConnected, map[string]any{
			"host": s.host.DisplayName(),
			"dir":  remoteDir,
		})
		return nil
	}

	files, err := s.client.List(ctx, remoteDir)
	if err != nil {
		s.log.Error("failed to list remote directory", err, map[string]any{
			"host": s.host.DisplayName(),
			"dir":  remoteDir,
		})
		return nil
	}
	return files
}

// permanentIfHopeless stops retries for failures another attempt cannot fix.
func permanentIfHopeless(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return retry.Permanent(err)
	}
	switch transfer.KindOf(err) {
	case transfer.KindInvalidInput, transfer.KindAccessDenied, transfer.KindNotFound:
		return retry.Permanent(err)
	}
	return err
}
