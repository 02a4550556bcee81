package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// sftpFS is the subset of *sftp.Client used here, so tests can swap it out.
type sftpFS interface {
	Create(path string) (io.WriteCloser, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
	MkdirAll(path string) error
	ReadDir(path string) ([]os.FileInfo, error)
	Close() error
}

type sftpClientWrapper struct {
	client *sftp.Client
}

func (w *sftpClientWrapper) Remove(p string) error                   { return w.client.Remove(p) }
func (w *sftpClientWrapper) MkdirAll(p string) error                 { return w.client.MkdirAll(p) }
func (w *sftpClientWrapper) ReadDir(p string) ([]os.FileInfo, error) { return w.client.ReadDir(p) }
func (w *sftpClientWrapper) Close() error                            { return w.client.Close() }

func (w *sftpClientWrapper) Create(p string) (io.WriteCloser, error) {
	f, err := w.client.Create(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (w *sftpClientWrapper) Open(p string) (io.ReadCloser, error) {
	f, err := w.client.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type sftpDialer func(ctx context.Context, ep Endpoint) (*ssh.Client, sftpFS, error)

// SFTPClient serves hosts that expose SFTP instead of plain FTP.
type SFTPClient struct {
	ep      Endpoint
	dial    sftpDialer
	sshConn *ssh.Client
	fs      sftpFS
}

func NewSFTPClient(ep Endpoint) *SFTPClient {
	return &SFTPClient{ep: ep, dial: dialSFTP}
}

func createSSHConfig(ep Endpoint) (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:            ep.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         ep.Timeout,
	}

	switch {
	case strings.HasPrefix(strings.TrimSpace(ep.Secret), "-----BEGIN"):
		key, err := ssh.ParsePrivateKey([]byte(ep.Secret))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(key)}
	case ep.Secret != "":
		cfg.Auth = []ssh.AuthMethod{ssh.Password(ep.Secret)}
	default:
		return nil, fmt.Errorf("either password or private key must be provided")
	}

	return cfg, nil
}

func dialSFTP(ctx context.Context, ep Endpoint) (*ssh.Client, sftpFS, error) {
	cfg, err := createSSHConfig(ep)
	if err != nil {
		return nil, nil, &Error{Kind: KindInvalidInput, Op: "ssh config", Cause: err}
	}

	conn, err := dialSSHContext(ctx, ep.Addr(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial ssh: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("failed to initialize sftp subsystem: %w", err)
	}

	return conn, &sftpClientWrapper{client: client}, nil
}

// dialSSHContext is ssh.Dial with the handshake bounded by ctx as well as
// by the configured timeout.
func dialSSHContext(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case res := <-done:
		return res.client, res.err
	case <-ctx.Done():
		_ = conn.Close()
		if res := <-done; res.client != nil {
			_ = res.client.Close()
		}
		return nil, ctx.Err()
	}
}

func (c *SFTPClient) Connect(ctx context.Context) error {
	if c.fs != nil {
		return nil
	}

	conn, fs, err := c.dial(ctx, c.ep)
	if err != nil {
		var terr *Error
		if errors.As(err, &terr) {
			return err
		}
		return &Error{Kind: KindNetwork, Op: "dial", Path: c.ep.Addr(), Cause: err}
	}

	c.sshConn = conn
	c.fs = fs
	return nil
}

func (c *SFTPClient) Disconnect() error {
	if c.fs == nil {
		return nil
	}

	var errs []error
	if err := c.fs.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.sshConn != nil {
		if err := c.sshConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.fs = nil
	c.sshConn = nil

	if len(errs) > 0 {
		return &Error{Kind: KindNetwork, Op: "close", Cause: errors.Join(errs...)}
	}
	return nil
}

func (c *SFTPClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if c.fs == nil {
		return ErrNotConnected
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: "open local", Path: localPath, Cause: err}
	}
	defer func() { _ = localFile.Close() }()

	if dir := path.Dir(remotePath); dir != "" && dir != "." && dir != "/" {
		if err := c.fs.MkdirAll(dir); err != nil {
			return classifySFTP("mkdir", dir, err)
		}
	}

	remoteFile, err := c.fs.Create(remotePath)
	if err != nil {
		return classifySFTP("create", remotePath, err)
	}

	_, copyErr := copyWithContext(ctx, remoteFile, localFile)
	closeErr := remoteFile.Close()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifySFTP("write", remotePath, copyErr)
	}
	if closeErr != nil {
		return classifySFTP("close", remotePath, closeErr)
	}
	return nil
}

func (c *SFTPClient) Download(ctx context.Context, remotePath, localPath string) error {
	if c.fs == nil {
		return ErrNotConnected
	}

	remoteFile, err := c.fs.Open(remotePath)
	if err != nil {
		return classifySFTP("open", remotePath, err)
	}
	defer func() { _ = remoteFile.Close() }()

	if _, err := writeLocal(ctx, localPath, remoteFile, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Kind: KindNetwork, Op: "read", Path: remotePath, Cause: err}
	}
	return nil
}

func (c *SFTPClient) Delete(ctx context.Context, remotePath string) error {
	if c.fs == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.fs.Remove(remotePath); err != nil {
		return classifySFTP("remove", remotePath, err)
	}
	return nil
}

func (c *SFTPClient) List(ctx context.Context, remoteDir string) ([]RemoteFile, error) {
	if c.fs == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := c.fs.ReadDir(remoteDir)
	if err != nil {
		return nil, classifySFTP("readdir", remoteDir, err)
	}

	files := make([]RemoteFile, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, RemoteFile{
			Path:    path.Join(remoteDir, info.Name()),
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

func classifySFTP(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return &Error{Kind: KindNotFound, Op: op, Path: p, Cause: err}
	case os.IsPermission(err):
		return &Error{Kind: KindAccessDenied, Op: op, Path: p, Cause: err}
	default:
		return &Error{Kind: KindNetwork, Op: op, Path: p, Cause: err}
	}
}
