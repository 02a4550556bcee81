package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"strings"

	"github.com/jlaffaye/ftp"
)

// ftpConn is the subset of *ftp.ServerConn the client relies on.
type ftpConn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	List(path string) ([]*ftp.Entry, error)
	MakeDir(path string) error
	Quit() error
}

type ftpServerConn struct {
	conn *ftp.ServerConn
}

func (c *ftpServerConn) Login(user, password string) error   { return c.conn.Login(user, password) }
func (c *ftpServerConn) Stor(p string, r io.Reader) error    { return c.conn.Stor(p, r) }
func (c *ftpServerConn) Delete(p string) error               { return c.conn.Delete(p) }
func (c *ftpServerConn) List(p string) ([]*ftp.Entry, error) { return c.conn.List(p) }
func (c *ftpServerConn) MakeDir(p string) error              { return c.conn.MakeDir(p) }
func (c *ftpServerConn) Quit() error                         { return c.conn.Quit() }

func (c *ftpServerConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := c.conn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

type ftpDialer func(ctx context.Context, ep Endpoint) (ftpConn, error)

func dialFTP(ctx context.Context, ep Endpoint) (ftpConn, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if ep.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(ep.Timeout))
	}
	conn, err := ftp.Dial(ep.Addr(), opts...)
	if err != nil {
		return nil, err
	}
	return &ftpServerConn{conn: conn}, nil
}

// FTPClient talks plain FTP to one game-server host.
type FTPClient struct {
	ep   Endpoint
	dial ftpDialer
	conn ftpConn
}

func NewFTPClient(ep Endpoint) *FTPClient {
	return &FTPClient{ep: ep, dial: dialFTP}
}

func (c *FTPClient) Connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dial(ctx, c.ep)
	if err != nil {
		return classifyFTP("dial", c.ep.Addr(), err)
	}
	if err := conn.Login(c.ep.Username, c.ep.Secret); err != nil {
		_ = conn.Quit()
		return classifyFTP("login", c.ep.Username, err)
	}

	c.conn = conn
	return nil
}

func (c *FTPClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	if err != nil {
		return classifyFTP("quit", "", err)
	}
	return nil
}

func (c *FTPClient) Upload(ctx context.Context, localPath, remotePath string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	file, err := os.Open(localPath)
	if err != nil {
		return &Error{Kind: KindInvalidInput, Op: "open local", Path: localPath, Cause: err}
	}
	defer func() { _ = file.Close() }()

	c.ensureRemoteDir(path.Dir(remotePath))

	if err := c.conn.Stor(remotePath, contextReader(ctx, file)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return classifyFTP("stor", remotePath, err)
	}
	return nil
}

// ensureRemoteDir creates each missing directory on the way to dir. Errors
// are ignored because most servers answer 550 for directories that already exist.
func (c *FTPClient) ensureRemoteDir(dir string) {
	if dir == "" || dir == "." || dir == "/" {
		return
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		_ = c.conn.MakeDir(current)
	}
}

func (c *FTPClient) Download(ctx context.Context, remotePath, localPath string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	resp, err := c.conn.Retr(remotePath)
	if err != nil {
		return classifyFTP("retr", remotePath, err)
	}

	// Closing the data connection reads the final transfer reply, which is
	// where an aborted RETR (426/451) surfaces.
	var closed bool
	var closeErr error
	_, err = writeLocal(ctx, localPath, resp, func() error {
		closed = true
		closeErr = resp.Close()
		return closeErr
	})
	if !closed {
		_ = resp.Close()
	}

	if closeErr != nil {
		return classifyFTP("retr", remotePath, closeErr)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Kind: KindNetwork, Op: "retr", Path: remotePath, Cause: err}
	}
	return nil
}

func (c *FTPClient) Delete(ctx context.Context, remotePath string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Delete(remotePath); err != nil {
		if isFileUnavailable(err) && c.remoteExists(remotePath) {
			return &Error{Kind: KindAccessDenied, Op: "delete", Path: remotePath, Cause: err}
		}
		return classifyFTP("delete", remotePath, err)
	}
	return nil
}

// remoteExists reports whether p is still listed in its directory. Servers
// answer 550 both for missing files and for refused deletes, so a 550 only
// means "not found" once the listing confirms it. A listing that fails for
// any reason other than a missing directory counts as present.
func (c *FTPClient) remoteExists(p string) bool {
	entries, err := c.conn.List(path.Dir(p))
	if err != nil {
		return !isFileUnavailable(err)
	}
	name := path.Base(p)
	for _, entry := range entries {
		if entry != nil && entry.Name == name {
			return true
		}
	}
	return false
}

func isFileUnavailable(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftp.StatusFileUnavailable
}

func (c *FTPClient) List(ctx context.Context, remoteDir string) ([]RemoteFile, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := c.conn.List(remoteDir)
	if err != nil {
		return nil, classifyFTP("list", remoteDir, err)
	}

	files := make([]RemoteFile, 0, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Type != ftp.EntryTypeFile {
			continue
		}
		files = append(files, RemoteFile{
			Path:    path.Join(remoteDir, entry.Name),
			Name:    entry.Name,
			Size:    int64(entry.Size),
			ModTime: entry.Time,
		})
	}
	return files, nil
}

func classifyFTP(op, p string, err error) error {
	if err == nil {
		return nil
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == ftp.StatusFileUnavailable:
			return &Error{Kind: KindNotFound, Op: op, Path: p, Cause: err}
		case protoErr.Code == ftp.StatusNotLoggedIn:
			return &Error{Kind: KindAccessDenied, Op: op, Path: p, Cause: err}
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return &Error{Kind: KindNetwork, Op: op, Path: p, Cause: err}
		default:
			return &Error{Kind: KindInternal, Op: op, Path: p, Cause: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Kind: KindNetwork, Op: op, Path: p, Cause: err}
	}

	return &Error{Kind: KindInternal, Op: op, Path: p, Cause: err}
}
