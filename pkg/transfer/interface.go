package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"
)

type Protocol string

const (
	ProtocolFTP  Protocol = "ftp"
	ProtocolSFTP Protocol = "sftp"
)

// Endpoint carries what a protocol client needs to reach one host.
type Endpoint struct {
	Protocol Protocol
	Address  string
	Port     int
	Username string
	Secret   string
	Timeout  time.Duration
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// RemoteFile describes a regular file returned by List.
type RemoteFile struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Client is one connection to one host. Implementations are not safe for
// use from more than one goroutine at a time.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
	Delete(ctx context.Context, remotePath string) error
	List(ctx context.Context, remoteDir string) ([]RemoteFile, error)
}

type Factory interface {
	New(ep Endpoint) (Client, error)
}

type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindAccessDenied ErrorKind = "access_denied"
	KindNetwork      ErrorKind = "network"
	KindInvalidInput ErrorKind = "invalid_input"
	KindInternal     ErrorKind = "internal"
)

type Error struct {
	Kind  ErrorKind
	Op    string
	Path  string
	Cause error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", msg, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", msg, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets callers test not_found errors with errors.Is(err, fs.ErrNotExist).
func (e *Error) Is(target error) bool {
	return target == fs.ErrNotExist && e.Kind == KindNotFound
}

// KindOf reports the kind of a transfer error, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return KindInternal
}

// ErrNotConnected is returned by clients used before Connect or after Disconnect.
var ErrNotConnected = errors.New("not connected")
