package fleet

import (
	"errors"

	"fleetsync/pkg/transfer"
)

var (
	ErrNoHosts       = errors.New("no hosts selected")
	ErrEmptyMapping  = errors.New("file mapping is empty")
	ErrInvalidHost   = errors.New("invalid host")
	ErrDuplicateHost = errors.New("duplicate host")
	ErrInvalidKind   = errors.New("invalid operation kind")
	ErrCancelled     = errors.New("operation cancelled")

	// ErrNotConnected is shared with the protocol clients so either layer can be matched.
	ErrNotConnected = transfer.ErrNotConnected
)
