package transfer

import (
	"fmt"
)

type ClientFactory struct{}

func NewFactory() *ClientFactory {
	return &ClientFactory{}
}

func (f *ClientFactory) New(ep Endpoint) (Client, error) {
	if ep.Address == "" {
		return nil, fmt.Errorf("endpoint address is required")
	}

	switch ep.Protocol {
	case ProtocolFTP, "":
		return NewFTPClient(ep), nil
	case ProtocolSFTP:
		return NewSFTPClient(ep), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", ep.Protocol)
	}
}
