package fleet

import (
	"fmt"
	"strings"
	"time"

	"fleetsync/pkg/transfer"
)

// HostTarget identifies one game-server host and how to reach it.
type HostTarget struct {
	Region      string            `json:"region"`
	Hostname    string            `json:"hostname"`
	Address     string            `json:"address"`
	Port        int               `json:"port"`
	Username    string            `json:"username"`
	Secret      string            `json:"-"`
	Enabled     bool              `json:"enabled"`
	Protocol    transfer.Protocol `json:"protocol,omitempty"`
	Description string            `json:"description,omitempty"`

	// Timeout overrides the orchestrator-wide network timeout when set.
	Timeout time.Duration `json:"-"`
}

// DisplayName is "Region/Hostname", or just the hostname when no region is set.
func (h HostTarget) DisplayName() string {
	if h.Region == "" {
		return h.Hostname
	}
	return h.Region + "/" + h.Hostname
}

// MissingFields lists the required fields that are empty.
func (h HostTarget) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(h.Hostname) == "" {
		missing = append(missing, "hostname")
	}
	if strings.TrimSpace(h.Address) == "" {
		missing = append(missing, "address")
	}
	if h.Port <= 0 {
		missing = append(missing, "port")
	}
	if strings.TrimSpace(h.Username) == "" {
		missing = append(missing, "username")
	}
	if h.Secret == "" {
		missing = append(missing, "secret")
	}
	return missing
}

func (h HostTarget) Validate() error {
	if missing := h.MissingFields(); len(missing) > 0 {
		name := h.Hostname
		if name == "" {
			name = h.Address
		}
		return fmt.Errorf("%w %q: missing %s", ErrInvalidHost, name, strings.Join(missing, ", "))
	}
	return nil
}

// Endpoint converts the host into protocol-client settings, falling back to
// defaultTimeout when the host does not carry its own.
func (h HostTarget) Endpoint(defaultTimeout time.Duration) transfer.Endpoint {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return transfer.Endpoint{
		Protocol: h.Protocol,
		Address:  h.Address,
		Port:     h.Port,
		Username: h.Username,
		Secret:   h.Secret,
		Timeout:  timeout,
	}
}
