package fleet

import (
	"fmt"
	"strings"
)

// FilePair is one entry of a FileMapping. For uploads Source is local and
// Destination remote, for downloads the other way round. Deletes only use Source.
type FilePair struct {
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
}

type FileMapping []FilePair

// DeletePaths builds a mapping for KindDelete from remote paths.
func DeletePaths(paths ...string) FileMapping {
	m := make(FileMapping, 0, len(paths))
	for _, p := range paths {
		m = append(m, FilePair{Source: p})
	}
	return m
}

func (m FileMapping) Validate(kind Kind) error {
	if len(m) == 0 {
		return ErrEmptyMapping
	}
	for i, pair := range m {
		if strings.TrimSpace(pair.Source) == "" {
			return fmt.Errorf("mapping entry %d: empty source path", i)
		}
		if kind != KindDelete && strings.TrimSpace(pair.Destination) == "" {
			return fmt.Errorf("mapping entry %d (%s): empty destination path", i, pair.Source)
		}
	}
	return nil
}

// ForHost expands {host} and {region} placeholders for one host. The receiver
// is returned as-is when nothing needs replacing.
func (m FileMapping) ForHost(h HostTarget) FileMapping {
	needs := false
	for _, pair := range m {
		if strings.Contains(pair.Source, "{") || strings.Contains(pair.Destination, "{") {
			needs = true
			break
		}
	}
	if !needs {
		return m
	}

	r := strings.NewReplacer("{host}", h.Hostname, "{region}", h.Region)
	out := make(FileMapping, len(m))
	for i, pair := range m {
		out[i] = FilePair{
			Source:      r.Replace(pair.Source),
			Destination: r.Replace(pair.Destination),
		}
	}
	return out
}
