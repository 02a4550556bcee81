package mapping

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fleetsync/pkg/config"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/transfer"
)

// SelectCollections resolves collection names. With no names every
// collection is used.
func (b *Builder) SelectCollections(names []string) ([]config.CollectionConfig, error) {
	if len(names) == 0 {
		return b.collections, nil
	}

	var out []config.CollectionConfig
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		c, ok := b.collection(n)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, n)
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *Builder) collection(name string) (config.CollectionConfig, bool) {
	for _, c := range b.collections {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return config.CollectionConfig{}, false
}

// Collect returns a discover function that downloads the matching remote
// logs of every selected collection into
// <local_logs_path>/<local_subdir>/<hostname>/<name>.
func (b *Builder) Collect(names []string) (fleet.DiscoverFunc, error) {
	cols, err := b.SelectCollections(names)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, host fleet.HostTarget, lister fleet.Lister) (fleet.FileMapping, error) {
		var mapping fleet.FileMapping
		seen := make(map[fleet.FilePair]struct{})
		for _, c := range cols {
			dir := filepath.Join(b.logsPath, filepath.FromSlash(c.LocalSubdir), host.Hostname)
			for _, rf := range matching(ctx, c, lister) {
				pair := fleet.FilePair{Source: rf.Path, Destination: filepath.Join(dir, rf.Name)}
				if _, dup := seen[pair]; dup {
					continue
				}
				seen[pair] = struct{}{}
				mapping = append(mapping, pair)
			}
		}
		return mapping, nil
	}, nil
}

// Purge returns a discover function listing the remote logs of every
// selected collection for deletion.
func (b *Builder) Purge(names []string) (fleet.DiscoverFunc, error) {
	cols, err := b.SelectCollections(names)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, host fleet.HostTarget, lister fleet.Lister) (fleet.FileMapping, error) {
		var paths []string
		seen := make(map[string]struct{})
		for _, c := range cols {
			for _, rf := range matching(ctx, c, lister) {
				if _, dup := seen[rf.Path]; dup {
					continue
				}
				seen[rf.Path] = struct{}{}
				paths = append(paths, rf.Path)
			}
		}
		return fleet.DeletePaths(paths...), nil
	}, nil
}

func matching(ctx context.Context, c config.CollectionConfig, lister fleet.Lister) []transfer.RemoteFile {
	var out []transfer.RemoteFile
	for _, rf := range lister.ListFiles(ctx, c.RemoteDir) {
		name := strings.ToLower(rf.Name)
		if c.Suffix != "" && !strings.HasSuffix(name, strings.ToLower(c.Suffix)) {
			continue
		}
		if c.Contains != "" && !strings.Contains(name, strings.ToLower(c.Contains)) {
			continue
		}
		out = append(out, rf)
	}
	return out
}
