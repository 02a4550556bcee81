package mapping

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fleetsync/pkg/config"
	"fleetsync/pkg/fleet"
	"fleetsync/pkg/logger"
)

var (
	ErrUnknownSet        = errors.New("unknown deploy set")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Builder turns configured deploy sets and log collections into file mappings.
type Builder struct {
	syncPath    string
	logsPath    string
	deploy      config.DeployConfig
	collections []config.CollectionConfig
	logger      *logger.Logger
}

func NewBuilder(cfg *config.Config, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Builder{
		syncPath:    cfg.Paths.LocalSyncPath,
		logsPath:    cfg.Paths.LocalLogsPath,
		deploy:      cfg.Deploy,
		collections: cfg.Collections,
		logger:      log,
	}
}

// SelectSets resolves set names. With no names the enabled sets are used.
func (b *Builder) SelectSets(names []string) ([]config.DeploySetConfig, error) {
	if len(names) == 0 {
		var out []config.DeploySetConfig
		for _, s := range b.deploy.Sets {
			if s.Enabled {
				out = append(out, s)
			}
		}
		return out, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		found := false
		for _, s := range b.deploy.Sets {
			if strings.EqualFold(s.Name, n) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSet, n)
		}
		wanted[n] = true
	}

	var out []config.DeploySetConfig
	for _, s := range b.deploy.Sets {
		if wanted[strings.ToLower(s.Name)] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Deploy builds the upload mapping for the selected sets. Ungrouped static
// files always come first, then each set's static files followed by its
// scanned files. Local files that do not exist are skipped with a warning.
func (b *Builder) Deploy(setNames []string) (fleet.FileMapping, error) {
	sets, err := b.SelectSets(setNames)
	if err != nil {
		return nil, err
	}

	var mapping fleet.FileMapping
	seen := make(map[string]struct{})
	add := func(local, remote string) {
		if _, dup := seen[local]; dup {
			return
		}
		seen[local] = struct{}{}
		mapping = append(mapping, fleet.FilePair{Source: local, Destination: remote})
	}

	b.addStatic("", add)
	for _, set := range sets {
		b.addStatic(set.Name, add)
		if set.LocalDir == "" {
			continue
		}
		files, err := b.scan(set)
		if err != nil {
			return nil, fmt.Errorf("scan deploy set %s: %w", set.Name, err)
		}
		for _, f := range files {
			add(f.Source, f.Destination)
		}
	}

	b.logger.Info("deploy mapping built", map[string]any{
		"sets":  len(sets),
		"files": len(mapping),
	})

	return mapping, nil
}

func (b *Builder) addStatic(set string, add func(local, remote string)) {
	for _, f := range b.deploy.Files {
		if !strings.EqualFold(f.Set, set) {
			continue
		}
		local := b.localPath(f.Local)
		if _, err := os.Stat(local); err != nil {
			b.logger.Warn("deploy file not found locally, skipping", map[string]any{
				"file": local,
				"set":  set,
			})
			continue
		}
		add(local, f.Remote)
	}
}

func (b *Builder) scan(set config.DeploySetConfig) (fleet.FileMapping, error) {
	root := b.localPath(set.LocalDir)

	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		b.logger.Warn("deploy directory not found locally, skipping", map[string]any{
			"dir": root,
			"set": set.Name,
		})
		return nil, nil
	}

	var files fleet.FileMapping
	err = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if p != root && !set.Recursive {
				return filepath.SkipDir
			}
			return nil
		}

		if !matches(set.Pattern, info.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, fleet.FilePair{
			Source:      p,
			Destination: path.Join(set.RemoteDir, filepath.ToSlash(rel)),
		})
		return nil
	})

	return files, err
}

func (b *Builder) localPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.syncPath, filepath.FromSlash(p))
}

// matches is a case-insensitive glob on the base name. An empty pattern matches everything.
func matches(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}
