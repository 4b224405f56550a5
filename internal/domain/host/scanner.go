// Package host scans the package archives available on the host machine.
// The result seeds the available-apps picker of every profile.
package host

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/imaging"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/memory"
	"github.com/Prison3/prison/internal/shared/types"
)

// DefaultPattern matches package archives at any depth
const DefaultPattern = "**/*.apk"

// Config describes where host archives live
type Config struct {
	Dir         string
	Pattern     string
	HostPackage string
	IconMaxEdge int
}

// Scanner builds the host application inventory
type Scanner struct {
	cfg      Config
	governor *memory.Governor
	logger   *zap.Logger
	supports func(archive.Manifest) bool
}

// NewScanner creates a host scanner
func NewScanner(cfg Config, governor *memory.Governor, logger *zap.Logger) *Scanner {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.IconMaxEdge <= 0 {
		cfg.IconMaxEdge = imaging.DefaultMaxEdge
	}
	if governor == nil {
		governor = memory.NewGovernor(nil)
	}
	return &Scanner{
		cfg:      cfg,
		governor: governor,
		logger:   logging.OrNop(logger).Named("host"),
		supports: archive.Manifest.SupportsHost,
	}
}

// WithABICheck replaces the host ABI check
func (s *Scanner) WithABICheck(fn func(archive.Manifest) bool) *Scanner {
	s.supports = fn
	return s
}

// Scan walks the archive directory and returns one record per usable
// package, sorted by path. A missing directory yields an empty list.
func (s *Scanner) Scan(ctx context.Context) ([]types.AppRecord, error) {
	paths, err := s.find(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]types.AppRecord, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, ok := s.record(path)
		if !ok {
			continue
		}
		if _, dup := seen[record.PackageID]; dup {
			s.logger.Debug("Duplicate host package", zap.String("package", record.PackageID), zap.String("path", path))
			continue
		}
		seen[record.PackageID] = struct{}{}
		records = append(records, record)
	}

	s.logger.Info("Host scan complete",
		zap.String("dir", s.cfg.Dir),
		zap.Int("archives", len(paths)),
		zap.Int("apps", len(records)))
	return records, nil
}

// IsHostPackage reports whether id is the host itself or one of its components
func (s *Scanner) IsHostPackage(id string) bool {
	host := s.cfg.HostPackage
	if host == "" {
		return false
	}
	return id == host || strings.HasPrefix(id, host+".")
}

func (s *Scanner) find(ctx context.Context) ([]string, error) {
	if _, err := os.Stat(s.cfg.Dir); errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("Host apps directory not found", zap.String("dir", s.cfg.Dir))
		return nil, nil
	}

	var (
		mu    sync.Mutex
		paths []string
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, s.cfg.Dir, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			s.logger.Debug("Skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.cfg.Dir, p)
		if err != nil {
			return nil
		}
		matched, err := doublestar.Match(s.cfg.Pattern, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if matched {
			mu.Lock()
			paths = append(paths, p)
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(paths)
	return paths, nil
}

func (s *Scanner) record(path string) (types.AppRecord, bool) {
	pkg, err := archive.Inspect(path)
	if err != nil {
		s.logger.Warn("Skipping unreadable archive", zap.String("path", path), zap.Error(err))
		return types.AppRecord{}, false
	}

	m := pkg.Manifest
	switch {
	case m.System:
		return types.AppRecord{}, false
	case !s.supports(m):
		s.logger.Debug("Skipping unsupported ABI", zap.String("package", m.Package), zap.Strings("abis", m.ABIs))
		return types.AppRecord{}, false
	case s.IsHostPackage(m.Package):
		s.logger.Debug("Filtering out host package", zap.String("package", m.Package))
		return types.AppRecord{}, false
	}

	record := types.AppRecord{
		Name:      m.DisplayName(),
		PackageID: m.Package,
		SourceDir: path,
	}

	if s.governor.ShouldSkipIcon() {
		s.logger.Warn("Memory usage high, skipping icon",
			zap.Int("usage_percent", s.governor.UsagePercent()),
			zap.String("package", m.Package))
		return record, true
	}

	icon, err := pkg.Icon()
	if err != nil {
		if !errors.Is(err, archive.ErrNoIcon) {
			s.logger.Warn("Failed to load icon", zap.String("package", m.Package), zap.Error(err))
		}
		return record, true
	}
	record.Icon = imaging.Downscale(icon, s.cfg.IconMaxEdge)
	record.HasIcon = true
	return record, true
}
