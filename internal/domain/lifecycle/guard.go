package lifecycle

import (
	"errors"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/archive"
	"github.com/Prison3/prison/internal/infrastructure/logging"
)

// ErrSelfInstall rejects installing the host application into a profile
var ErrSelfInstall = errors.New("cannot install the host application inside a profile")

// Guard blocks self-nesting installs. It is best effort: when an archive
// cannot be inspected the install proceeds.
type Guard struct {
	hostPackage string
	markers     []string
	inspect     func(path string) (string, error)
	logger      *zap.Logger
}

// NewGuard creates a guard for the host package. Sources containing one of
// markers are logged as suspicious.
func NewGuard(hostPackage string, markers []string, logger *zap.Logger) *Guard {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Guard{
		hostPackage: strings.TrimSpace(hostPackage),
		markers:     lowered,
		inspect:     archive.DeclaredPackage,
		logger:      logging.OrNop(logger).Named("guard"),
	}
}

// HostPackage returns the guarded package id, empty for a nil guard
func (g *Guard) HostPackage() string {
	if g == nil {
		return ""
	}
	return g.hostPackage
}

// Check returns ErrSelfInstall when source resolves to the host package
func (g *Guard) Check(source string, remote bool) error {
	if g == nil || g.hostPackage == "" {
		return nil
	}

	if marker, ok := g.marker(source); ok {
		g.logger.Debug("Install source looks like a virtualization app",
			zap.String("source", source), zap.String("marker", marker))
	}

	if remote {
		if strings.Contains(source, g.hostPackage) {
			return ErrSelfInstall
		}
		return nil
	}

	if _, err := os.Stat(source); err != nil {
		return nil
	}
	declared, err := g.inspect(source)
	if err != nil {
		g.logger.Warn("Could not verify install source, proceeding",
			zap.String("source", source), zap.Error(err))
		return nil
	}
	if declared == g.hostPackage {
		return ErrSelfInstall
	}
	return nil
}

func (g *Guard) marker(source string) (string, bool) {
	lower := strings.ToLower(source)
	for _, m := range g.markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// IsRemote reports whether source is a remote locator rather than a local path
func IsRemote(source string) bool {
	u, err := url.Parse(strings.TrimSpace(source))
	if err != nil || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	default:
		return false
	}
}
