// Package order persists per-profile display order and labels.
//
// Keys follow the layout the engine's companion app has always used:
// "AppList<id>" holds a comma-joined package-id list and "Remark<id>" the
// profile label. The order list is a preference, never the source of truth
// for what is installed.
package order

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/shared/types"
)

const (
	appListPrefix = "AppList"
	remarkPrefix  = "Remark"
	separator     = ","
)

// KV is the persistence contract of a storage backend
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// Store reads and writes order lists and labels.
// Reads fail open: a backend error reads as "no custom order" or the default label.
type Store struct {
	kv     KV
	logger *zap.Logger
	mu     sync.Mutex // serializes read-modify-write of order lists
}

// NewStore creates an order store over kv
func NewStore(kv KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logging.OrNop(logger).Named("order")}
}

// AppListKey is the key of a profile's order list
func AppListKey(profileID int) string {
	return appListPrefix + strconv.Itoa(profileID)
}

// RemarkKey is the key of a profile's label
func RemarkKey(profileID int) string {
	return remarkPrefix + strconv.Itoa(profileID)
}

// Order returns the persisted order list, or nil when none is stored or it cannot be read
func (s *Store) Order(ctx context.Context, profileID int) []string {
	ids, err := s.read(ctx, profileID)
	if err != nil {
		s.logger.Warn("Failed to read order list, using engine order",
			zap.Int("profile", profileID), zap.Error(err))
		return nil
	}
	return ids
}

// SetOrder overwrites the order list verbatim, apart from dropping blanks and repeats
func (s *Store) SetOrder(ctx context.Context, profileID int, packageIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, profileID, Normalize(packageIDs))
}

// Append adds packageID to the end of the list unless already present
func (s *Store) Append(ctx context.Context, profileID int, packageID string) error {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Writing after a failed read would discard the stored order
	current, err := s.read(ctx, profileID)
	if err != nil {
		return err
	}
	for _, id := range current {
		if id == packageID {
			return nil
		}
	}
	return s.put(ctx, profileID, append(current, packageID))
}

// Remove drops packageID from the list. Removing an absent id is a no-op.
func (s *Store) Remove(ctx context.Context, profileID int, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(ctx, profileID)
	if err != nil {
		return err
	}
	kept := current[:0:0]
	for _, id := range current {
		if id != packageID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(current) {
		return nil
	}
	return s.put(ctx, profileID, kept)
}

// Label returns the profile label or "User <id>"
func (s *Store) Label(ctx context.Context, profileID int) string {
	raw, ok, err := s.kv.Get(ctx, RemarkKey(profileID))
	if err != nil {
		s.logger.Warn("Failed to read label, using default",
			zap.Int("profile", profileID), zap.Error(err))
		return types.DefaultLabel(profileID)
	}
	if label := strings.TrimSpace(raw); ok && label != "" {
		return label
	}
	return types.DefaultLabel(profileID)
}

// SetLabel stores a label; a blank label restores the default
func (s *Store) SetLabel(ctx context.Context, profileID int, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		if err := s.kv.Delete(ctx, RemarkKey(profileID)); err != nil {
			return fmt.Errorf("reset label of profile %d: %w", profileID, err)
		}
		return nil
	}
	if err := s.kv.Put(ctx, RemarkKey(profileID), label); err != nil {
		return fmt.Errorf("set label of profile %d: %w", profileID, err)
	}
	return nil
}

// Forget deletes everything stored for a profile
func (s *Store) Forget(ctx context.Context, profileID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Delete(ctx, RemarkKey(profileID), AppListKey(profileID)); err != nil {
		return fmt.Errorf("forget profile %d: %w", profileID, err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, profileID int) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, AppListKey(profileID))
	if err != nil {
		return nil, fmt.Errorf("read order of profile %d: %w", profileID, err)
	}
	if !ok {
		return nil, nil
	}
	return Parse(raw), nil
}

func (s *Store) put(ctx context.Context, profileID int, ids []string) error {
	if err := s.kv.Put(ctx, AppListKey(profileID), Format(ids)); err != nil {
		return fmt.Errorf("write order of profile %d: %w", profileID, err)
	}
	return nil
}

// Parse splits a stored order list. Blank tokens are dropped and only the
// first occurrence of a repeated id is kept, so a malformed value degrades
// to the ids it still names.
func Parse(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return Normalize(strings.Split(raw, separator))
}

// Format joins ids for storage
func Format(ids []string) string {
	return strings.Join(ids, separator)
}

// Normalize trims ids and drops blanks and repeats, keeping first occurrences
func Normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, separator) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
