// Package profile collapses empty profiles off the tail of the engine's
// dense profile stack.
package profile

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/shared/types"
)

// Forgetter deletes the persisted label and order list of a profile
type Forgetter interface {
	Forget(ctx context.Context, profileID int) error
}

// Labeler returns a profile's display label
type Labeler interface {
	Label(ctx context.Context, profileID int) string
}

// Pruner deletes empty profiles from the top of the stack.
// Only the highest id is ever examined: deleting below a live profile would
// leave a gap that desynchronizes profile ids from engine user ids.
type Pruner struct {
	engine    engine.Engine
	forgetter Forgetter
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	onDeleted func(profileID int)
	mu        sync.Mutex
}

// NewPruner creates a pruner
func NewPruner(eng engine.Engine, forgetter Forgetter, logger *zap.Logger) *Pruner {
	return &Pruner{
		engine:    eng,
		forgetter: forgetter,
		logger:    logging.OrNop(logger).Named("pruner"),
	}
}

// WithMetrics adds metrics tracking to the pruner
func (p *Pruner) WithMetrics(metrics *monitoring.Metrics) *Pruner {
	p.metrics = metrics
	return p
}

// OnDeleted registers a callback run after each deleted profile
func (p *Pruner) OnDeleted(fn func(profileID int)) *Pruner {
	p.onDeleted = fn
	return p
}

// Scan deletes empty tail profiles until the tail is non-empty, the stack is
// empty, or the engine fails. It returns the deleted ids, highest first.
// Failures are logged, never returned.
func (p *Pruner) Scan(ctx context.Context) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	profiles, err := p.engine.ListProfiles(ctx)
	if err != nil {
		p.logger.Warn("Cannot list profiles, skipping prune", zap.Error(err))
		return nil
	}

	ids := make([]int, len(profiles))
	for i, prof := range profiles {
		ids[i] = prof.ID
	}
	slices.SortFunc(ids, func(a, b int) int { return cmp.Compare(b, a) })

	var deleted []int
	for _, id := range ids {
		empty, err := p.isEmpty(ctx, id)
		if err != nil {
			p.logger.Warn("Cannot inspect tail profile, stopping prune",
				zap.Int("profile", id), zap.Error(err))
			break
		}
		if !empty {
			break
		}

		if err := p.engine.DeleteProfile(ctx, id); err != nil {
			p.logger.Warn("Failed to delete empty profile",
				zap.Int("profile", id), zap.Error(err))
			break
		}
		if p.forgetter != nil {
			if err := p.forgetter.Forget(ctx, id); err != nil {
				p.logger.Warn("Failed to forget profile metadata",
					zap.Int("profile", id), zap.Error(err))
			}
		}

		p.logger.Info("Deleted empty profile", zap.Int("profile", id))
		p.metrics.IncProfilesPruned()
		deleted = append(deleted, id)
		if p.onDeleted != nil {
			p.onDeleted(id)
		}
	}
	return deleted
}

// isEmpty reports whether the engine positively answered with no apps.
// An absent answer is not proof of emptiness.
func (p *Pruner) isEmpty(ctx context.Context, profileID int) (bool, error) {
	pkgs, err := p.engine.ListInstalled(ctx, 0, profileID)
	if err != nil {
		return false, err
	}
	if pkgs == nil {
		return false, fmt.Errorf("profile %d: %w", profileID, engine.ErrNoResult)
	}
	return len(pkgs) == 0, nil
}

// Profiles lists engine profiles with their stored labels
func Profiles(ctx context.Context, eng engine.Engine, labels Labeler) ([]types.Profile, error) {
	profiles, err := eng.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]types.Profile, len(profiles))
	for i, prof := range profiles {
		out[i] = types.Profile{ID: prof.ID, Label: labels.Label(ctx, prof.ID)}
	}
	return out, nil
}
