// Package lifecycle drives install, uninstall, clear-data and launch against
// the engine and keeps the persisted order list consistent with the outcome.
//
// Every operation returns a types.Result; engine failures are encoded in it
// and never escape as errors or panics.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Prison3/prison/internal/infrastructure/engine"
	"github.com/Prison3/prison/internal/infrastructure/logging"
	"github.com/Prison3/prison/internal/infrastructure/monitoring"
	"github.com/Prison3/prison/internal/shared/id"
	"github.com/Prison3/prison/internal/shared/types"
)

// OrderWriter updates persisted order lists
type OrderWriter interface {
	Append(ctx context.Context, profileID int, packageID string) error
	Remove(ctx context.Context, profileID int, packageID string) error
	SetOrder(ctx context.Context, profileID int, packageIDs []string) error
}

// Pruner collapses empty tail profiles
type Pruner interface {
	Scan(ctx context.Context) []int
}

// Operations runs lifecycle workflows
type Operations struct {
	engine  engine.Engine
	orders  OrderWriter
	pruner  Pruner
	guard   *Guard
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewOperations creates lifecycle operations. pruner and guard may be nil.
func NewOperations(eng engine.Engine, orders OrderWriter, pruner Pruner, guard *Guard, logger *zap.Logger) *Operations {
	return &Operations{
		engine: eng,
		orders: orders,
		pruner: pruner,
		guard:  guard,
		logger: logging.OrNop(logger).Named("lifecycle"),
	}
}

// WithMetrics adds metrics tracking
func (o *Operations) WithMetrics(metrics *monitoring.Metrics) *Operations {
	o.metrics = metrics
	return o
}

// Install installs source into a profile. A self-install is rejected before
// the engine is called. The pruner runs after every install, rejected ones
// included.
func (o *Operations) Install(ctx context.Context, source string, profileID int) (res types.Result) {
	res = o.begin(profileID)
	defer o.finish(types.OpInstall, &res)
	defer o.prune(ctx)

	source = strings.TrimSpace(source)
	if source == "" {
		return fail(res, types.CodeInvalidRequest, "install source is required")
	}
	if profileID < 0 {
		return fail(res, types.CodeInvalidRequest, fmt.Sprintf("invalid profile %d", profileID))
	}

	remote := IsRemote(source)
	if err := o.guard.Check(source, remote); err != nil {
		o.logger.Warn("Rejected self-install",
			zap.String("source", source),
			zap.String("host", o.guard.HostPackage()),
			zap.Int("profile", profileID))
		return fail(res, types.CodeSecurityViolation,
			"Cannot install the host application inside a profile: nesting it would recurse without bound and is not allowed.")
	}

	installed, err := o.callInstall(ctx, source, types.InstallOptions{Remote: remote}, profileID)
	if err != nil {
		o.logger.Warn("Install failed", zap.String("source", source), zap.Int("profile", profileID), zap.Error(err))
		return fail(res, codeFor(err), "Installation failed: "+err.Error())
	}
	res.PackageID = installed.PackageID
	if !installed.Success {
		msg := installed.Message
		if msg == "" {
			msg = "unknown error"
		}
		return fail(res, types.CodeEngineError, "Installation failed: "+msg)
	}

	if err := o.orders.Append(ctx, profileID, installed.PackageID); err != nil {
		o.logger.Warn("Failed to record install order",
			zap.String("package", installed.PackageID), zap.Int("profile", profileID), zap.Error(err))
	}
	o.logger.Info("Installed package",
		zap.String("package", installed.PackageID), zap.Int("profile", profileID))
	return succeed(res, "Installed successfully")
}

// Uninstall removes a package and drops it from the order list. The order
// list is left alone when the engine call fails.
func (o *Operations) Uninstall(ctx context.Context, packageID string, profileID int) (res types.Result) {
	res = o.begin(profileID)
	res.PackageID = packageID
	defer o.finish(types.OpUninstall, &res)

	if strings.TrimSpace(packageID) == "" {
		return fail(res, types.CodeInvalidRequest, "package id is required")
	}

	err := o.safely(func() error { return o.engine.Uninstall(ctx, packageID, profileID) })
	if err != nil {
		o.logger.Warn("Uninstall failed", zap.String("package", packageID), zap.Int("profile", profileID), zap.Error(err))
		return fail(res, codeFor(err), "Uninstallation failed: "+err.Error())
	}

	if err := o.orders.Remove(ctx, profileID, packageID); err != nil {
		o.logger.Warn("Failed to update order after uninstall",
			zap.String("package", packageID), zap.Int("profile", profileID), zap.Error(err))
	}
	o.prune(ctx)
	return succeed(res, "Uninstalled successfully")
}

// ClearData wipes a package's data; the order list is untouched
func (o *Operations) ClearData(ctx context.Context, packageID string, profileID int) (res types.Result) {
	res = o.begin(profileID)
	res.PackageID = packageID
	defer o.finish(types.OpClearData, &res)

	if strings.TrimSpace(packageID) == "" {
		return fail(res, types.CodeInvalidRequest, "package id is required")
	}

	err := o.safely(func() error { return o.engine.ClearData(ctx, packageID, profileID) })
	if err != nil {
		o.logger.Warn("Clear data failed", zap.String("package", packageID), zap.Int("profile", profileID), zap.Error(err))
		return fail(res, codeFor(err), "Clear failed: "+err.Error())
	}
	return succeed(res, "Data cleared")
}

// Launch starts a package. Any failure reads as false.
func (o *Operations) Launch(ctx context.Context, packageID string, profileID int) bool {
	var launched bool
	err := o.safely(func() error {
		var err error
		launched, err = o.engine.Launch(ctx, packageID, profileID)
		return err
	})

	status := types.CodeOK
	if err != nil {
		o.logger.Warn("Launch failed", zap.String("package", packageID), zap.Int("profile", profileID), zap.Error(err))
		launched = false
		status = codeFor(err)
	} else if !launched {
		status = types.CodeEngineError
	}
	o.metrics.RecordLifecycle(string(types.OpLaunch), string(status))
	return launched
}

// Reorder replaces a profile's order list with packageIDs
func (o *Operations) Reorder(ctx context.Context, profileID int, packageIDs []string) (res types.Result) {
	res = o.begin(profileID)
	defer o.finish(types.OpReorder, &res)

	if err := o.orders.SetOrder(ctx, profileID, packageIDs); err != nil {
		o.logger.Warn("Failed to store order", zap.Int("profile", profileID), zap.Error(err))
		return fail(res, types.CodeTransient, "Reorder failed: "+err.Error())
	}
	return succeed(res, "Order saved")
}

func (o *Operations) begin(profileID int) types.Result {
	return types.Result{
		OperationID: id.NewOperationID().String(),
		ProfileID:   profileID,
	}
}

func (o *Operations) finish(op types.Operation, res *types.Result) {
	o.metrics.RecordLifecycle(string(op), string(res.Code))
}

func (o *Operations) callInstall(ctx context.Context, source string, opts types.InstallOptions, profileID int) (types.InstallResult, error) {
	var out types.InstallResult
	err := o.safely(func() error {
		var err error
		out, err = o.engine.Install(ctx, source, opts, profileID)
		return err
	})
	return out, err
}

// safely converts an engine panic into an error
func (o *Operations) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return fn()
}

func (o *Operations) prune(ctx context.Context) {
	if o.pruner == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Profile prune panicked", zap.Any("panic", r))
		}
	}()
	o.pruner.Scan(ctx)
}

func codeFor(err error) types.ResultCode {
	if errors.Is(err, ErrSelfInstall) {
		return types.CodeSecurityViolation
	}
	if engine.IsTransient(err) {
		return types.CodeTransient
	}
	return types.CodeEngineError
}

func succeed(res types.Result, msg string) types.Result {
	res.Success = true
	res.Code = types.CodeOK
	res.Message = msg
	return res
}

func fail(res types.Result, code types.ResultCode, msg string) types.Result {
	res.Success = false
	res.Code = code
	res.Message = msg
	return res
}
