// Package box implements the instance manager: the lifecycle glue over
// the cgroup, namespace, jail, seccomp, lock, and executor layers —
// init/run/execute_source/cleanup/list.
package box

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/isobox/isobox/cgroup"
	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/jail"
	"github.com/isobox/isobox/lockmgr"
	"github.com/isobox/isobox/logger"
	"github.com/isobox/isobox/runner"
	"github.com/isobox/isobox/types"
)

// Engine is the public API consumed by the front end (cmd/isobox).
type Engine struct {
	LockDir     string
	RegistryDir string
	registry    *lockmgr.Registry
}

// NewEngine constructs an Engine with explicit lock/registry directories;
// NewDefaultEngine uses the well-known system paths.
func NewEngine(lockDir, registryPath string) *Engine {
	return &Engine{LockDir: lockDir, RegistryDir: registryPath, registry: lockmgr.NewRegistry(registryPath)}
}

// NewDefaultEngine uses lockmgr's documented well-known paths.
func NewDefaultEngine() *Engine {
	return NewEngine(lockmgr.DefaultLockDir, lockmgr.DefaultRegistryPath)
}

// Init creates the instance: allocates workdir, registers it, and writes
// the initialized lock record. Idempotent for the same caller UID;
// rejected with LockBusy for a different live owner.
func (e *Engine) Init(instanceID string, cfg types.IsolateConfig) (err error) {
	cfg.Defaults()
	cfg.InstanceID = instanceID

	lock, err := lockmgr.Acquire(e.LockDir, instanceID, os.Getuid())
	if err != nil {
		if errors.Is(err, &isoerr.Error{Kind: isoerr.Lock, LockReason: isoerr.LockPermissionDenied}) {
			return isoerr.WrapLock(err, isoerr.LockBusy, "Init", "instance is owned by a different uid")
		}
		return err
	}
	if rec, rerr := lock.ReadRecord(); rerr == nil && rec.IsInitialized && rec.OwnerUID != os.Getuid() {
		_ = lock.Release()
		return isoerr.WrapLock(nil, isoerr.LockBusy, "Init", "instance is owned by a different uid")
	}
	// Roll back everything on any failure past this point: the setup
	// error propagation policy requires init to leave no residue.
	defer func() {
		if err != nil {
			_ = lock.Remove()
			_ = os.RemoveAll(cfg.WorkDir)
		}
	}()

	if err = os.MkdirAll(filepath.Join(cfg.WorkDir, "box"), 0o755); err != nil {
		err = isoerr.Wrap(err, isoerr.Io, "mkdir workdir")
		return err
	}

	if err = lock.WriteRecord(types.LockRecord{
		OwnerUID:      os.Getuid(),
		PID:           os.Getpid(),
		CreatedAt:     time.Now(),
		IsInitialized: true,
	}); err != nil {
		return err
	}

	now := time.Now()
	if err = e.registry.Upsert(instanceID, types.InstanceRecord{Config: cfg, CreatedAt: now, LastUsedAt: now}); err != nil {
		return err
	}

	return lock.Release()
}

// loadInstance re-acquires the instance's lock and its registered config.
func (e *Engine) loadInstance(instanceID string) (*lockmgr.InstanceLock, types.IsolateConfig, error) {
	lock, err := lockmgr.Acquire(e.LockDir, instanceID, os.Getuid())
	if err != nil {
		return nil, types.IsolateConfig{}, err
	}

	reg, err := e.registry.Load()
	if err != nil {
		_ = lock.Release()
		return nil, types.IsolateConfig{}, err
	}
	rec, ok := reg[instanceID]
	if !ok {
		_ = lock.Release()
		return nil, types.IsolateConfig{}, isoerr.WrapWithDetail(nil, isoerr.Registry, "loadInstance", "unknown instance: "+instanceID)
	}
	return lock, rec.Config, nil
}

// Run loads the instance, applies overrides, runs via the executor, and
// returns the ExecutionResult.
func (e *Engine) Run(ctx context.Context, instanceID string, argv []string, stdin []byte, overrides types.Overrides) (*types.ExecutionResult, error) {
	lock, cfg, err := e.loadInstance(instanceID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			logger.Log.Warn("failed to release instance lock", "instance_id", instanceID, "error", rerr)
		}
	}()

	cfg = overrides.Apply(cfg)
	cfg.StdinData = stdin

	result, err := runner.Run(ctx, cfg, argv)
	if err != nil {
		// A child was never launched: InternalError per the propagation
		// policy, not a bubbled-up setup error.
		return &types.ExecutionResult{Status: types.StatusInternalError, ErrorMessage: err.Error(), Success: false}, nil
	}

	_ = e.registry.TouchLastUsed(instanceID, time.Now())
	return result, nil
}

// ExecuteSource copies source into workdir/box, resolves an argv for it
// via resolve, and delegates to Run.
func (e *Engine) ExecuteSource(ctx context.Context, instanceID, sourcePath string, stdin []byte, overrides types.Overrides, resolve func(path string) ([]string, error)) (*types.ExecutionResult, error) {
	lock, cfg, err := e.loadInstance(instanceID)
	if err != nil {
		return nil, err
	}
	// Run takes the instance lock itself, so this one is released before
	// delegating, and on every early return.
	locked := true
	defer func() {
		if locked {
			_ = lock.Release()
		}
	}()

	if err := jail.ValidateHostSource(sourcePath); err != nil {
		return nil, err
	}

	dest := filepath.Join(cfg.WorkDir, "box", filepath.Base(sourcePath))
	if err := jail.ValidatePath(dest, cfg.WorkDir); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Io, "read source")
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, isoerr.Wrap(err, isoerr.Io, "write source into workdir")
	}

	argv, err := resolve(dest)
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Config, "resolve language profile")
	}

	locked = false
	if err := lock.Release(); err != nil {
		return nil, err
	}
	return e.Run(ctx, instanceID, argv, stdin, overrides)
}

// CleanupTarget selects one instance or every instance for Cleanup.
type CleanupTarget struct {
	InstanceID string
	All        bool
}

// Cleanup destroys cgroups (best-effort, already torn down per-run by the
// executor), removes the lock, deletes workdir, and removes the registry
// entry, for each matched instance. Idempotent: a second call against an
// already-removed instance returns nil, not an error.
func (e *Engine) Cleanup(target CleanupTarget) error {
	if target.All {
		reg, err := e.registry.Load()
		if err != nil {
			return err
		}
		for id := range reg {
			if err := e.cleanupOne(id); err != nil {
				logger.Log.Warn("cleanup failed for instance", "instance_id", id, "error", err)
			}
		}
		return nil
	}
	return e.cleanupOne(target.InstanceID)
}

func (e *Engine) cleanupOne(instanceID string) error {
	reg, err := e.registry.Load()
	if err != nil {
		return err
	}
	rec, known := reg[instanceID]

	lock, err := lockmgr.Acquire(e.LockDir, instanceID, os.Getuid())
	if err == nil {
		_ = lock.Remove()
	}

	if known {
		grp, gerr := cgroup.New(instanceID, false)
		if gerr == nil {
			_ = grp.Destroy()
		}
		if rec.Config.WorkDir != "" {
			_ = os.RemoveAll(rec.Config.WorkDir)
		}
	}

	return e.registry.Delete(instanceID)
}

// List returns a snapshot of the registry.
func (e *Engine) List() ([]types.InstanceSummary, error) {
	return e.registry.List()
}
