package lockmgr

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/types"
)

// DefaultRegistryPath is the single JSON document mapping instance id to
// its record.
const DefaultRegistryPath = "/var/run/isobox/registry.json"

// Registry mediates all reads/writes of the host-global registry file
// through a dedicated lock file, distinct from any per-instance lock, and
// a write-temp-then-rename sequence so partial writes can never corrupt
// the document.
type Registry struct {
	path     string
	lockPath string
}

// NewRegistry opens a registry at path, using path+".lock" as its
// dedicated critical-section guard.
func NewRegistry(path string) *Registry {
	return &Registry{path: path, lockPath: path + ".lock"}
}

func (r *Registry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "mkdir registry dir")
	}
	f, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "open registry lock")
	}
	defer func() { _ = f.Close() }()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "flock registry lock")
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	return fn()
}

// Load reads the registry document. A missing file is treated as an empty
// registry, not an error.
func (r *Registry) Load() (map[string]types.InstanceRecord, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return map[string]types.InstanceRecord{}, nil
	}
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Registry, "read registry")
	}
	if len(data) == 0 {
		return map[string]types.InstanceRecord{}, nil
	}
	var reg map[string]types.InstanceRecord
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, isoerr.Wrap(err, isoerr.Registry, "unmarshal registry")
	}
	return reg, nil
}

// save writes reg via temp-file-then-rename. Callers must already hold
// the registry lock.
func (r *Registry) save(reg map[string]types.InstanceRecord) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "marshal registry")
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "write temp registry")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return isoerr.Wrap(err, isoerr.Registry, "rename temp registry")
	}
	return nil
}

// Upsert writes or replaces one instance's record under the registry
// lock's critical section.
func (r *Registry) Upsert(instanceID string, rec types.InstanceRecord) error {
	return r.withLock(func() error {
		reg, err := r.Load()
		if err != nil {
			return err
		}
		reg[instanceID] = rec
		return r.save(reg)
	})
}

// Delete removes one instance's entry, tolerating an already-absent one.
func (r *Registry) Delete(instanceID string) error {
	return r.withLock(func() error {
		reg, err := r.Load()
		if err != nil {
			return err
		}
		delete(reg, instanceID)
		return r.save(reg)
	})
}

// TouchLastUsed updates only last_used_at for an existing entry.
func (r *Registry) TouchLastUsed(instanceID string, ts time.Time) error {
	return r.withLock(func() error {
		reg, err := r.Load()
		if err != nil {
			return err
		}
		rec, ok := reg[instanceID]
		if !ok {
			return isoerr.WrapWithDetail(nil, isoerr.Registry, "TouchLastUsed", "instance not found: "+instanceID)
		}
		rec.LastUsedAt = ts
		reg[instanceID] = rec
		return r.save(reg)
	})
}

// List returns a stable snapshot of the registry, shaped as the engine's
// list() operation returns it.
func (r *Registry) List() ([]types.InstanceSummary, error) {
	reg, err := r.Load()
	if err != nil {
		return nil, err
	}
	out := make([]types.InstanceSummary, 0, len(reg))
	for id, rec := range reg {
		out = append(out, types.InstanceSummary{
			InstanceID: id,
			WorkDir:    rec.Config.WorkDir,
			CreatedAt:  rec.CreatedAt,
			LastUsedAt: rec.LastUsedAt,
		})
	}
	return out, nil
}
