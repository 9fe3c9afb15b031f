// Package cgroup manages the four cgroup v1 hierarchies the engine needs
// for one run: memory, cpu, pids, cpuacct. It creates the per-instance
// directory under each, writes the configured limits, populates the
// hierarchy with the child PID, and reads usage back out after exit.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/logger"
)

const cgroupRoot = "/sys/fs/cgroup"

// hierarchies the controller manages for every run, in the order they
// should be populated (order does not matter for v1 correctness, but a
// fixed order makes failures reproducible).
var hierarchies = []string{"memory", "cpu", "pids", "cpuacct"}

// Limits is the subset of IsolateConfig the cgroup controller consumes.
type Limits struct {
	MemoryLimitBytes uint64
	ProcessLimit     int
}

// Group owns the four per-instance directories for one run.
type Group struct {
	instanceID string
	strict     bool
	dirs       map[string]string
	degraded   bool
}

// New creates (but does not yet populate) the per-instance directories
// under each hierarchy. In non-strict mode, a missing /sys/fs/cgroup or a
// permission-denied mkdir leaves the affected hierarchies unmanaged (no
// limits written, counters read as zero) and is logged once; in strict
// mode the same condition is a hard Config error.
func New(instanceID string, strict bool) (*Group, error) {
	return NewWithRoot(cgroupRoot, instanceID, strict)
}

// NewWithRoot is New with an explicit hierarchy root instead of
// /sys/fs/cgroup, so callers (tests, mainly) can point the controller at a
// throwaway directory and drive its counters directly.
func NewWithRoot(root, instanceID string, strict bool) (*Group, error) {
	g := &Group{instanceID: instanceID, strict: strict, dirs: make(map[string]string)}

	for _, h := range hierarchies {
		dir := filepath.Join(root, h, instanceID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			if strict {
				return nil, isoerr.WrapWithDetail(err, isoerr.Config, "cgroup.New",
					fmt.Sprintf("cannot create %s hierarchy for %s", h, instanceID))
			}
			if !g.degraded {
				logger.Log.Warn("cgroup hierarchy unavailable, continuing without enforcement",
					"hierarchy", h, "instance_id", instanceID, "error", err)
			}
			g.degraded = true
			continue
		}
		g.dirs[h] = dir
	}
	return g, nil
}

// Degraded reports whether any hierarchy failed to initialize and limits
// will not be enforced by cgroups for this run (wall-time watchdog still
// applies).
func (g *Group) Degraded() bool {
	return g.degraded
}

// HierarchyDir exposes the per-instance directory for a hierarchy, so
// tests can write counter files directly instead of reaching into the
// live /sys/fs/cgroup tree.
func (g *Group) HierarchyDir(hierarchy string) (string, bool) {
	dir, ok := g.dirs[hierarchy]
	return dir, ok
}

func (g *Group) write(hierarchy, file, value string) error {
	dir, ok := g.dirs[hierarchy]
	if !ok {
		return nil // hierarchy degraded away; nothing to write
	}
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Cgroup, "write", path)
	}
	return nil
}

// ApplyLimits writes memory.limit_in_bytes, memory.memsw.limit_in_bytes,
// cpu.shares, and pids.max exactly as the engine's resource model
// specifies. memsw failures are tolerated (logged) since swap accounting
// is frequently compiled out of the kernel.
func (g *Group) ApplyLimits(l Limits) error {
	if l.MemoryLimitBytes > 0 {
		v := strconv.FormatUint(l.MemoryLimitBytes, 10)
		if err := g.write("memory", "memory.limit_in_bytes", v); err != nil {
			if g.strict {
				return err
			}
			logger.Log.Warn("memory.limit_in_bytes unavailable", "error", err)
		}
		if err := g.write("memory", "memory.memsw.limit_in_bytes", v); err != nil {
			logger.Log.Warn("memory.memsw.limit_in_bytes unavailable, swap may defeat the limit", "error", err)
		}
	}

	if err := g.write("cpu", "cpu.shares", "1024"); err != nil {
		if g.strict {
			return err
		}
		logger.Log.Warn("cpu.shares unavailable", "error", err)
	}

	if l.ProcessLimit > 0 {
		if err := g.write("pids", "pids.max", strconv.Itoa(l.ProcessLimit)); err != nil {
			if g.strict {
				return err
			}
			logger.Log.Warn("pids.max unavailable", "error", err)
		}
	}

	return nil
}

// AddTask writes pid into the `tasks` file of every live hierarchy.
// Re-entering an already-populated tasks file is idempotent, as the
// kernel simply reports the PID is already a member.
func (g *Group) AddTask(pid int) error {
	for _, h := range hierarchies {
		dir, ok := g.dirs[h]
		if !ok {
			continue
		}
		path := filepath.Join(dir, "tasks")
		if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
			if g.strict {
				return isoerr.WrapWithDetail(err, isoerr.Cgroup, "AddTask", path)
			}
			logger.Log.Warn("failed to attach pid to cgroup hierarchy", "hierarchy", h, "pid", pid, "error", err)
		}
	}
	return nil
}

// PeakMemoryBytes reads memory.max_usage_in_bytes. Returns 0 if the
// memory hierarchy is unavailable.
func (g *Group) PeakMemoryBytes() uint64 {
	dir, ok := g.dirs["memory"]
	if !ok {
		return 0
	}
	data, err := os.ReadFile(filepath.Join(dir, "memory.max_usage_in_bytes"))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// CPUTimeSeconds reads cpuacct.usage (nanoseconds) and converts to
// seconds. Returns 0 if the cpuacct hierarchy is unavailable.
func (g *Group) CPUTimeSeconds() float64 {
	dir, ok := g.dirs["cpuacct"]
	if !ok {
		return 0
	}
	data, err := os.ReadFile(filepath.Join(dir, "cpuacct.usage"))
	if err != nil {
		return 0
	}
	ns, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return float64(ns) / 1e9
}

// OOMKilled reports whether the kernel OOM-killer signature is present in
// memory.oom_control's under_oom field.
func (g *Group) OOMKilled() bool {
	dir, ok := g.dirs["memory"]
	if !ok {
		return false
	}
	data, err := os.ReadFile(filepath.Join(dir, "memory.oom_control"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "under_oom") && strings.TrimSpace(strings.TrimPrefix(line, "under_oom")) == "1" {
			return true
		}
	}
	return false
}

// MemoryLimitReached reports whether recorded peak usage has reached the
// configured memory limit, the signal the executor uses to classify a
// SIGKILL as MemoryLimit rather than Signaled.
func (g *Group) MemoryLimitReached(limit uint64) bool {
	if limit == 0 {
		return false
	}
	return g.PeakMemoryBytes() >= limit
}

// ProcessLimitReached reports whether pids.current has reached
// pids.max, the cgroup-level evidence that a SIGKILL (or a child's own
// fork/clone failure) was caused by the process-count limit rather than
// wall/CPU time.
func (g *Group) ProcessLimitReached() bool {
	dir, ok := g.dirs["pids"]
	if !ok {
		return false
	}
	cur, err := readUint(filepath.Join(dir, "pids.current"))
	if err != nil {
		return false
	}
	max, err := readUint(filepath.Join(dir, "pids.max"))
	if err != nil {
		return false
	}
	return cur >= max
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// Destroy removes all per-instance directories. Best-effort: every
// hierarchy is attempted even if earlier ones fail, and absence of a
// hierarchy is not an error.
func (g *Group) Destroy() error {
	var firstErr error
	for _, h := range hierarchies {
		dir, ok := g.dirs[h]
		if !ok {
			continue
		}
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = isoerr.WrapWithDetail(err, isoerr.Cgroup, "Destroy", dir)
			}
			logger.Log.Warn("failed to remove cgroup directory", "dir", dir, "error", err)
		}
	}
	return firstErr
}
