package cgroup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// withFakeCgroupRoot creates a temp dir with one subdirectory per
// hierarchy, mirroring the layout /sys/fs/cgroup would have, for
// newGroupAt to build a Group under.
func withFakeCgroupRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, h := range hierarchies {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, h), 0o755))
	}
	return dir
}

func newGroupAt(t *testing.T, root, instanceID string, strict bool) *Group {
	t.Helper()
	g := &Group{instanceID: instanceID, strict: strict, dirs: make(map[string]string)}
	for _, h := range hierarchies {
		dir := filepath.Join(root, h, instanceID)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		g.dirs[h] = dir
	}
	return g
}

func TestApplyLimitsWritesFiles(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-1", true)

	require.NoError(t, g.ApplyLimits(Limits{MemoryLimitBytes: 32 * 1024 * 1024, ProcessLimit: 4}))

	data, err := os.ReadFile(filepath.Join(g.dirs["memory"], "memory.limit_in_bytes"))
	require.NoError(t, err)
	require.Equal(t, "33554432", string(data))

	data, err = os.ReadFile(filepath.Join(g.dirs["pids"], "pids.max"))
	require.NoError(t, err)
	require.Equal(t, "4", string(data))

	data, err = os.ReadFile(filepath.Join(g.dirs["cpu"], "cpu.shares"))
	require.NoError(t, err)
	require.Equal(t, "1024", string(data))
}

func TestAddTaskIsIdempotent(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-2", true)

	require.NoError(t, g.AddTask(1234))
	require.NoError(t, g.AddTask(1234))

	data, err := os.ReadFile(filepath.Join(g.dirs["pids"], "tasks"))
	require.NoError(t, err)
	require.Equal(t, "1234", string(data))
}

func TestPeakMemoryBytes(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-3", true)

	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["memory"], "memory.max_usage_in_bytes"), []byte("1048576\n"), 0o644))
	require.EqualValues(t, 1048576, g.PeakMemoryBytes())
}

func TestCPUTimeSecondsConvertsNanoseconds(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-4", true)

	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["cpuacct"], "cpuacct.usage"), []byte("2500000000\n"), 0o644))
	require.InDelta(t, 2.5, g.CPUTimeSeconds(), 0.0001)
}

func TestMemoryLimitReached(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-5", true)

	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["memory"], "memory.max_usage_in_bytes"), []byte("33554432"), 0o644))
	require.True(t, g.MemoryLimitReached(32*1024*1024))
	require.False(t, g.MemoryLimitReached(64*1024*1024))
}

func TestProcessLimitReached(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-5b", true)

	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["pids"], "pids.max"), []byte("4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["pids"], "pids.current"), []byte("4"), 0o644))
	require.True(t, g.ProcessLimitReached())

	require.NoError(t, os.WriteFile(filepath.Join(g.dirs["pids"], "pids.current"), []byte("1"), 0o644))
	require.False(t, g.ProcessLimitReached())
}

func TestDestroyRemovesDirectoriesBestEffort(t *testing.T) {
	root := withFakeCgroupRoot(t)
	g := newGroupAt(t, root, "inst-6", true)

	require.NoError(t, g.Destroy())
	for _, h := range hierarchies {
		_, err := os.Stat(g.dirs[h])
		require.True(t, os.IsNotExist(err))
	}
	// Second destroy is a no-op, not an error.
	require.NoError(t, g.Destroy())
}

func TestNewDegradesInNonStrictMode(t *testing.T) {
	// Point at a path that cannot be created (file, not dir, as parent).
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	g, err := NewWithRoot(blocked, "inst-7", false)
	require.NoError(t, err)
	require.True(t, g.Degraded())
	// Degraded group tolerates limit application and reads as zero values.
	require.NoError(t, g.ApplyLimits(Limits{MemoryLimitBytes: 1024, ProcessLimit: 1}))
	require.EqualValues(t, 0, g.PeakMemoryBytes())
}
