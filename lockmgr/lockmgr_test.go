package lockmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/types"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "inst-a", os.Getuid())
	require.NoError(t, err)
	require.NoError(t, lock.WriteRecord(types.LockRecord{
		OwnerUID: os.Getuid(), PID: os.Getpid(), CreatedAt: time.Now(), IsInitialized: true,
	}))
	require.NoError(t, lock.Release())
}

func TestAcquireConflictIsBusy(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "inst-b", os.Getuid())
	require.NoError(t, err)
	require.NoError(t, lock.WriteRecord(types.LockRecord{
		OwnerUID: os.Getuid(), PID: os.Getpid(), CreatedAt: time.Now(), IsInitialized: true,
	}))
	defer lock.Release()

	_, err = Acquire(dir, "inst-b", os.Getuid())
	require.Error(t, err)
	var e *isoerr.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, isoerr.LockBusy, e.LockReason)
}

func TestAcquireStaleTakeover(t *testing.T) {
	dir := t.TempDir()
	path := lockPath(dir, "inst-c")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	rec := types.LockRecord{
		Magic: types.LockMagic, OwnerUID: os.Getuid(), PID: 999999,
		CreatedAt: time.Now().Add(-2 * StaleAfter), IsInitialized: true,
	}
	l := &InstanceLock{path: path, file: f}
	require.NoError(t, l.WriteRecord(rec))
	// Do not hold the flock, so a fresh Acquire sees no EWOULDBLOCK at all
	// in this simplified reproduction of staleness; real contention is
	// exercised by TestAcquireConflictIsBusy above.
	require.NoError(t, f.Close())

	lock, err := Acquire(dir, "inst-c", os.Getuid())
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestRegistryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	reg := NewRegistry(path)

	rec := types.InstanceRecord{
		Config:    types.IsolateConfig{InstanceID: "inst-1", WorkDir: "/tmp/x"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, reg.Upsert("inst-1", rec))

	loaded, err := reg.Load()
	require.NoError(t, err)
	require.Contains(t, loaded, "inst-1")
	require.Equal(t, "/tmp/x", loaded["inst-1"].Config.WorkDir)

	summaries, err := reg.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	require.NoError(t, reg.Delete("inst-1"))
	loaded, err = reg.Load()
	require.NoError(t, err)
	require.NotContains(t, loaded, "inst-1")
}

func TestRegistryLoadMissingFileIsEmpty(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "does-not-exist.json"))
	loaded, err := reg.Load()
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestRegistryDeleteIdempotent(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "registry.json"))
	require.NoError(t, reg.Delete("never-existed"))
	require.NoError(t, reg.Delete("never-existed"))
}
