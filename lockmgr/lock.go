// Package lockmgr implements per-instance advisory locking and the
// host-global JSON registry, both guarded by flock and atomic
// temp-file-then-rename writes.
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

// DefaultLockDir is the well-known directory lock files live under.
const DefaultLockDir = "/var/run/isobox/locks"

// StaleAfter is the age threshold after which a lock record with no live
// holder may be taken over.
const StaleAfter = 5 * time.Minute

// InstanceLock is a held advisory exclusive lock on one instance's lock
// file, plus the record written into it.
type InstanceLock struct {
	path string
	file *os.File
}

func lockPath(lockDir, instanceID string) string {
	return filepath.Join(lockDir, instanceID)
}

// Acquire takes a non-blocking exclusive flock on the instance's lock
// file. On EWOULDBLOCK it checks for staleness (recorded PID not alive,
// and record older than StaleAfter) and allows takeover; otherwise it
// fails with LockBusy. A live record whose owner_uid differs from
// callerUID fails with PermissionDenied before any blocking attempt.
func Acquire(lockDir, instanceID string, callerUID int) (*InstanceLock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, isoerr.Wrap(err, isoerr.Io, "mkdir lockdir")
	}
	path := lockPath(lockDir, instanceID)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Io, "open lock file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			rec, readErr := readRecord(f)
			if readErr == nil && rec.OwnerUID != callerUID && isAlive(rec.PID) {
				_ = f.Close()
				return nil, isoerr.WrapLock(nil, isoerr.LockPermissionDenied, "Acquire",
					"lock is held by a different owner uid")
			}
			if readErr == nil && isStale(rec) {
				// Takeover: force the lock after confirming staleness.
				if takeoverErr := unix.Flock(int(f.Fd()), unix.LOCK_EX); takeoverErr != nil {
					_ = f.Close()
					return nil, isoerr.WrapLock(takeoverErr, isoerr.LockBusy, "Acquire", "stale takeover failed")
				}
				return &InstanceLock{path: path, file: f}, nil
			}
			_ = f.Close()
			return nil, isoerr.WrapLock(nil, isoerr.LockBusy, "Acquire", "instance is in use")
		}
		_ = f.Close()
		return nil, isoerr.Wrap(err, isoerr.Lock, "flock")
	}

	return &InstanceLock{path: path, file: f}, nil
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

func isStale(rec types.LockRecord) bool {
	if isAlive(rec.PID) {
		return false
	}
	return time.Since(rec.CreatedAt) > StaleAfter
}

func readRecord(f *os.File) (types.LockRecord, error) {
	var rec types.LockRecord
	if _, err := f.Seek(0, 0); err != nil {
		return rec, err
	}
	dec := json.NewDecoder(f)
	if err := dec.Decode(&rec); err != nil {
		return rec, err
	}
	if rec.Magic != types.LockMagic {
		return rec, isoerr.WrapWithDetail(nil, isoerr.Lock, "readRecord", "not a valid lock record")
	}
	return rec, nil
}

// WriteRecord overwrites the lock file's content with rec.
func (l *InstanceLock) WriteRecord(rec types.LockRecord) error {
	rec.Magic = types.LockMagic
	if err := l.file.Truncate(0); err != nil {
		return isoerr.Wrap(err, isoerr.Io, "truncate lock file")
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return isoerr.Wrap(err, isoerr.Io, "seek lock file")
	}
	enc := json.NewEncoder(l.file)
	if err := enc.Encode(rec); err != nil {
		return isoerr.Wrap(err, isoerr.Io, "encode lock record")
	}
	return l.file.Sync()
}

// ReadRecord returns the currently-stored record.
func (l *InstanceLock) ReadRecord() (types.LockRecord, error) {
	return readRecord(l.file)
}

// Release unlocks and closes the lock file, leaving it on disk (per-instance
// lock files persist between runs; Cleanup removes them explicitly).
func (l *InstanceLock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return isoerr.Wrap(err, isoerr.Lock, "unlock")
	}
	return l.file.Close()
}

// Remove releases the lock and deletes the lock file from disk, the final
// step of cleanup(id).
func (l *InstanceLock) Remove() error {
	if err := l.Release(); err != nil {
		return err
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return isoerr.Wrap(err, isoerr.Io, "remove lock file")
	}
	return nil
}
