// Package nsjail builds the clone flags and pre-exec setup for the
// namespace isolator: unshare order, identity mappings for an optional
// user namespace, and loopback bring-up. It provides no SIGCHLD reaper:
// the target program itself becomes PID 1 of its own PID namespace.
package nsjail

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/isobox/isobox/isoerr"
)

// SetupIDMappings configures /proc/<pid>/{setgroups,uid_map,gid_map} for a
// child created in a new user namespace, writing identity maps *before*
// any UID/GID change in the child, per the namespace isolator's ordering
// requirement. Privileged callers get a simple 0->host-uid identity map;
// unprivileged callers fall back to newuidmap/newgidmap over the
// configured subuid/subgid ranges.
func SetupIDMappings(childPID int) error {
	if childPID <= 0 {
		return isoerr.WrapWithDetail(nil, isoerr.Namespace, "SetupIDMappings", fmt.Sprintf("invalid child pid: %d", childPID))
	}

	euid := os.Geteuid()
	egid := os.Getegid()

	setgroupsPath := fmt.Sprintf("/proc/%d/setgroups", childPID)
	uidMapPath := fmt.Sprintf("/proc/%d/uid_map", childPID)
	gidMapPath := fmt.Sprintf("/proc/%d/gid_map", childPID)

	// setgroups must be "deny" before gid_map is writable by an
	// unprivileged mapper on modern kernels.
	_ = os.WriteFile(setgroupsPath, []byte("deny"), 0o644)

	if euid == 0 {
		if err := writeMap(uidMapPath, 0, 0, 1); err != nil {
			return isoerr.Wrap(err, isoerr.Namespace, "write uid_map")
		}
		if err := writeMap(gidMapPath, 0, 0, 1); err != nil {
			return isoerr.Wrap(err, isoerr.Namespace, "write gid_map")
		}
		return nil
	}

	newUIDMap, errUID := exec.LookPath("newuidmap")
	newGIDMap, errGID := exec.LookPath("newgidmap")
	if errUID != nil || errGID != nil {
		return isoerr.WrapWithDetail(nil, isoerr.Namespace, "SetupIDMappings",
			"rootless ID mapping requires newuidmap/newgidmap (shadow-utils); install them or run as root")
	}

	usr, err := user.Current()
	if err != nil {
		return isoerr.Wrap(err, isoerr.Namespace, "user.Current")
	}

	subUIDStart, subUIDLen, err := firstSubidRange("/etc/subuid", usr.Username)
	if err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Namespace, "SetupIDMappings",
			"configure /etc/subuid (e.g. 'USERNAME:100000:65536') or run as root")
	}
	subGIDStart, subGIDLen, err := firstSubidRange("/etc/subgid", usr.Username)
	if err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Namespace, "SetupIDMappings",
			"configure /etc/subgid (e.g. 'USERNAME:100000:65536') or run as root")
	}

	uidArgs := []string{
		strconv.Itoa(childPID),
		"0", strconv.Itoa(subUIDStart), strconv.Itoa(subUIDLen),
		strconv.Itoa(euid), strconv.Itoa(euid), "1",
	}
	gidArgs := []string{
		strconv.Itoa(childPID),
		"0", strconv.Itoa(subGIDStart), strconv.Itoa(subGIDLen),
		strconv.Itoa(egid), strconv.Itoa(egid), "1",
	}

	if out, err := exec.Command(newUIDMap, uidArgs...).CombinedOutput(); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Namespace, "newuidmap", string(out))
	}
	if out, err := exec.Command(newGIDMap, gidArgs...).CombinedOutput(); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Namespace, "newgidmap", string(out))
	}
	return nil
}

func writeMap(path string, inside, outside, length int) error {
	line := fmt.Sprintf("%d %d %d\n", inside, outside, length)
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(line), 0o644)
}

func firstSubidRange(file, username string) (start, length int, err error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 3 || parts[0] != username {
			continue
		}
		start64, err1 := strconv.ParseInt(parts[1], 10, 64)
		len64, err2 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil || start64 < 0 || len64 <= 0 {
			continue
		}
		return int(start64), int(len64), nil
	}
	if err := sc.Err(); err != nil {
		return 0, 0, fmt.Errorf("scan %s: %w", file, err)
	}
	return 0, 0, fmt.Errorf("no %s entry for user %q", filepath.Base(file), username)
}
