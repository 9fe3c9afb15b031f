package jail

import (
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
)

// maskedProcPaths are masked with a bind mount from /dev/null, defense in
// depth beyond the spec's single required proc mount: these expose kernel
// internals or let a process trigger a host-wide reboot/crash even from
// inside a PID namespace.
var maskedProcPaths = []string{
	"proc/kcore",
	"proc/keys",
	"proc/sysrq-trigger",
	"proc/sys/kernel/core_pattern",
}

// MountProc mounts a fresh procfs at <chroot>/proc — inside the child's
// own PID namespace, so the view it presents is already isolated — then
// masks a handful of sensitive files.
func MountProc(chrootDir string) error {
	proc := filepath.Join(chrootDir, "proc")
	if err := unix.Mount("proc", proc, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "mount proc", proc)
	}

	for _, rel := range maskedProcPaths {
		target := filepath.Join(chrootDir, rel)
		// Best-effort: absence of a path under /proc (kernel build
		// without it) is not an error.
		_ = unix.Mount("/dev/null", target, "", unix.MS_BIND, "")
	}
	return nil
}
