package jail

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
)

// devAllowlist names the device nodes bind-mounted into the jail's /dev.
// The spec's minimum is null, zero, urandom; tty, full, and random are
// carried over from the teacher's broader allowlist because language
// runtimes commonly probe /dev/tty and disk-full simulation needs
// /dev/full.
var devAllowlist = []string{"null", "zero", "urandom", "random", "full", "tty"}

// MountDev populates <chroot>/dev via bind mounts of host device nodes,
// never mknod, which may itself be blocked by the syscall filter or
// denied by CAP_MKNOD restrictions.
func MountDev(chrootDir string) error {
	dev := filepath.Join(chrootDir, "dev")
	if err := unix.Mount("tmpfs", dev, "tmpfs", unix.MS_NOSUID, "mode=0755"); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "mount dev tmpfs", dev)
	}

	for _, name := range devAllowlist {
		if err := bindDevice(dev, name); err != nil {
			return err
		}
	}
	return nil
}

func bindDevice(devDir, name string) error {
	host := filepath.Join("/dev", name)
	if _, err := os.Stat(host); err != nil {
		// Host is missing this node (unusual but not fatal); skip it.
		return nil
	}
	target := filepath.Join(devDir, name)
	if err := os.WriteFile(target, nil, 0o644); err != nil && !os.IsExist(err) {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "create device mount point", target)
	}
	if err := unix.Mount(host, target, "", unix.MS_BIND, ""); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "bind mount device", target)
	}
	return nil
}
