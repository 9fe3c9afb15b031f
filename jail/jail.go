// Package jail builds the minimal chroot tree the filesystem confinement
// component requires: proc/dev/tmp/box directories, a bind-mounted
// workdir hardened with MS_NOSUID|MS_NODEV(|MS_NOEXEC), and the final
// chroot+chdir that puts the child's CWD at /box.
package jail

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
)

// Opts configures one jail build.
type Opts struct {
	ChrootDir     string
	WorkDir       string
	AllowJailExec bool
}

const (
	dirMode = 0o755
)

// Build constructs the chroot tree under opts.ChrootDir: proc, dev, tmp,
// and box directories, proc mounted, dev populated with the device
// allowlist, and workdir bind-mounted onto box with hardening flags. It
// does not chroot — call Enter separately, once this is the last mount
// operation before execve per the installation-point ordering the
// syscall filter component depends on.
func Build(opts Opts) error {
	for _, name := range []string{"proc", "dev", "tmp", "box"} {
		dir := filepath.Join(opts.ChrootDir, name)
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return isoerr.WrapWithDetail(err, isoerr.Filesystem, "mkdir", dir)
		}
	}

	if err := MountProc(opts.ChrootDir); err != nil {
		return err
	}
	if err := MountDev(opts.ChrootDir); err != nil {
		return err
	}
	if err := mountTmp(opts.ChrootDir); err != nil {
		return err
	}
	if err := bindWorkdir(opts); err != nil {
		return err
	}
	return nil
}

func mountTmp(chrootDir string) error {
	tmp := filepath.Join(chrootDir, "tmp")
	if err := unix.Mount("tmpfs", tmp, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "mode=1777"); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "mount tmpfs", tmp)
	}
	return nil
}

// bindWorkdir bind-mounts WorkDir onto <chroot>/box, then remounts it
// read-write but hardened: MS_NOSUID | MS_NODEV always, MS_NOEXEC unless
// the configuration explicitly permits executing jail contents.
func bindWorkdir(opts Opts) error {
	box := filepath.Join(opts.ChrootDir, "box")

	if err := unix.Mount(opts.WorkDir, box, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "bind mount workdir", box)
	}

	remountFlags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_NOSUID | unix.MS_NODEV)
	if !opts.AllowJailExec {
		remountFlags |= unix.MS_NOEXEC
	}
	if err := unix.Mount("", box, "", remountFlags, ""); err != nil {
		return isoerr.WrapWithDetail(err, isoerr.Filesystem, "remount workdir hardened", box)
	}
	return nil
}

// Enter performs the final chroot(2) + chdir("/box"), the last step of
// the filesystem jail's construction sequence.
func Enter(chrootDir string) error {
	if err := unix.Chroot(chrootDir); err != nil {
		return isoerr.Wrap(err, isoerr.Filesystem, "chroot")
	}
	if err := unix.Chdir("/box"); err != nil {
		return isoerr.Wrap(err, isoerr.Filesystem, "chdir /box")
	}
	return nil
}

// Teardown unmounts everything Build mounted, in reverse order,
// best-effort: every mount point is attempted even if earlier ones fail.
func Teardown(chrootDir string) error {
	var firstErr error
	for _, name := range []string{"box", "tmp", "dev/shm", "dev/pts", "dev/null", "dev/zero", "dev/urandom", "dev/random", "dev/full", "dev/tty", "dev", "proc"} {
		path := filepath.Join(chrootDir, name)
		if err := unix.Unmount(path, unix.MNT_DETACH); err != nil && firstErr == nil {
			firstErr = isoerr.WrapWithDetail(err, isoerr.Filesystem, "unmount", path)
		}
	}
	return firstErr
}
