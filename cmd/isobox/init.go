//go:build linux

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/caps"
	"github.com/isobox/isobox/jail"
	"github.com/isobox/isobox/nsjail"
	"github.com/isobox/isobox/runner"
	"github.com/isobox/isobox/seccomp"
)

// initArg must match runner.Spawn's re-exec argument exactly; it is never
// advertised in the CLI's command list.
const initArg = "__init"

// fd numbers the parent wires via cmd.ExtraFiles, in order.
const (
	configFD = 3
	syncFD   = 4
	errnoFD  = 5
)

// runInit is the child-side pre-exec sequence: decode the spec, wait for
// the parent to attach this process to its cgroups, finalize the
// namespaces, build and enter the filesystem jail, drop privileges,
// install the syscall filter, and execve the target. A setup failure
// before the target binary is resolved is reported over the errno pipe
// (see fail), so the parent can tell "the sandbox never came up" apart
// from a normal exit; a failure to resolve or execve the target is not
// (see failExec).
func runInit() {
	configFile := os.NewFile(uintptr(configFD), "config")
	spec, err := runner.DecodeChildSpec(configFile)
	if err != nil {
		fail(fmtErr("decode child spec", err))
	}
	_ = configFile.Close()

	if err := nsjail.WaitForParent(syncFD); err != nil {
		fail(fmtErr("wait for parent release", err))
	}

	if spec.Namespaces.Mount {
		if err := nsjail.FinalizeMountNamespace(); err != nil {
			fail(fmtErr("finalize mount namespace", err))
		}
	}

	if spec.EnableNetwork && spec.Namespaces.Network {
		if err := nsjail.BringUpLoopback(); err != nil {
			fail(fmtErr("bring up loopback", err))
		}
	}

	if err := jail.Build(jail.Opts{ChrootDir: spec.ChrootDir, WorkDir: spec.WorkDir, AllowJailExec: spec.AllowJailExec}); err != nil {
		fail(fmtErr("build jail", err))
	}
	if err := jail.Enter(spec.ChrootDir); err != nil {
		fail(fmtErr("enter jail", err))
	}

	if spec.GID != nil {
		if err := syscall.Setresgid(*spec.GID, *spec.GID, *spec.GID); err != nil {
			fail(fmtErr("setresgid", err))
		}
	}
	if spec.UID != nil {
		if err := syscall.Setresuid(*spec.UID, *spec.UID, *spec.UID); err != nil {
			fail(fmtErr("setresuid", err))
		}
	}

	if err := (caps.Opts{}).Apply(); err != nil {
		fail(fmtErr("apply capabilities", err))
	}

	if err := seccomp.Install(spec.SeccompProfile); err != nil {
		fail(fmtErr("install seccomp filter", err))
	}

	if len(spec.Argv) == 0 {
		failExec("empty argv")
	}
	bin, err := resolveInPath(spec.Argv[0], spec.Env)
	if err != nil {
		failExec(fmtErr("resolve binary", err))
	}

	err = unix.Exec(bin, spec.Argv, spec.Env)
	// unix.Exec only returns on failure.
	failExec(fmtErr("execve", err))
}

// fail reports a pre-exec setup failure (everything before the binary is
// resolved) over the errno pipe and exits 126, so the parent's
// WaitPreExecError surfaces it as an InternalError: the sandbox itself
// never came up, independent of anything the target program could have
// done.
func fail(msg string) {
	nsjail.SignalError(errnoFD, msg)
	os.Exit(126)
}

// failExec reports a "binary not found" / execve failure the way a shell
// would: write the reason to stderr and exit 127, without touching the
// errno pipe. The parent observes a normal exit(127) through Cmd.Wait,
// which classify reports as RuntimeError, not InternalError — the jail
// came up fine, the requested program just didn't run.
func failExec(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(127)
}

func fmtErr(op string, err error) string {
	return op + ": " + err.Error()
}

// resolveInPath searches childEnv's PATH (falling back to a conservative
// default) for name, evaluated against the filesystem the caller is
// already chrooted into. Absolute and explicitly relative paths
// (containing a slash) are used as-is, matching execve's own semantics.
func resolveInPath(name string, childEnv []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}

	path := "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	for _, kv := range childEnv {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
			break
		}
	}

	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if st, err := os.Stat(candidate); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", os.ErrNotExist
}
