package nsjail

import (
	"syscall"

	"github.com/isobox/isobox/types"
)

// CloneFlags computes the CLONE_NEW* flags the child is created with,
// applying the engine's default ordering (mount, network, pid, then
// optionally user) entirely through the kernel's own clone() handling of
// combined namespace flags — Go's os/exec starts the child with all
// requested namespaces already active, so there is no separate "create
// namespace" step to sequence at the call site; what remains orderable is
// the *finalization* work done inside the child (FinalizeMountNamespace,
// BringUpLoopback, user-ID mapping) which nsjail's callers must invoke in
// that order.
func CloneFlags(ns types.NamespaceConfig) uintptr {
	var flags uintptr
	if ns.Mount {
		flags |= syscall.CLONE_NEWNS
	}
	if ns.Network {
		flags |= syscall.CLONE_NEWNET
	}
	if ns.PID {
		flags |= syscall.CLONE_NEWPID
	}
	if ns.User {
		flags |= syscall.CLONE_NEWUSER
	}
	return flags
}

// BuildSysProcAttr assembles the SysProcAttr for the re-exec'd child: new
// namespaces per ns, its own process group (so the whole descendant tree
// can be signalled atomically on teardown), and a parent-death signal as
// a backstop against orphaning if the parent itself is killed.
func BuildSysProcAttr(ns types.NamespaceConfig) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Cloneflags:   CloneFlags(ns),
		Setpgid:      true,
		Pdeathsig:    syscall.SIGKILL,
		GidMappingsEnableSetgroups: false,
	}
}
