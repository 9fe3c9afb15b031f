// Package seccomp compiles the syscall filter: a deny-by-default
// allowlist installed via libseccomp-golang when available, layered over
// an always-installed native raw-BPF fallback that unconditionally kills
// the blocked-always set even without the library.
package seccomp

import "github.com/isobox/isobox/types"

// baseAllow is unioned with a profile's additions to form one run's
// allowlist. Subtracting blockedAlways always happens last, so no profile
// can re-allow a blocked syscall by accident.
var baseAllow = []string{
	"read", "write", "readv", "writev", "pread64", "pwrite64", "lseek",
	"dup", "dup2", "close", "fcntl", "ioctl",
	"fstat", "newfstatat", "statx", "openat",
	"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
	"clock_gettime", "gettimeofday", "nanosleep", "clock_nanosleep",
	"futex", "sched_yield", "getrandom",
	"uname", "arch_prctl",
	"eventfd2", "signalfd4", "timerfd_create", "timerfd_settime", "timerfd_gettime",
	"inotify_init1", "inotify_add_watch", "inotify_rm_watch",
	"exit", "exit_group",
	"getpid", "getuid", "getgid", "geteuid", "getegid",
	"brk", "mmap", "munmap", "mprotect", "madvise",
}

// blockedAlways is subtracted from every profile's allow set, regardless
// of what the profile adds — the syscall-filter monotonicity invariant.
var blockedAlways = []string{
	"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
	"sendto", "recvfrom", "sendmsg", "recvmsg", "shutdown",
	"fork", "vfork", "clone", "clone3", "execve", "execveat",
	"setuid", "setgid", "setreuid", "setregid", "setresuid", "setresgid", "capset",
	"ptrace", "process_vm_readv", "process_vm_writev",
	"mount", "umount2", "pivot_root", "chroot", "reboot", "kexec_load",
	"init_module", "finit_module", "delete_module",
	"bpf", "seccomp",
	"sendfile", "splice", "tee", "copy_file_range",
}

// profileAdditions are the per-language extensions to baseAllow. Profiles
// never get to remove anything from blockedAlways.
var profileAdditions = map[types.SeccompProfile][]string{
	types.ProfileDefault:    {},
	types.ProfilePython:     {"sigaltstack"},
	types.ProfileJava:       {"set_robust_list", "rseq", "membarrier", "sigaltstack"},
	types.ProfileJavaScript: {"epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait", "sigaltstack"},
	types.ProfileC:          {},
	types.ProfileGo:         {"rseq", "sigaltstack", "clone"}, // see note below; clone is re-subtracted
	types.ProfileRust:       {"sigaltstack"},
}

// AllowSet returns the final allow list for a profile: base ∪ additions,
// minus blockedAlways subtracted last. Go's runtime issues its own
// internal clone for the threads it starts before the filter is ever
// installed (pre-exec, in the parent's namespace setup), so listing
// "clone" in ProfileGo's additions above is intentionally inert — it
// still gets removed here, documenting that no profile can re-open it.
func AllowSet(profile types.SeccompProfile) []string {
	allow := make(map[string]struct{}, len(baseAllow))
	for _, s := range baseAllow {
		allow[s] = struct{}{}
	}
	for _, s := range profileAdditions[profile] {
		allow[s] = struct{}{}
	}
	for _, s := range blockedAlways {
		delete(allow, s)
	}

	out := make([]string, 0, len(allow))
	for s := range allow {
		out = append(out, s)
	}
	return out
}

// BlockedAlways exposes the always-blocked set for the native fallback
// and for tests asserting the monotonicity invariant.
func BlockedAlways() []string {
	out := make([]string, len(blockedAlways))
	copy(out, blockedAlways)
	return out
}
