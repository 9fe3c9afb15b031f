//go:build linux

package seccomp

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/isobox/isobox/isoerr"
)

// This file hand-rolls the raw-BPF program SECCOMP_SET_MODE_FILTER needs,
// without depending on libseccomp. It is installed unconditionally —
// library or no library — as the baseline layer that kills the
// blocked-always set; the rich per-profile allowlist from library.go (when
// built with the seccomp tag) stacks a second, stricter filter on top. The
// kernel evaluates every loaded filter for a syscall and applies whichever
// returns the most restrictive action, so stacking only ever narrows what
// is permitted.

const (
	bpfLd  = 0x00
	bpfJmp = 0x05
	bpfRet = 0x06

	bpfW   = 0x00
	bpfAbs = 0x20
	bpfJeq = 0x10
	bpfK   = 0x00

	seccompRetKillProcess = 0x80000000
	seccompRetAllow       = 0x7fff0000

	auditArchX86_64 = 0xc000003e

	prSetNoNewPrivs = 38
	prSetSeccomp    = 22
	seccompModeFilter = 2

	// offsets into struct seccomp_data on x86_64.
	seccompDataNrOffset   = 0
	seccompDataArchOffset = 4
)

type sockFilter struct {
	Code uint16
	Jt   uint8
	Jf   uint8
	K    uint32
}

type sockFprog struct {
	Len    uint16
	_      [6]byte // padding to match the kernel's pointer alignment
	Filter *sockFilter
}

func stmt(code uint16, k uint32) sockFilter {
	return sockFilter{Code: code, K: k}
}

func jump(code uint16, k uint32, jt, jf uint8) sockFilter {
	return sockFilter{Code: code, Jt: jt, Jf: jf, K: k}
}

// syscallNumberByName resolves the names in BlockedAlways() to this arch's
// syscall numbers via golang.org/x/sys/unix's SYS_* constants, the same
// source of truth the rest of the module uses for raw syscalls.
var syscallNumberByName = map[string]uint32{
	"socket": unix.SYS_SOCKET, "socketpair": unix.SYS_SOCKETPAIR,
	"connect": unix.SYS_CONNECT, "bind": unix.SYS_BIND,
	"listen": unix.SYS_LISTEN, "accept": unix.SYS_ACCEPT, "accept4": unix.SYS_ACCEPT4,
	"sendto": unix.SYS_SENDTO, "recvfrom": unix.SYS_RECVFROM,
	"sendmsg": unix.SYS_SENDMSG, "recvmsg": unix.SYS_RECVMSG, "shutdown": unix.SYS_SHUTDOWN,
	"fork": unix.SYS_FORK, "vfork": unix.SYS_VFORK, "clone": unix.SYS_CLONE,
	"clone3": unix.SYS_CLONE3, "execve": unix.SYS_EXECVE, "execveat": unix.SYS_EXECVEAT,
	"setuid": unix.SYS_SETUID, "setgid": unix.SYS_SETGID,
	"setreuid": unix.SYS_SETREUID, "setregid": unix.SYS_SETREGID,
	"setresuid": unix.SYS_SETRESUID, "setresgid": unix.SYS_SETRESGID, "capset": unix.SYS_CAPSET,
	"ptrace": unix.SYS_PTRACE,
	"process_vm_readv": unix.SYS_PROCESS_VM_READV, "process_vm_writev": unix.SYS_PROCESS_VM_WRITEV,
	"mount": unix.SYS_MOUNT, "umount2": unix.SYS_UMOUNT2, "pivot_root": unix.SYS_PIVOT_ROOT,
	"chroot": unix.SYS_CHROOT, "reboot": unix.SYS_REBOOT, "kexec_load": unix.SYS_KEXEC_LOAD,
	"init_module": unix.SYS_INIT_MODULE, "finit_module": unix.SYS_FINIT_MODULE,
	"delete_module": unix.SYS_DELETE_MODULE,
	"bpf": unix.SYS_BPF, "seccomp": unix.SYS_SECCOMP,
	"sendfile": unix.SYS_SENDFILE, "splice": unix.SYS_SPLICE, "tee": unix.SYS_TEE,
	"copy_file_range": unix.SYS_COPY_FILE_RANGE,
}

// buildNativeProgram assembles: load arch, verify x86_64 (kill on
// mismatch — blocks 32-bit syscall-entry confusion attacks), load syscall
// nr, then for each blocked syscall a compare-and-kill, and a final
// default ALLOW.
func buildNativeProgram() []sockFilter {
	names := BlockedAlways()
	prog := make([]sockFilter, 0, len(names)*2+4)

	prog = append(prog,
		stmt(bpfLd|bpfW|bpfAbs, seccompDataArchOffset),
		jump(bpfJmp|bpfJeq|bpfK, auditArchX86_64, 1, 0),
	)
	// jt=1 means "skip the immediately following kill", i.e. arch matched
	// falls through; mismatch falls into the kill directly below.
	prog = append(prog, stmt(bpfRet|bpfK, seccompRetKillProcess))

	prog = append(prog, stmt(bpfLd|bpfW|bpfAbs, seccompDataNrOffset))

	for _, name := range names {
		nr, ok := syscallNumberByName[name]
		if !ok {
			continue
		}
		// jt=0 (fall through to kill), jf=1 (skip the kill, try next).
		prog = append(prog, jump(bpfJmp|bpfJeq|bpfK, nr, 0, 1))
		prog = append(prog, stmt(bpfRet|bpfK, seccompRetKillProcess))
	}

	prog = append(prog, stmt(bpfRet|bpfK, seccompRetAllow))
	return prog
}

// installNativeFilter sets PR_SET_NO_NEW_PRIVS then loads the raw BPF
// program via SECCOMP_SET_MODE_FILTER, without any library dependency.
func installNativeFilter() error {
	if _, _, errno := unix.Syscall(unix.SYS_PRCTL, prSetNoNewPrivs, 1, 0); errno != 0 {
		return isoerr.WrapWithDetail(errno, isoerr.Seccomp, "prctl", "PR_SET_NO_NEW_PRIVS")
	}

	program := buildNativeProgram()
	fprog := sockFprog{
		Len:    uint16(len(program)),
		Filter: &program[0],
	}

	if _, _, errno := unix.Syscall(unix.SYS_PRCTL, prSetSeccomp, seccompModeFilter, uintptr(unsafe.Pointer(&fprog))); errno != 0 {
		return isoerr.WrapWithDetail(errno, isoerr.Seccomp, "prctl", "PR_SET_SECCOMP")
	}
	return nil
}
