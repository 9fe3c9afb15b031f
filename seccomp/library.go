//go:build linux && seccomp

package seccomp

import (
	"github.com/seccomp/libseccomp-golang"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/types"
)

// HasLibrary reports that this build was compiled with the libseccomp
// dependency, so Install layers the rich allowlist on top of the native
// fallback.
const HasLibrary = true

// installLibraryFilter compiles and loads a deny-by-default filter: every
// syscall not in AllowSet(profile) returns SECCOMP_RET_KILL_PROCESS. The
// blocked-always set is never added, since AllowSet already subtracted it.
func installLibraryFilter(profile types.SeccompProfile) error {
	filter, err := seccomp.NewFilter(seccomp.ActKillProcess)
	if err != nil {
		return isoerr.Wrap(err, isoerr.Seccomp, "NewFilter")
	}
	defer filter.Release()

	if err := filter.SetNoNewPrivsBit(true); err != nil {
		return isoerr.Wrap(err, isoerr.Seccomp, "SetNoNewPrivsBit")
	}

	for _, name := range AllowSet(profile) {
		call, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			// Syscall unknown on this arch/libseccomp version; skip
			// rather than fail the whole profile.
			continue
		}
		if err := filter.AddRule(call, seccomp.ActAllow); err != nil {
			return isoerr.WrapWithDetail(err, isoerr.Seccomp, "AddRule", name)
		}
	}

	// prctl is never in the base allow set; a profile that needs it must
	// allow it explicitly and still loses the NO_NEW_PRIVS-disable case.
	if call, err := seccomp.GetSyscallFromName("prctl"); err == nil {
		noNewPrivs := 38 // PR_SET_NO_NEW_PRIVS
		cond, err := seccomp.MakeCondition(0, seccomp.CompareEqual, uint64(noNewPrivs))
		if err == nil {
			_ = filter.AddRuleConditional(call, seccomp.ActKillProcess, []seccomp.ScmpCondition{cond})
		}
	}

	if err := filter.Load(); err != nil {
		return isoerr.Wrap(err, isoerr.Seccomp, "Load")
	}
	return nil
}
