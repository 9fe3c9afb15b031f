package seccomp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isobox/isobox/types"
)

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func TestAllowSetNeverContainsBlockedAlways(t *testing.T) {
	for _, profile := range []types.SeccompProfile{
		types.ProfileDefault, types.ProfilePython, types.ProfileJava,
		types.ProfileJavaScript, types.ProfileC, types.ProfileGo, types.ProfileRust,
	} {
		allow := AllowSet(profile)
		for _, blocked := range BlockedAlways() {
			require.False(t, containsStr(allow, blocked), "profile %s allows blocked syscall %s", profile, blocked)
		}
	}
}

func TestAllowSetIncludesBase(t *testing.T) {
	allow := AllowSet(types.ProfileDefault)
	require.True(t, containsStr(allow, "read"))
	require.True(t, containsStr(allow, "write"))
	require.True(t, containsStr(allow, "exit_group"))
}

func TestProfileAdditionsExtendBase(t *testing.T) {
	allow := AllowSet(types.ProfileJava)
	require.True(t, containsStr(allow, "set_robust_list"))
	require.True(t, containsStr(allow, "rseq"))
}

func TestBlockedAlwaysIsStable(t *testing.T) {
	blocked := BlockedAlways()
	require.Contains(t, blocked, "execve")
	require.Contains(t, blocked, "ptrace")
	require.Contains(t, blocked, "clone3")
}
