package seccomp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildNativeProgramEndsInAllow(t *testing.T) {
	prog := buildNativeProgram()
	require.NotEmpty(t, prog)
	last := prog[len(prog)-1]
	require.Equal(t, uint16(bpfRet|bpfK), last.Code)
	require.EqualValues(t, seccompRetAllow, last.K)
}

func TestBuildNativeProgramKillsEveryBlockedSyscall(t *testing.T) {
	prog := buildNativeProgram()
	killTargets := 0
	for _, instr := range prog {
		if instr.Code == bpfRet|bpfK && instr.K == seccompRetKillProcess {
			killTargets++
		}
	}
	// one kill for the arch mismatch, one per resolvable blocked syscall.
	require.Equal(t, len(BlockedAlways())+1, killTargets)
}
