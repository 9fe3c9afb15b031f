package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var c IsolateConfig
	c.Defaults()
	require.Equal(t, 10*time.Second, c.CPUTimeLimit)
	require.Equal(t, 20*time.Second, c.WallTimeLimit)
	require.Equal(t, 1, c.ProcessLimit)
	require.EqualValues(t, 64*1024*1024, c.FileSizeLimitBytes)
	require.Equal(t, ProfileDefault, c.SeccompProfile)
	require.Equal(t, DefaultNamespaceConfig(), c.Namespaces)
}

func TestDefaultsPreservesSetFields(t *testing.T) {
	c := IsolateConfig{ProcessLimit: 4, Namespaces: NamespaceConfig{PID: true}}
	c.Defaults()
	require.Equal(t, 4, c.ProcessLimit)
	require.Equal(t, NamespaceConfig{PID: true}, c.Namespaces)
}

func TestOverridesApply(t *testing.T) {
	cfg := IsolateConfig{CPUTimeLimit: 10 * time.Second, MemoryLimitBytes: 1024}
	cpu := 5 * time.Second
	mem := uint64(2048)
	out := Overrides{CPUTimeLimit: &cpu, MemoryLimit: &mem}.Apply(cfg)
	require.Equal(t, 5*time.Second, out.CPUTimeLimit)
	require.EqualValues(t, 2048, out.MemoryLimitBytes)
	require.Equal(t, time.Duration(0), out.WallTimeLimit)
}

func TestStatusExitCode(t *testing.T) {
	cases := []struct {
		status Status
		exit   int
		want   int
	}{
		{StatusSuccess, 0, 0},
		{StatusRuntimeError, 0, 1},
		{StatusRuntimeError, 42, 42},
		{StatusTimeLimit, 0, 2},
		{StatusMemoryLimit, 0, 3},
		{StatusSecurityViolation, 0, 4},
		{StatusInternalError, 0, 5},
		{StatusProcessLimit, 0, 1},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.status.ExitCode(tc.exit), tc.status)
	}
}

func TestExecutionResultFinalize(t *testing.T) {
	r := ExecutionResult{Status: StatusSuccess}
	r.Finalize()
	require.True(t, r.Success)

	r2 := ExecutionResult{Status: StatusTimeLimit}
	r2.Finalize()
	require.False(t, r2.Success)
}

func TestEnvVarsToStringArray(t *testing.T) {
	e := EnvVars{{Name: "PATH", Value: "/bin"}, {Name: "HOME", Value: "/box"}}
	require.Equal(t, []string{"PATH=/bin", "HOME=/box"}, e.ToStringArray())
}
