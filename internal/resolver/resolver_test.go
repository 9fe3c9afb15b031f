package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePython(t *testing.T) {
	argv, err := Resolve("/box/main.py")
	require.NoError(t, err)
	require.Equal(t, []string{"python3", "/box/main.py"}, argv)
}

func TestResolveCCompilesThenRuns(t *testing.T) {
	argv, err := Resolve("/box/main.c")
	require.NoError(t, err)
	require.Equal(t, "sh", argv[0])
	require.Contains(t, argv[2], "gcc")
	require.Contains(t, argv[2], "/box/main.bin")
}

func TestResolveUnknownExtension(t *testing.T) {
	_, err := Resolve("/box/data.xyz")
	require.Error(t, err)
}

func TestProfileForMatchesResolve(t *testing.T) {
	require.Equal(t, "python", ProfileFor("/box/a.py"))
	require.Equal(t, "default", ProfileFor("/box/a.xyz"))
}
