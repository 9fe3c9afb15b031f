package jail

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePathRejectsTraversal(t *testing.T) {
	require.Error(t, ValidatePath("../../etc/passwd", "/work/box"))
}

func TestValidatePathRejectsForbiddenPrefixes(t *testing.T) {
	for _, p := range []string{"/proc/self/mem", "/sys/class", "/dev/sda", "/etc/shadow"} {
		require.Error(t, ValidatePath(p, "/work/box"), p)
	}
}

func TestValidatePathRejectsEscapeFromWorkdir(t *testing.T) {
	require.Error(t, ValidatePath("/other/place", "/work/box"))
}

func TestValidatePathAllowsInsideWorkdir(t *testing.T) {
	require.NoError(t, ValidatePath("/work/box/input.txt", "/work/box"))
	require.NoError(t, ValidatePath("input.txt", "/work/box"))
}

func TestValidateHostSourceAllowsArbitraryHostPath(t *testing.T) {
	require.NoError(t, ValidateHostSource("/home/user/solution.py"))
	require.NoError(t, ValidateHostSource("/tmp/submission/main.c"))
}

func TestValidateHostSourceRejectsTraversal(t *testing.T) {
	require.Error(t, ValidateHostSource("../../etc/passwd"))
}

func TestValidateHostSourceRejectsForbiddenPrefixes(t *testing.T) {
	for _, p := range []string{"/proc/self/mem", "/sys/class", "/dev/sda", "/etc/shadow"} {
		require.Error(t, ValidateHostSource(p), p)
	}
}
