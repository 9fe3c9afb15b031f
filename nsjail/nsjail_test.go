package nsjail

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isobox/isobox/types"
)

func TestCloneFlagsDefaults(t *testing.T) {
	flags := CloneFlags(types.DefaultNamespaceConfig())
	require.NotZero(t, flags&syscall.CLONE_NEWNS)
	require.NotZero(t, flags&syscall.CLONE_NEWNET)
	require.NotZero(t, flags&syscall.CLONE_NEWPID)
	require.Zero(t, flags&syscall.CLONE_NEWUSER)
}

func TestCloneFlagsUserNamespace(t *testing.T) {
	flags := CloneFlags(types.NamespaceConfig{User: true})
	require.NotZero(t, flags&syscall.CLONE_NEWUSER)
	require.Zero(t, flags&syscall.CLONE_NEWNS)
}

func TestBuildSysProcAttrSetsProcessGroup(t *testing.T) {
	attr := BuildSysProcAttr(types.DefaultNamespaceConfig())
	require.True(t, attr.Setpgid)
	require.Equal(t, syscall.SIGKILL, attr.Pdeathsig)
}

func TestFirstSubidRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subuid")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nbob:100000:65536\nalice:200000:65536\n"), 0o644))

	start, length, err := firstSubidRange(path, "alice")
	require.NoError(t, err)
	require.Equal(t, 200000, start)
	require.Equal(t, 65536, length)

	_, _, err = firstSubidRange(path, "nobody")
	require.Error(t, err)
}

func TestSyncPipeRoundTrip(t *testing.T) {
	rfd, wfd, err := MakeSyncPipe()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- WaitForParent(rfd) }()

	require.NoError(t, SignalChild(wfd))
	require.NoError(t, <-done)
}

func TestErrnoPipeReportsFailure(t *testing.T) {
	p, err := NewErrnoPipe()
	require.NoError(t, err)

	SignalError(p.WriteFD(), "mount failed: EPERM")
	readErr := p.ReadError()
	require.Error(t, readErr)
	require.Contains(t, readErr.Error(), "mount failed")
}

func TestErrnoPipeSuccessIsNilOnClose(t *testing.T) {
	p, err := NewErrnoPipe()
	require.NoError(t, err)

	p.CloseWrite() // simulate execve closing the CLOEXEC write end
	require.NoError(t, p.ReadError())
}
