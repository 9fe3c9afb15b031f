package isoerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, Cgroup, "create")
	require.ErrorIs(t, err, cause)

	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, Cgroup, e.Kind)
}

func TestIsMatchesOnKind(t *testing.T) {
	err := WrapWithDetail(nil, Namespace, "unshare", "pid namespace denied")
	require.True(t, errors.Is(err, &Error{Kind: Namespace}))
	require.False(t, errors.Is(err, &Error{Kind: Seccomp}))
}

func TestLockReasonMatching(t *testing.T) {
	err := WrapLock(nil, LockBusy, "acquire", "instance busy")
	require.True(t, errors.Is(err, &Error{Kind: Lock, LockReason: LockBusy}))
	require.False(t, errors.Is(err, &Error{Kind: Lock, LockReason: LockStale}))
}

func TestErrorStringIncludesLockReason(t *testing.T) {
	err := WrapLock(nil, LockBusy, "acquire", "")
	require.Contains(t, err.Error(), "Busy")
}
