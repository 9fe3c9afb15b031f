package runner

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isobox/isobox/cgroup"
	"github.com/isobox/isobox/types"
)

func testGroup(t *testing.T) *cgroup.Group {
	t.Helper()
	g, err := cgroup.New("runner-test-"+t.Name(), false)
	require.NoError(t, err)
	return g
}

// fakeGroup builds a Group against a throwaway directory instead of the
// real /sys/fs/cgroup, so a test can drive MemoryLimitReached/
// ProcessLimitReached by writing known counter values.
func fakeGroup(t *testing.T) *cgroup.Group {
	t.Helper()
	g, err := cgroup.NewWithRoot(t.TempDir(), "runner-test-"+t.Name(), true)
	require.NoError(t, err)
	return g
}

func writeCounter(t *testing.T, g *cgroup.Group, hierarchy, file, value string) {
	t.Helper()
	dir, ok := g.HierarchyDir(hierarchy)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(value), 0o644))
}

// fakeWaitErr mimics the Sys() interface{} method *exec.ExitError exposes
// (via the embedded *os.ProcessState) without needing a real process.
type fakeWaitErr struct {
	ws  syscall.WaitStatus
	msg string
}

func (e *fakeWaitErr) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return "wait error"
}
func (e *fakeWaitErr) Sys() interface{} { return e.ws }

func signaledErr(sig syscall.Signal) error {
	return &fakeWaitErr{ws: syscall.WaitStatus(sig)}
}

func exitedErr(code int) error {
	return &fakeWaitErr{ws: syscall.WaitStatus(uint32(code) << 8)}
}

func TestClassifySuccess(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonNone, exitedErr(0), nil, g, 0)
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, 0, *result.ExitCode)
}

func TestClassifyPreExecErrorIsInternalError(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonNone, nil, errBoom, g, 0)
	require.Equal(t, types.StatusInternalError, result.Status)
	require.Equal(t, errBoom.Error(), result.ErrorMessage)
}

func TestClassifyWallTimeout(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonWall, signaledErr(syscall.SIGKILL), nil, g, 0)
	require.Equal(t, types.StatusTimeLimit, result.Status)
	require.Equal(t, int(syscall.SIGKILL), *result.Signal)
}

func TestClassifyFileSizeLimit(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonFileSize, signaledErr(syscall.SIGKILL), nil, g, 0)
	require.Equal(t, types.StatusFileSizeLimit, result.Status)
}

func TestClassifySecurityViolation(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonNone, signaledErr(syscall.SIGSYS), nil, g, 0)
	require.Equal(t, types.StatusSecurityViolation, result.Status)
}

func TestClassifyMemoryEvidenceOutranksRecordedWallReason(t *testing.T) {
	g := fakeGroup(t)
	writeCounter(t, g, "memory", "memory.max_usage_in_bytes", "33554432")

	cfg := types.IsolateConfig{MemoryLimitBytes: 16 * 1024 * 1024}
	result := classify(cfg, reasonWall, signaledErr(syscall.SIGKILL), nil, g, 0)
	require.Equal(t, types.StatusMemoryLimit, result.Status)
}

func TestClassifyProcessLimitReached(t *testing.T) {
	g := fakeGroup(t)
	writeCounter(t, g, "pids", "pids.max", "4")
	writeCounter(t, g, "pids", "pids.current", "4")

	result := classify(types.IsolateConfig{}, reasonWall, signaledErr(syscall.SIGKILL), nil, g, 0)
	require.Equal(t, types.StatusProcessLimit, result.Status)
}

func TestClassifyPlainSignaled(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonNone, signaledErr(syscall.SIGSEGV), nil, g, 0)
	require.Equal(t, types.StatusSignaled, result.Status)
}

func TestClassifyRuntimeError(t *testing.T) {
	g := testGroup(t)
	result := classify(types.IsolateConfig{}, reasonNone, exitedErr(7), nil, g, 0)
	require.Equal(t, types.StatusRuntimeError, result.Status)
	require.Equal(t, 7, *result.ExitCode)
}

var errBoom = &fakeWaitErr{msg: "boom"}

func TestDrainBoundedTruncatesAtLimit(t *testing.T) {
	data := strings.Repeat("x", 100)
	var buf bytes.Buffer
	exceeded := false
	var wg sync.WaitGroup
	wg.Add(1)
	drainBounded(&wg, strings.NewReader(data), &buf, 10, func() { exceeded = true })
	require.True(t, exceeded)
	require.Equal(t, 10, buf.Len())
}

func TestDrainBoundedNoLimit(t *testing.T) {
	data := "hello world"
	var buf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(1)
	drainBounded(&wg, strings.NewReader(data), &buf, 0, func() { t.Fatal("should not exceed") })
	require.Equal(t, data, buf.String())
}
