package runner

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/isobox/isobox/cgroup"
	"github.com/isobox/isobox/logger"
	"github.com/isobox/isobox/types"
)

// killReason records which limit first triggered termination, so exit
// translation can classify the result correctly once the process has
// actually exited.
type killReason int32

const (
	reasonNone killReason = iota
	reasonWall
	reasonCPU
	reasonFileSize
	reasonExternal
)

// cpuPollInterval is how often the CPU-time poller reads cpuacct.usage.
// The wall-time watchdog is a timer and does not poll.
const cpuPollInterval = 50 * time.Millisecond

// Run executes argv under cfg's isolation policy: attaches a cgroup,
// spawns the re-exec'd child, drains stdio under the file-size limit,
// watches wall time and polls CPU time, and always harvests a final
// ExecutionResult, regardless of how the run ended.
func Run(ctx context.Context, cfg types.IsolateConfig, argv []string) (*types.ExecutionResult, error) {
	cfg.Defaults()

	group, err := cgroup.New(cfg.InstanceID, cfg.StrictMode)
	if err != nil {
		return nil, err
	}
	defer func() {
		if derr := group.Destroy(); derr != nil {
			logger.Log.Warn("cgroup teardown incomplete", "instance_id", cfg.InstanceID, "error", derr)
		}
	}()

	if err := group.ApplyLimits(cgroup.Limits{MemoryLimitBytes: cfg.MemoryLimitBytes, ProcessLimit: cfg.ProcessLimit}); err != nil {
		return nil, err
	}

	spec := ChildSpec{
		Argv:           argv,
		Env:            cfg.Environment.ToStringArray(),
		ChrootDir:      cfg.ChrootDir,
		WorkDir:        cfg.WorkDir,
		AllowJailExec:  cfg.AllowJailExec,
		UID:            cfg.UID,
		GID:            cfg.GID,
		SeccompProfile: cfg.SeccompProfile,
		Namespaces:     cfg.Namespaces,
		EnableNetwork:  cfg.EnableNetwork,
	}

	spawned, err := Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}

	var reason atomic.Int32
	killOnce := sync.Once{}
	kill := func(r killReason) {
		killOnce.Do(func() {
			reason.Store(int32(r))
			pgid := spawned.Cmd.Process.Pid
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
			time.AfterFunc(100*time.Millisecond, func() {
				_ = syscall.Kill(-pgid, syscall.SIGKILL)
			})
		})
	}

	if err := spawned.Release(group.AddTask); err != nil {
		kill(reasonExternal)
		_, _ = spawned.Cmd.Process.Wait()
		return nil, err
	}

	if len(cfg.StdinData) > 0 {
		_, _ = spawned.StdinWriter.Write(cfg.StdinData)
	}
	_ = spawned.StdinWriter.Close()

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go drainBounded(&wg, spawned.StdoutReader, &stdout, cfg.FileSizeLimitBytes, func() { kill(reasonFileSize) })
	go drainBounded(&wg, spawned.StderrReader, &stderr, cfg.FileSizeLimitBytes, func() { kill(reasonFileSize) })

	watchdogDone := make(chan struct{})
	watchdogTimer := time.AfterFunc(cfg.WallTimeLimit, func() {
		kill(reasonWall)
		close(watchdogDone)
	})
	defer watchdogTimer.Stop()

	cpuPollCtx, cancelCPUPoll := context.WithCancel(ctx)
	defer cancelCPUPoll()
	go pollCPU(cpuPollCtx, group, cfg.CPUTimeLimit, func() { kill(reasonCPU) })

	preExecErr := spawned.WaitPreExecError()

	start := time.Now()
	waitErr := spawned.Cmd.Wait()
	wallElapsed := time.Since(start)

	cancelCPUPoll()
	watchdogTimer.Stop()
	select {
	case <-watchdogDone:
	default:
	}

	wg.Wait()

	result := classify(cfg, killReason(reason.Load()), waitErr, preExecErr, group, wallElapsed)
	result.Stdout = stdout.Bytes()
	result.Stderr = stderr.Bytes()
	result.Finalize()
	return result, nil
}

func drainBounded(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, limit int64, onExceed func()) {
	defer wg.Done()
	if limit <= 0 {
		_, _ = io.Copy(buf, r)
		return
	}
	limited := io.LimitReader(r, limit+1)
	n, _ := io.Copy(buf, limited)
	if n > limit {
		buf.Truncate(int(limit))
		onExceed()
	}
	// Drain the rest to avoid blocking the child on a full pipe, but
	// discard it — only the first `limit` bytes are ever reported.
	_, _ = io.Copy(io.Discard, r)
}

func pollCPU(ctx context.Context, group *cgroup.Group, limit time.Duration, onExceed func()) {
	if limit <= 0 {
		return
	}
	ticker := time.NewTicker(cpuPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Duration(group.CPUTimeSeconds()*float64(time.Second)) > limit {
				onExceed()
				return
			}
		}
	}
}

func classify(cfg types.IsolateConfig, reason killReason, waitErr, preExecErr error, group *cgroup.Group, wallElapsed time.Duration) *types.ExecutionResult {
	result := &types.ExecutionResult{
		WallTimeSeconds: wallElapsed.Seconds(),
		CPUTimeSeconds:  group.CPUTimeSeconds(),
		MemoryPeakBytes: group.PeakMemoryBytes(),
	}

	if preExecErr != nil {
		result.Status = types.StatusInternalError
		result.ErrorMessage = preExecErr.Error()
		return result
	}

	var ws syscall.WaitStatus
	if waitErr == nil {
		ws = syscall.WaitStatus(0)
	} else if se, ok := unwrapWaitStatus(waitErr); ok {
		ws = se
	}

	switch {
	case ws.Signaled():
		sig := int(ws.Signal())
		result.Signal = &sig
		// Tie-break order per the engine's conclusive-evidence-first
		// policy: memory, pids, cpu, wall, file-size. Cgroup counters are
		// checked ahead of the watchdog's own recorded reason, since two
		// limits can both be near their edge in the same poll window and
		// the cgroup counters are the more authoritative signal.
		switch {
		case group.MemoryLimitReached(cfg.MemoryLimitBytes) || group.OOMKilled():
			result.Status = types.StatusMemoryLimit
		case group.ProcessLimitReached():
			result.Status = types.StatusProcessLimit
		case reason == reasonCPU:
			result.Status = types.StatusTimeLimit
		case reason == reasonWall:
			result.Status = types.StatusTimeLimit
		case reason == reasonFileSize:
			result.Status = types.StatusFileSizeLimit
		case ws.Signal() == syscall.SIGSYS:
			result.Status = types.StatusSecurityViolation
		default:
			result.Status = types.StatusSignaled
		}
	case ws.Exited():
		code := ws.ExitStatus()
		result.ExitCode = &code
		if code == 0 {
			result.Status = types.StatusSuccess
		} else {
			result.Status = types.StatusRuntimeError
		}
	default:
		result.Status = types.StatusInternalError
		if waitErr != nil {
			result.ErrorMessage = waitErr.Error()
		}
	}
	return result
}

func unwrapWaitStatus(err error) (syscall.WaitStatus, bool) {
	type exitStatuser interface {
		Sys() interface{}
	}
	// *exec.ExitError embeds *os.ProcessState, which implements Sys()
	// interface{} returning syscall.WaitStatus on linux.
	if ee, ok := err.(interface{ Sys() interface{} }); ok {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			return ws, true
		}
	}
	return 0, false
}
