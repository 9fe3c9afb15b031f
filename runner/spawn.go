package runner

import (
	"context"
	"os"
	"os/exec"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/nsjail"
)

// initArg is the hidden subcommand name the re-exec'd binary dispatches
// on; cmd/isobox never exposes it as user-facing help text.
const initArg = "__init"

// Spawned bundles a started child process together with the pipes the
// executor needs to finish synchronizing, draining output, and detecting
// a pre-exec failure.
type Spawned struct {
	Cmd *exec.Cmd

	syncWriteFD int
	errno       *nsjail.ErrnoPipe
	userNS      bool

	StdinWriter  *os.File
	StdoutReader *os.File
	StderrReader *os.File
}

// Spawn starts the child: it re-execs the current binary with the hidden
// __init argument, inheriting three extra fds (config pipe, sync pipe
// read end, errno pipe write end) and three stdio pipes. The child blocks
// immediately on the sync pipe until Release is called.
func Spawn(ctx context.Context, spec ChildSpec) (*Spawned, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "os.Executable")
	}

	cmd := exec.CommandContext(ctx, self, initArg)
	cmd.SysProcAttr = nsjail.BuildSysProcAttr(spec.Namespaces)

	configR, configW, err := os.Pipe()
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "config pipe")
	}

	syncRFD, syncWFD, err := nsjail.MakeSyncPipe()
	if err != nil {
		_ = configR.Close()
		_ = configW.Close()
		return nil, isoerr.Wrap(err, isoerr.Process, "sync pipe")
	}
	syncRFile := os.NewFile(uintptr(syncRFD), "sync-r")

	errnoPipe, err := nsjail.NewErrnoPipe()
	if err != nil {
		_ = configR.Close()
		_ = configW.Close()
		syncRFile.Close()
		return nil, isoerr.Wrap(err, isoerr.Process, "errno pipe")
	}
	errnoWFile := os.NewFile(uintptr(errnoPipe.WriteFD()), "errno-w")

	cmd.ExtraFiles = []*os.File{configR, syncRFile, errnoWFile}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "stdin pipe")
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "stderr pipe")
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return nil, isoerr.Wrap(err, isoerr.Process, "start child")
	}

	// Close the parent's copies of every fd now owned (dup'd) by the
	// child, so EOF/close semantics on the parent's remaining ends work.
	_ = configR.Close()
	syncRFile.Close()
	errnoWFile.Close()
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	if err := spec.Encode(configW); err != nil {
		_ = configW.Close()
		return nil, isoerr.Wrap(err, isoerr.Process, "write child spec")
	}
	_ = configW.Close()

	return &Spawned{
		Cmd:          cmd,
		syncWriteFD:  syncWFD,
		errno:        errnoPipe,
		userNS:       spec.Namespaces.User,
		StdinWriter:  stdinW,
		StdoutReader: stdoutR,
		StderrReader: stderrR,
	}, nil
}

// Release attaches the child's PID to the cgroup hierarchies, writes its
// ID mappings if it was created in a new user namespace, then signals it
// to continue. Mappings must be written from the parent before the child
// is released, since only the parent can write /proc/<pid>/{u,g}id_map.
func (s *Spawned) Release(attach func(pid int) error) error {
	if attach != nil {
		if err := attach(s.Cmd.Process.Pid); err != nil {
			return err
		}
	}
	if s.userNS {
		if err := nsjail.SetupIDMappings(s.Cmd.Process.Pid); err != nil {
			return err
		}
	}
	return nsjail.SignalChild(s.syncWriteFD)
}

// WaitPreExecError blocks until the child either reports a pre-exec
// failure or reaches execve (observed as EOF on the close-on-exec pipe).
func (s *Spawned) WaitPreExecError() error {
	return s.errno.ReadError()
}
