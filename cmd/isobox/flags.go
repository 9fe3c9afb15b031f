//go:build linux

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/inhies/go-bytesize"
	"github.com/urfave/cli/v3"

	"github.com/isobox/isobox/isoerr"
	"github.com/isobox/isobox/types"
)

// hostnameGenerator mints a readable default hostname (e.g. "frosty-lake")
// for runs that don't set one explicitly. Seeded once at process start;
// not used for anything security-sensitive.
var hostnameGenerator = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())

// isolateFlags are the init command's flags, mirroring the sandboxing
// knobs the engine's configuration exposes.
var isolateFlags = []cli.Flag{
	&cli.StringFlag{Name: "workdir", Usage: "Host directory bind-mounted as the sandbox's /box"},
	&cli.StringFlag{Name: "chroot-dir", Usage: "Host directory used as the chroot root (no default is applied when unset)"},
	&cli.StringFlag{Name: "memory", Value: "256MB", Usage: "Memory limit (e.g., 64MB, 1GB)"},
	&cli.DurationFlag{Name: "cpu-time", Value: 10 * time.Second, Usage: "CPU time limit"},
	&cli.DurationFlag{Name: "wall-time", Value: 20 * time.Second, Usage: "Wall clock time limit"},
	&cli.IntFlag{Name: "process-limit", Value: 1, Usage: "Maximum live processes/threads"},
	&cli.StringFlag{Name: "file-size-limit", Value: "64MB", Usage: "Maximum size captured from each of stdout and stderr"},
	&cli.BoolFlag{Name: "network", Value: false, Usage: "Enable the network namespace's loopback"},
	&cli.StringSliceFlag{Name: "env", Usage: "Sets an environment variable as KEY=VALUE in the sandbox"},
	&cli.StringFlag{Name: "seccomp-profile", Value: "default", Usage: "Syscall allowlist extension (default|python|javascript|java|c|go|rust|disabled)"},
	&cli.BoolFlag{Name: "pid-ns", Value: true, Usage: "Enter a new PID namespace"},
	&cli.BoolFlag{Name: "mount-ns", Value: true, Usage: "Enter a new mount namespace"},
	&cli.BoolFlag{Name: "net-ns", Value: true, Usage: "Enter a new network namespace"},
	&cli.BoolFlag{Name: "user-ns", Value: false, Usage: "Enter a new user namespace"},
	&cli.BoolFlag{Name: "strict", Value: false, Usage: "Fail instead of degrading when a cgroup hierarchy is unavailable"},
	&cli.IntFlag{Name: "uid", Value: -1, Usage: "UID to run the child as (-1 keeps the caller's UID)"},
	&cli.IntFlag{Name: "gid", Value: -1, Usage: "GID to run the child as (-1 keeps the caller's GID)"},
	&cli.BoolFlag{Name: "allow-jail-exec", Value: false, Usage: "Permit executing files bind-mounted from the workdir"},
	&cli.StringFlag{Name: "hostname", Usage: "HOSTNAME exported into the sandbox's environment (default: a generated name)"},
}

func buildIsolateConfig(c *cli.Command) (types.IsolateConfig, error) {
	var cfg types.IsolateConfig

	mem, err := bytesize.Parse(c.String("memory"))
	if err != nil {
		return cfg, fmt.Errorf("bad --memory %q: %w", c.String("memory"), err)
	}
	cfg.MemoryLimitBytes = uint64(mem)

	fsz, err := bytesize.Parse(c.String("file-size-limit"))
	if err != nil {
		return cfg, fmt.Errorf("bad --file-size-limit %q: %w", c.String("file-size-limit"), err)
	}
	cfg.FileSizeLimitBytes = int64(fsz)

	cfg.WorkDir = c.String("workdir")
	cfg.ChrootDir = c.String("chroot-dir")
	cfg.CPUTimeLimit = c.Duration("cpu-time")
	cfg.WallTimeLimit = c.Duration("wall-time")
	cfg.ProcessLimit = int(c.Int("process-limit"))
	cfg.EnableNetwork = c.Bool("network")
	cfg.StrictMode = c.Bool("strict")
	cfg.AllowJailExec = c.Bool("allow-jail-exec")

	profile := types.SeccompProfile(strings.ToLower(c.String("seccomp-profile")))
	switch profile {
	case types.ProfileDefault, types.ProfilePython, types.ProfileJavaScript, types.ProfileJava,
		types.ProfileC, types.ProfileGo, types.ProfileRust, types.ProfileDisabled:
		cfg.SeccompProfile = profile
	default:
		return cfg, isoerr.WrapWithDetail(nil, isoerr.Config, "buildIsolateConfig", "unknown --seccomp-profile: "+string(profile))
	}

	cfg.Namespaces = types.NamespaceConfig{
		PID:     c.Bool("pid-ns"),
		Mount:   c.Bool("mount-ns"),
		Network: c.Bool("net-ns"),
		User:    c.Bool("user-ns"),
	}

	if uid := int(c.Int("uid")); uid >= 0 {
		cfg.UID = &uid
	}
	if gid := int(c.Int("gid")); gid >= 0 {
		cfg.GID = &gid
	}

	for _, e := range c.StringSlice("env") {
		idx := strings.IndexByte(e, '=')
		if idx < 0 {
			return cfg, fmt.Errorf("bad --env %q: expected KEY=VALUE", e)
		}
		cfg.Environment = append(cfg.Environment, types.EnvVar{Name: e[:idx], Value: e[idx+1:]})
	}

	hostname := c.String("hostname")
	if hostname == "" {
		hostname = hostnameGenerator.Generate()
	}
	cfg.Environment = append(cfg.Environment, types.EnvVar{Name: "HOSTNAME", Value: hostname})

	return cfg, nil
}

func parseOverrides(c *cli.Command) (types.Overrides, error) {
	var o types.Overrides
	if c.IsSet("override-cpu-time") {
		d := c.Duration("override-cpu-time")
		o.CPUTimeLimit = &d
	}
	if c.IsSet("override-wall-time") {
		d := c.Duration("override-wall-time")
		o.WallTimeLimit = &d
	}
	if c.IsSet("override-memory") {
		mem, err := bytesize.Parse(c.String("override-memory"))
		if err != nil {
			return o, fmt.Errorf("bad --override-memory %q: %w", c.String("override-memory"), err)
		}
		v := uint64(mem)
		o.MemoryLimit = &v
	}
	return o, nil
}

var overrideFlags = []cli.Flag{
	&cli.DurationFlag{Name: "override-cpu-time", Usage: "Override the instance's CPU time limit for this run"},
	&cli.DurationFlag{Name: "override-wall-time", Usage: "Override the instance's wall time limit for this run"},
	&cli.StringFlag{Name: "override-memory", Usage: "Override the instance's memory limit for this run"},
}
