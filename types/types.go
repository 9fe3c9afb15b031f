// Package types holds the configuration and result records shared across
// the isolation engine: IsolateConfig in, ExecutionResult out, plus the
// status taxonomy and registry/lock record shapes persisted to disk.
package types

import "time"

// SeccompProfile selects the per-language syscall allowlist extension.
type SeccompProfile string

const (
	ProfileDefault    SeccompProfile = "default"
	ProfilePython     SeccompProfile = "python"
	ProfileJavaScript SeccompProfile = "javascript"
	ProfileJava       SeccompProfile = "java"
	ProfileC          SeccompProfile = "c"
	ProfileGo         SeccompProfile = "go"
	ProfileRust       SeccompProfile = "rust"
	ProfileDisabled   SeccompProfile = "disabled"
)

// EnvVar is one NAME=VALUE pair of the child's environment.
type EnvVar struct {
	Name  string
	Value string
}

// EnvVars is an ordered list of environment variables.
type EnvVars []EnvVar

// ToStringArray renders the list as "NAME=VALUE" entries in order, the
// shape os/exec.Cmd.Env expects.
func (e EnvVars) ToStringArray() []string {
	out := make([]string, 0, len(e))
	for _, v := range e {
		out = append(out, v.Name+"="+v.Value)
	}
	return out
}

// NamespaceConfig selects which namespaces the child enters. Defaults per
// the engine: PID, Mount, Network true; User false.
type NamespaceConfig struct {
	PID     bool
	Mount   bool
	Network bool
	User    bool
}

// DefaultNamespaceConfig returns the engine's documented defaults.
func DefaultNamespaceConfig() NamespaceConfig {
	return NamespaceConfig{PID: true, Mount: true, Network: true, User: false}
}

// IsolateConfig is the immutable per-run input to Init/Run.
type IsolateConfig struct {
	InstanceID string `json:"instance_id"`
	WorkDir    string `json:"workdir"`
	ChrootDir  string `json:"chroot_dir,omitempty"`

	UID *int `json:"uid,omitempty"`
	GID *int `json:"gid,omitempty"`

	MemoryLimitBytes uint64 `json:"memory_limit_bytes,omitempty"`

	CPUTimeLimit  time.Duration `json:"cpu_time_limit"`
	WallTimeLimit time.Duration `json:"wall_time_limit"`

	ProcessLimit       int   `json:"process_limit"`
	FileSizeLimitBytes int64 `json:"file_size_limit_bytes"`

	EnableNetwork bool    `json:"enable_network"`
	Environment   EnvVars `json:"environment"`

	SeccompProfile SeccompProfile  `json:"seccomp_profile"`
	Namespaces     NamespaceConfig `json:"namespaces"`

	StrictMode bool   `json:"strict_mode"`
	StdinData  []byte `json:"stdin_data,omitempty"`

	// AllowJailExec permits MS_EXEC inside the bind-mounted workdir;
	// default false per the filesystem jail's hardening flags.
	AllowJailExec bool `json:"allow_jail_exec,omitempty"`
}

// Defaults fills in the documented defaults for zero-valued fields.
func (c *IsolateConfig) Defaults() {
	if c.CPUTimeLimit == 0 {
		c.CPUTimeLimit = 10 * time.Second
	}
	if c.WallTimeLimit == 0 {
		c.WallTimeLimit = 20 * time.Second
	}
	if c.ProcessLimit == 0 {
		c.ProcessLimit = 1
	}
	if c.FileSizeLimitBytes == 0 {
		c.FileSizeLimitBytes = 64 * 1024 * 1024
	}
	if c.SeccompProfile == "" {
		c.SeccompProfile = ProfileDefault
	}
	var zero NamespaceConfig
	if c.Namespaces == zero {
		c.Namespaces = DefaultNamespaceConfig()
	}
}

// Overrides carries per-call limit overrides accepted by run().
type Overrides struct {
	CPUTimeLimit  *time.Duration
	MemoryLimit   *uint64
	WallTimeLimit *time.Duration
}

// Apply returns a copy of cfg with any non-nil override field applied.
func (o Overrides) Apply(cfg IsolateConfig) IsolateConfig {
	if o.CPUTimeLimit != nil {
		cfg.CPUTimeLimit = *o.CPUTimeLimit
	}
	if o.MemoryLimit != nil {
		cfg.MemoryLimitBytes = *o.MemoryLimit
	}
	if o.WallTimeLimit != nil {
		cfg.WallTimeLimit = *o.WallTimeLimit
	}
	return cfg
}

// Status is the tagged outcome of one execute. Exactly one applies.
type Status string

const (
	StatusSuccess           Status = "Success"
	StatusTimeLimit         Status = "TimeLimit"
	StatusMemoryLimit       Status = "MemoryLimit"
	StatusRuntimeError      Status = "RuntimeError"
	StatusInternalError     Status = "InternalError"
	StatusSignaled          Status = "Signaled"
	StatusSecurityViolation Status = "SecurityViolation"
	StatusProcessLimit      Status = "ProcessLimit"
	StatusFileSizeLimit     Status = "FileSizeLimit"
)

// ExitCode maps a Status to the front-end process exit code per the
// engine's documented exit-code mapping. childExit is the child's own exit
// code, used verbatim for RuntimeError when non-zero.
func (s Status) ExitCode(childExit int) int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusRuntimeError:
		if childExit != 0 {
			return childExit
		}
		return 1
	case StatusTimeLimit:
		return 2
	case StatusMemoryLimit:
		return 3
	case StatusSecurityViolation:
		return 4
	case StatusInternalError:
		return 5
	default:
		return 1
	}
}

// ExecutionResult is the output of one run, JSON-tagged exactly as the
// result-serialization contract requires.
type ExecutionResult struct {
	ExitCode *int   `json:"exit_code,omitempty"`
	Status   Status `json:"status"`

	Stdout []byte `json:"stdout"`
	Stderr []byte `json:"stderr"`

	CPUTimeSeconds  float64 `json:"cpu_time_seconds"`
	WallTimeSeconds float64 `json:"wall_time_seconds"`
	MemoryPeakBytes uint64  `json:"memory_peak_bytes"`

	Signal *int `json:"signal,omitempty"`

	Success bool `json:"success"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// Finalize sets Success from Status, the invariant the spec ties the two
// fields together with.
func (r *ExecutionResult) Finalize() {
	r.Success = r.Status == StatusSuccess
}

// InstanceRecord is one entry of the host-global registry.
type InstanceRecord struct {
	Config     IsolateConfig `json:"config"`
	CreatedAt  time.Time     `json:"created_at"`
	LastUsedAt time.Time     `json:"last_used_at"`
}

// InstanceSummary is the snapshot shape returned by list().
type InstanceSummary struct {
	InstanceID string    `json:"instance_id"`
	WorkDir    string    `json:"workdir"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// LockRecord is the content of a per-instance lock file.
type LockRecord struct {
	Magic         string    `json:"magic"`
	OwnerUID      int       `json:"owner_uid"`
	PID           int       `json:"pid"`
	CreatedAt     time.Time `json:"created_at"`
	IsInitialized bool      `json:"is_initialized"`
}

// LockMagic identifies a well-formed lock record, guarding against reading
// a garbage or foreign file as a lock.
const LockMagic = "isobox-lock-v1"
