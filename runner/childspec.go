// Package runner implements the executor: spawning the supervised child,
// wiring its stdio, attaching it to the cgroup before it can allocate,
// watchdogging wall time, polling CPU time, and harvesting a final
// ExecutionResult regardless of how the run ended.
package runner

import (
	"encoding/json"
	"io"

	"github.com/isobox/isobox/types"
)

// ChildSpec is the immutable, JSON-serializable message that crosses the
// process boundary to the re-exec'd child: everything __init needs to
// finish namespace setup, build the jail, drop privileges, install the
// syscall filter, and execve the target.
type ChildSpec struct {
	Argv []string `json:"argv"`
	Env  []string `json:"env"`

	ChrootDir     string `json:"chroot_dir"`
	WorkDir       string `json:"workdir"`
	AllowJailExec bool   `json:"allow_jail_exec"`

	UID *int `json:"uid,omitempty"`
	GID *int `json:"gid,omitempty"`

	SeccompProfile types.SeccompProfile `json:"seccomp_profile"`
	Namespaces     types.NamespaceConfig `json:"namespaces"`
	EnableNetwork  bool                  `json:"enable_network"`
}

// Encode writes the spec as one JSON document.
func (c ChildSpec) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(c)
}

// DecodeChildSpec reads one ChildSpec from r.
func DecodeChildSpec(r io.Reader) (ChildSpec, error) {
	var c ChildSpec
	err := json.NewDecoder(r).Decode(&c)
	return c, err
}
