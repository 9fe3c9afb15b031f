// Package caps drops Linux capabilities in the child's pre-exec path. A
// judge sandbox has no legitimate use for any capability once the chroot
// and UID/GID drop are done, so the default set is empty; callers may add
// back specific capabilities a language profile genuinely needs.
package caps

import (
	"strings"

	"github.com/moby/sys/capability"

	"github.com/isobox/isobox/isoerr"
)

// Set is a small capability-name set.
type Set map[capability.Cap]struct{}

// Add inserts capabilities into the set.
func (s Set) Add(ids ...capability.Cap) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Remove deletes capabilities from the set.
func (s Set) Remove(ids ...capability.Cap) {
	for _, id := range ids {
		delete(s, id)
	}
}

// Slice copies the set out as a slice.
func (s Set) Slice() []capability.Cap {
	out := make([]capability.Cap, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Opts configures one process's final capability sets: defaultSet (empty)
// plus Add, minus Drop.
type Opts struct {
	Add  Set
	Drop Set
}

func normalize(name string) string {
	s := strings.TrimSpace(strings.ToLower(name))
	return strings.TrimPrefix(s, "cap_")
}

var capNameToID = func() map[string]capability.Cap {
	m := make(map[string]capability.Cap)
	for _, c := range capability.ListKnown() {
		m[c.String()] = c
	}
	return m
}()

// FromName resolves a capability name (with or without the CAP_ prefix)
// to its ID.
func FromName(name string) (capability.Cap, error) {
	id, ok := capNameToID[normalize(name)]
	if !ok {
		return 0, isoerr.WrapWithDetail(nil, isoerr.Config, "caps.FromName", "unknown capability: "+name)
	}
	return id, nil
}

// buildFinalSet computes Add minus Drop over an empty base — the judge
// sandbox runs with no capabilities unless a caller explicitly requests
// one.
func (o Opts) buildFinalSet() Set {
	final := make(Set)
	final.Add(o.Add.Slice()...)
	final.Remove(o.Drop.Slice()...)
	return final
}

// Apply clears every capability set on the current process and installs
// only the final computed set (Add minus Drop over an empty base),
// dropping ambient capabilities unconditionally. Must run after the
// UID/GID change and before the seccomp filter is installed, per the
// executor's pre-exec ordering.
func (o Opts) Apply() error {
	final := o.buildFinalSet().Slice()

	c, err := capability.NewPid2(0)
	if err != nil {
		return isoerr.Wrap(err, isoerr.Process, "capability.NewPid2")
	}

	c.Clear(capability.BOUNDS)
	c.Set(capability.BOUNDING, final...)

	c.Clear(capability.CAPS)
	c.Set(capability.PERMITTED, final...)
	c.Set(capability.EFFECTIVE, final...)
	c.Set(capability.INHERITABLE, final...)

	c.Clear(capability.AMBIENT)

	if err := c.Apply(capability.CAPS | capability.BOUNDS | capability.AMBIENT); err != nil {
		return isoerr.Wrap(err, isoerr.Process, "apply capabilities")
	}
	return nil
}
