package seccomp

import (
	"github.com/isobox/isobox/types"
)

// Install applies the syscall filter to the calling process (meant to be
// called from the child's pre-exec path, after namespace/jail setup and
// the UID/GID change, immediately before execve). The native fallback is
// always installed, even for profile "disabled" — the engine must never
// silently run without a filter — and the library-compiled per-profile
// allowlist layers on top when this binary was built with the seccomp
// tag. "disabled" only opts out of that second, stricter layer.
func Install(profile types.SeccompProfile) error {
	if err := installNativeFilter(); err != nil {
		return err
	}

	if profile == types.ProfileDisabled {
		return nil
	}

	if HasLibrary {
		if err := installLibraryFilter(profile); err != nil {
			return err
		}
	}
	return nil
}
