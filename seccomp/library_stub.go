//go:build linux && !seccomp

package seccomp

import "github.com/isobox/isobox/types"

// HasLibrary is false in the default build; only the native fallback
// filter is installed. Build with -tags seccomp to link libseccomp-golang
// and get the rich per-profile allowlist as an additional layer.
const HasLibrary = false

func installLibraryFilter(profile types.SeccompProfile) error {
	return nil
}
