package jail

import (
	"path/filepath"
	"strings"

	"github.com/isobox/isobox/isoerr"
)

// forbiddenPrefixes names host directories an externally supplied path
// must never name or traverse into, per the filesystem jail's path
// validation rule.
var forbiddenPrefixes = []string{"/proc", "/sys", "/dev", "/etc"}

// ValidatePath rejects any externally supplied path (e.g. an input-file
// argument) that names or traverses into /proc, /sys, /dev, the host's
// /etc, or escapes workDir via "..". workDir must be an absolute path.
//
// This is the rule for paths that are themselves arguments to the jailed
// program and so must already resolve inside workDir. It is the wrong
// check for a host path being copied into the jail (see
// ValidateHostSource) — that path lives outside workDir by definition.
func ValidatePath(path, workDir string) error {
	if err := validateForbidden(path); err != nil {
		return err
	}

	clean := filepath.Clean(path)
	if filepath.IsAbs(clean) {
		absWorkDir := filepath.Clean(workDir)
		if clean != absWorkDir && !strings.HasPrefix(clean, absWorkDir+"/") {
			return isoerr.WrapWithDetail(nil, isoerr.Filesystem, "ValidatePath", "path escapes workdir: "+path)
		}
	}

	return nil
}

// ValidateHostSource rejects a host path named or traversing into /proc,
// /sys, /dev, or the host's /etc, or containing a ".." segment. It is
// the check for a source file the caller wants copied into an instance's
// workdir before execution — unlike ValidatePath, it does not require
// the path to already live under any particular directory, since the
// whole point is to bring an arbitrary host file in.
func ValidateHostSource(path string) error {
	return validateForbidden(path)
}

func validateForbidden(path string) error {
	if strings.Contains(path, "..") {
		return isoerr.WrapWithDetail(nil, isoerr.Filesystem, "validateForbidden", "path contains a \"..\" segment: "+path)
	}

	clean := filepath.Clean(path)
	for _, prefix := range forbiddenPrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+"/") {
			return isoerr.WrapWithDetail(nil, isoerr.Filesystem, "validateForbidden", "path traverses into "+prefix+": "+path)
		}
	}
	return nil
}
