// Package resolver maps a source file's extension to the argv needed to
// build (if required) and run it inside the sandbox, the default
// language profile execute_source falls back on when the caller supplies
// none of its own.
package resolver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/isobox/isobox/isoerr"
)

// Resolve returns the argv to execute sourcePath with, inferred from its
// extension. Compiled languages are built with a throwaway output path
// next to the source and invoked via "sh -c" so the build step and the
// run step share one process tree entry.
func Resolve(sourcePath string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	dir := filepath.Dir(sourcePath)
	base := strings.TrimSuffix(filepath.Base(sourcePath), ext)
	out := filepath.Join(dir, base+".bin")

	switch ext {
	case ".py":
		return []string{"python3", sourcePath}, nil
	case ".js":
		return []string{"node", sourcePath}, nil
	case ".c":
		return []string{"sh", "-c", fmt.Sprintf("gcc -O2 -o %s %s && %s", out, sourcePath, out)}, nil
	case ".cpp", ".cc", ".cxx":
		return []string{"sh", "-c", fmt.Sprintf("g++ -O2 -o %s %s && %s", out, sourcePath, out)}, nil
	case ".go":
		return []string{"sh", "-c", fmt.Sprintf("go build -o %s %s && %s", out, sourcePath, out)}, nil
	case ".rs":
		return []string{"sh", "-c", fmt.Sprintf("rustc -O -o %s %s && %s", out, sourcePath, out)}, nil
	case ".java":
		return []string{"sh", "-c", fmt.Sprintf("cd %s && javac %s && java %s", dir, filepath.Base(sourcePath), base)}, nil
	default:
		return nil, isoerr.WrapWithDetail(nil, isoerr.Config, "resolver.Resolve", "no language profile for extension: "+ext)
	}
}

// ProfileFor maps a source extension to the matching seccomp profile key.
func ProfileFor(sourcePath string) string {
	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".java":
		return "java"
	case ".c", ".cpp", ".cc", ".cxx":
		return "c"
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	default:
		return "default"
	}
}
