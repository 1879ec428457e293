// Package version derives the build identity reported by the health
// endpoint and the startup log. The commit comes from -ldflags when set
// (container builds without .git), otherwise from the module's VCS build
// info, otherwise "dev".
package version

import "runtime/debug"

// AppName prefixes version strings, e.g. "lattice/a3f8c2d1".
const AppName = "lattice"

// gitCommitOverride is set via -ldflags at build time. Empty means no
// override.
var gitCommitOverride string

// GitCommit is the short commit hash (8 chars), or "dev" when no build info
// is available (go test, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "lattice/<commit>" for health output and logging.
func Full() string {
	return AppName + "/" + GitCommit
}
