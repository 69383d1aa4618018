// Package version carries build identification, stamped via ldflags:
//
//	-X github.com/ethsim/tx-simulator/internal/version.Release=v1.2.3
//	-X github.com/ethsim/tx-simulator/internal/version.GitCommit=abc1234
package version

import (
	"fmt"
	"runtime"
)

var (
	// Release is the release version, "dev" for unstamped builds.
	Release = "dev"

	// GitCommit is the short git commit hash.
	GitCommit = "unknown"
)

// Full renders the complete version line, including the Go runtime and
// platform the binary was built for.
func Full() string {
	return fmt.Sprintf("%s (commit %s, %s, %s/%s)",
		Release, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
