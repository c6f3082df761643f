// Package version exposes build metadata injected through -ldflags, e.g.
//
//	go build -ldflags "-X github.com/bdobrica/Sohayok/common/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the semantic version of the build.
	Version = "v0.0.0-dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info returns a one-line description suitable for logs and `sohayok version`.
func Info() string {
	return fmt.Sprintf("sohayok %s (%s) built at %s", Version, GitCommit, BuildTime)
}
