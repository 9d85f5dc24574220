// Package version holds the build version of the proxy.
package version

// Version is the current release version. Overridden at build time via
// -ldflags "-X github.com/jleechanorg/codex-plus/internal/version.Version=x.y.z".
var Version = "1.0.0"
