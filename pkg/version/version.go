// Package version contains build-time version information, populated via
// ldflags.
package version

// Version is the release version of the kubengine build.
var Version = "devel"

// Commit is the git commit the build was produced from.
var Commit = "unknown"
