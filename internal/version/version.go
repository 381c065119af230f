// Package version carries build-time identification of the codesync
// binary. The variables are overridden at build time via -ldflags.
package version

// Version is the semantic version of the binary.
var Version = "dev"

// Commit is the Git commit the binary was built from.
var Commit = "unknown"

// Date is the build timestamp.
var Date = "unknown"
