// Package version holds the build version of exp-optimizer.
package version

// Version is overridden at build time with
// -ldflags "-X github.com/determined-ai/expoptimizer/version.Version=<version>".
var Version = "dev"
