// Package version holds build metadata injected with -ldflags.
package version

// Version is overridden at build time: -ldflags "-X github.com/aristath/coinfolio/internal/version.Version=v1.2.3"
var Version = "dev"
