// Package version provides build version information for the library.
// This is a separate package to avoid import cycles between the client and
// its internal packages.
package version

// Version is the library version string, set by ldflags for tagged builds.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.9.0"
